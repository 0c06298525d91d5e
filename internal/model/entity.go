package model

import "time"

// EntityType classifies the legal entities a farm operation files for.
type EntityType string

const (
	EntityTypeFarm             EntityType = "farm"
	EntityTypeEquipmentHolding EntityType = "equipment_holding"
	EntityTypeGrainHolding     EntityType = "grain_holding"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeFarm, EntityTypeEquipmentHolding, EntityTypeGrainHolding:
		return true
	}
	return false
}

// AccountingBasis is the method an entity uses to recognize income and expense.
type AccountingBasis string

const (
	BasisCash    AccountingBasis = "cash"
	BasisAccrual AccountingBasis = "accrual"
)

// Valid reports whether b is a known accounting basis.
func (b AccountingBasis) Valid() bool {
	return b == BasisCash || b == BasisAccrual
}

// DefaultState is used when an entity does not name its state of filing.
const DefaultState = "LA"

// Entity is one of the taxpayer's related businesses.
type Entity struct {
	ID            string          `validate:"required"`
	Name          string          `validate:"required"`
	Type          EntityType      `validate:"required,oneof=farm equipment_holding grain_holding"`
	Basis         AccountingBasis `validate:"required,oneof=cash accrual"`
	TaxID         string          // EIN, optional
	FormationDate time.Time       // zero = unknown
	State         string          // two-letter code; empty = DefaultState
}

// StateCode returns the entity's filing state, falling back to DefaultState.
func (e Entity) StateCode() string {
	if e.State == "" {
		return DefaultState
	}
	return e.State
}
