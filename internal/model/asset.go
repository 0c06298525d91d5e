package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MACRSClass is a GDS property class, named by its recovery period in years.
type MACRSClass int

const (
	Class3Year  MACRSClass = 3
	Class5Year  MACRSClass = 5
	Class7Year  MACRSClass = 7
	Class10Year MACRSClass = 10
	Class15Year MACRSClass = 15
	Class20Year MACRSClass = 20
)

// Classes lists every supported class in ascending recovery period.
var Classes = []MACRSClass{Class3Year, Class5Year, Class7Year, Class10Year, Class15Year, Class20Year}

// Valid reports whether c is a supported class.
func (c MACRSClass) Valid() bool {
	for _, k := range Classes {
		if c == k {
			return true
		}
	}
	return false
}

// RecoveryPeriod returns the class life in years.
func (c MACRSClass) RecoveryPeriod() int { return int(c) }

func (c MACRSClass) String() string { return fmt.Sprintf("%d-year", int(c)) }

// ParseMACRSClass accepts "7", "7-year" or "7 year".
func ParseMACRSClass(s string) (MACRSClass, error) {
	v := strings.TrimSpace(strings.ToLower(s))
	v = strings.TrimSuffix(v, "year")
	v = strings.TrimRight(v, "- ")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("unrecognized MACRS class %q", s)
	}
	c := MACRSClass(n)
	if !c.Valid() {
		return 0, fmt.Errorf("unrecognized MACRS class %q", s)
	}
	return c, nil
}

// Election is the per-asset choice of Section 179 expensing and bonus depreciation.
type Election struct {
	Section179  decimal.Decimal
	BonusOptOut bool
	// BonusRate, when set, is the bonus rate that applied in the
	// placed-in-service year. It replaces the table lookup, so assets from
	// years without a registered table can still be scheduled.
	BonusRate *decimal.Decimal
}

// Asset is a depreciable acquisition owned by one entity.
type Asset struct {
	ID              string          `validate:"required"`
	EntityID        string          `validate:"required"`
	Description     string          `validate:"required"`
	Cost            decimal.Decimal `validate:"dec_positive"`
	PlacedInService time.Time       `validate:"required"`
	Class           MACRSClass      `validate:"macrs_class"`
	AssetType       string          // Equipment, Building, Land Improvement, ...

	// Recorded is the election made when the asset was placed in service.
	// Used for assets from years before the one being computed; nil means
	// no Section 179 and default bonus.
	Recorded *Election

	// DisposedOn is the date the asset was sold or retired; zero while in
	// service. Proceeds is the amount realized.
	DisposedOn time.Time
	Proceeds   decimal.Decimal
}

// Quarter returns the calendar quarter (1-4) the asset was placed in service.
func (a Asset) Quarter() int {
	return (int(a.PlacedInService.Month())-1)/3 + 1
}

// Year returns the placed-in-service year.
func (a Asset) Year() int { return a.PlacedInService.Year() }

// RecordedElection returns the recorded election or the zero election.
func (a Asset) RecordedElection() Election {
	if a.Recorded == nil {
		return Election{}
	}
	return *a.Recorded
}

// IsDisposed reports whether the asset has a disposal date.
func (a Asset) IsDisposed() bool { return !a.DisposedOn.IsZero() }

// DisposedInPlacedYear reports whether the asset left service in the year it
// was placed in service. Such an asset takes no depreciation.
func (a Asset) DisposedInPlacedYear() bool {
	return a.IsDisposed() && a.DisposedOn.Year() == a.Year()
}
