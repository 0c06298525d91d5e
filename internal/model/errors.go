package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInputValidation matches every InputValidationError.
	ErrInputValidation = errors.New("invalid input")
	// ErrInvalidAsset matches InputValidationErrors raised for malformed assets.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrDateOutOfRange matches placed-in-service dates the entity cannot own.
	ErrDateOutOfRange = errors.New("date out of range")
	// ErrUnsupportedTaxYear matches lookups for years with no registered table.
	ErrUnsupportedTaxYear = errors.New("unsupported tax year")
	// ErrInvariant matches internal-defect signals.
	ErrInvariant = errors.New("invariant violation")
)

// InputValidationError describes a malformed asset or transaction.
type InputValidationError struct {
	Kind     error // ErrInvalidAsset, ErrDateOutOfRange or nil
	Record   string
	Field    string
	Message  string
	EntityID string
}

func (e *InputValidationError) Error() string {
	prefix := "invalid input"
	if e.Kind != nil {
		prefix = e.Kind.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("%s [%s] %s: %s", prefix, e.Record, e.Field, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", prefix, e.Record, e.Message)
}

// Is matches ErrInputValidation and the error's Kind.
func (e *InputValidationError) Is(target error) bool {
	return target == ErrInputValidation || (e.Kind != nil && target == e.Kind)
}

// InvalidAssetError builds an InputValidationError for an asset.
func InvalidAssetError(assetID, field, msg string) error {
	return &InputValidationError{Kind: ErrInvalidAsset, Record: assetID, Field: field, Message: msg}
}

// DateOutOfRangeError builds an InputValidationError for an asset placed in
// service before its entity existed.
func DateOutOfRangeError(assetID, msg string) error {
	return &InputValidationError{Kind: ErrDateOutOfRange, Record: assetID, Field: "PlacedInService", Message: msg}
}

// UnsupportedTaxYearError reports a missing table for Year.
type UnsupportedTaxYearError struct {
	Year  int
	Table string // "federal", "state LA", ...
}

func (e *UnsupportedTaxYearError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("no tax table registered for %d", e.Year)
	}
	return fmt.Sprintf("no %s tax table registered for %d", e.Table, e.Year)
}

func (e *UnsupportedTaxYearError) Is(target error) bool { return target == ErrUnsupportedTaxYear }

// InvariantViolation is an internal defect: a computed result broke a
// guarantee the engine makes regardless of input.
type InvariantViolation struct {
	Invariant string
	Record    string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %q violated [%s]: %s", e.Invariant, e.Record, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }

// PolicyLimitExceeded is a warning: a requested amount was clamped to the
// legal maximum. It is reported next to results, never returned as an error.
type PolicyLimitExceeded struct {
	Limit     string
	Record    string
	Requested decimal.Decimal
	Allowed   decimal.Decimal
}

func (w PolicyLimitExceeded) Error() string {
	return fmt.Sprintf("%s [%s]: requested %s, allowed %s",
		w.Limit, w.Record, w.Requested.StringFixed(2), w.Allowed.StringFixed(2))
}
