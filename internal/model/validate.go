package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		rules := map[string]validator.Func{
			"dec_positive": func(fl validator.FieldLevel) bool {
				d, ok := fl.Field().Interface().(decimal.Decimal)
				return ok && d.IsPositive()
			},
			"macrs_class": func(fl validator.FieldLevel) bool {
				return MACRSClass(fl.Field().Int()).Valid()
			},
			"schedule_f": func(fl validator.FieldLevel) bool {
				return Category(fl.Field().String()).Valid()
			},
		}
		for tag, fn := range rules {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(fmt.Sprintf("failed to register %s validation: %v", tag, err))
			}
		}
		validate = v
	})
	return validate
}

// ValidateEntity checks an entity record.
func ValidateEntity(e Entity) error {
	return toInputError(getValidator().Struct(e), e.ID, nil)
}

// ValidateAsset checks an asset record. Failures match ErrInvalidAsset.
func ValidateAsset(a Asset) error {
	if err := toInputError(getValidator().Struct(a), a.ID, ErrInvalidAsset); err != nil {
		return err
	}
	if a.Recorded != nil {
		s := a.Recorded.Section179
		if s.IsNegative() || s.GreaterThan(a.Cost) {
			return InvalidAssetError(a.ID, "Recorded.Section179",
				fmt.Sprintf("recorded Section 179 %s outside 0..%s", s.StringFixed(2), a.Cost.StringFixed(2)))
		}
		if r := a.Recorded.BonusRate; r != nil && (r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1))) {
			return InvalidAssetError(a.ID, "Recorded.BonusRate",
				fmt.Sprintf("recorded bonus rate %s outside 0..1", r.String()))
		}
	}
	if a.IsDisposed() {
		if a.DisposedOn.Before(a.PlacedInService) {
			return InvalidAssetError(a.ID, "DisposedOn",
				fmt.Sprintf("disposed %s before placed in service %s", a.DisposedOn.Format("2006-01-02"), a.PlacedInService.Format("2006-01-02")))
		}
		if a.Proceeds.IsNegative() {
			return InvalidAssetError(a.ID, "Proceeds", fmt.Sprintf("negative proceeds %s", a.Proceeds.StringFixed(2)))
		}
	} else if !a.Proceeds.IsZero() {
		return InvalidAssetError(a.ID, "Proceeds", "proceeds without a disposal date")
	}
	return nil
}

// ValidateTransaction checks a transaction record, including that its
// category belongs to its type.
func ValidateTransaction(t Transaction) error {
	if err := toInputError(getValidator().Struct(t), t.ID, nil); err != nil {
		return err
	}
	if t.Category.Type() != t.Type {
		return &InputValidationError{
			Record:  t.ID,
			Field:   "Category",
			Message: fmt.Sprintf("category %s is not an %s category", t.Category, t.Type),
		}
	}
	if t.Prepaid && t.Type != TypeExpense {
		return &InputValidationError{Record: t.ID, Field: "Prepaid", Message: "only expenses can be prepaid"}
	}
	return nil
}

func toInputError(err error, record string, kind error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating %s: %w", record, err)
	}
	fe := verrs[0]
	return &InputValidationError{
		Kind:    kind,
		Record:  record,
		Field:   fe.Field(),
		Message: describe(fe),
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "dec_positive":
		return fmt.Sprintf("must be positive, got %v", fe.Value())
	case "macrs_class":
		return fmt.Sprintf("unrecognized MACRS class %v", fe.Value())
	case "schedule_f":
		return fmt.Sprintf("unknown Schedule F category %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}
