package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"loyalty-rewards-api/internal/models"
	"loyalty-rewards-api/internal/rules"
)

const maxIDLength = 128

var validate = newValidator()

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toValidationError reports the first failed constraint.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid email address"
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		msg = "must be non-negative"
	default:
		msg = fmt.Sprintf("failed %s constraint", fe.Tag())
	}

	return &ValidationError{Field: fe.Field(), Message: msg}
}

func ValidateCustomer(c models.Customer) error {
	if err := validateOptionalID(c.ID); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return toValidationError(err)
	}
	return nil
}

func ValidateBusiness(b models.Business) error {
	if err := validateOptionalID(b.ID); err != nil {
		return err
	}
	if err := validate.Struct(b); err != nil {
		return toValidationError(err)
	}
	return nil
}

func ValidateVisit(v models.Visit) error {
	if err := validateOptionalID(v.ID); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return toValidationError(err)
	}

	if v.Amount.IsNegative() {
		return &ValidationError{
			Field:   "amount",
			Message: "must be non-negative",
		}
	}

	maxFutureTime := time.Now().Add(1 * time.Hour)
	if v.Timestamp.After(maxFutureTime) {
		return &ValidationError{
			Field:   "timestamp",
			Message: "cannot be more than 1 hour in the future",
		}
	}

	return nil
}

func ValidateRewardRule(r rules.RewardRule) error {
	if err := r.Validate(); err != nil {
		field := "Mode"
		if errors.Is(err, rules.ErrInvalidThreshold) {
			field = "VisitsRequired"
		}
		return &ValidationError{Field: field, Message: err.Error()}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateID checks an opaque identifier. Structure is not inspected.
func ValidateID(id, fieldName string) error {
	if SanitizeString(id) == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}
	if len(id) > maxIDLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("must be at most %d characters", maxIDLength),
		}
	}
	return nil
}

func validateOptionalID(id string) error {
	if id == "" {
		return nil
	}
	return ValidateID(id, "id")
}

func SanitizeCustomer(c *models.Customer) {
	c.ID = SanitizeString(c.ID)
	c.Name = SanitizeString(c.Name)
	c.Email = SanitizeString(c.Email)
	c.PhoneNumber = SanitizeString(c.PhoneNumber)
}

func SanitizeBusiness(b *models.Business) {
	b.ID = SanitizeString(b.ID)
	b.Name = SanitizeString(b.Name)
}

func SanitizeVisit(v *models.Visit) {
	v.ID = SanitizeString(v.ID)
	v.CustomerID = SanitizeString(v.CustomerID)
	v.BusinessID = SanitizeString(v.BusinessID)
}
