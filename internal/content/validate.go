package content

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
	validate    = newValidator()
	errNilItem  = errors.New("item is required")
)

// ValidationError rejects an item before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid content item: %s %s", e.Field, e.Reason)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks an item against its kind's field rules.
func Validate(item Item) error {
	if item == nil {
		return &ValidationError{Field: "item", Reason: errNilItem.Error()}
	}
	err := validate.Struct(item)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		first := fieldErrors[0]
		return &ValidationError{Field: first.StructNamespace(), Reason: describeTag(first)}
	}
	return &ValidationError{Field: "item", Reason: err.Error()}
}

func describeTag(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return "is required"
	case "slug":
		return "must be lowercase letters, digits and hyphens"
	case "gte", "gt":
		return fmt.Sprintf("must be %s %s", fieldError.Tag(), fieldError.Param())
	case "max":
		return fmt.Sprintf("exceeds %s characters", fieldError.Param())
	default:
		return fmt.Sprintf("failed %q", fieldError.Tag())
	}
}
