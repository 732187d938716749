package form

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/smartform/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStep checks the section for step n. It returns nil when the
// section is valid, otherwise a map from field key (for example
// "step2.company") to a human-readable message.
func ValidateStep(n int, d Data) map[string]string {
	if !ValidStep(n) {
		return map[string]string{"currentStep": fmt.Sprintf("must be between 1 and %d", Steps)}
	}
	prefix := fmt.Sprintf("step%d", n)
	section := d.Section(n)
	if section == nil {
		return map[string]string{prefix: "is required"}
	}
	return prefixed(prefix, Check(section))
}

// ValidateComplete checks every step and returns a validation error listing
// all failing fields.
func ValidateComplete(d Data) error {
	fields := map[string]string{}
	for n := 1; n <= Steps; n++ {
		for k, v := range ValidateStep(n, d) {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return apperr.Validation("Form is incomplete", fields)
}

// Check validates any struct carrying validate tags and returns per-field
// messages keyed by JSON name, or nil when valid.
func Check(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = message(fe)
	}
	return fields
}

func prefixed(prefix string, fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[prefix+"."+k] = v
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}
