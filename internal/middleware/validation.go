package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// serviceCodePattern accepts HCPCS level II codes with an optional
// two-character modifier, e.g. T1019 or S5125-U1.
var serviceCodePattern = regexp.MustCompile(`^[A-Z][0-9]{4}(-[A-Z0-9]{2})?$`)

func validServiceCode(fl validator.FieldLevel) bool {
	return serviceCodePattern.MatchString(fl.Field().String())
}

// FieldError is one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var fieldMessages = map[string]string{
	"required":    "field is required",
	"servicecode": "must be a service code like T1019",
	"max":         "value is too long",
	"gte":         "value is too small",
	"lte":         "value is too large",
}

// RegisterValidators installs the custom tags on gin's validator and makes
// error fields use their JSON names. Call it once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation("servicecode", validServiceCode); err != nil {
		return fmt.Errorf("failed to register servicecode validator: %w", err)
	}
	return nil
}

// FieldErrors flattens a binding error into per-field messages. It returns
// nil for errors that are not validation failures, such as malformed JSON.
func FieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		msg := fieldMessages[e.Tag()]
		if msg == "" {
			msg = e.Error()
		}
		out = append(out, FieldError{Field: e.Field(), Message: msg})
	}
	return out
}
