package config

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

// validatorInstance configures and returns the shared validator.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		// Report fields by their JSON names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := parseDurationWithDays(fl.Field().String())
			return err == nil
		})

		validateInst = v
	})
	return validateInst
}

// convertValidationError turns validator errors into one readable error.
func convertValidationError(err error) error {
	var ves validator.ValidationErrors
	if !stderrors.As(err, &ves) {
		return err
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s failed validation for tag '%s'", fieldPath(fe), fe.Tag()))
	}
	return stderrors.New(strings.Join(parts, "; "))
}

// fieldPath drops the root type from the namespace: Config.nats.urls[0] → nats.urls[0].
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
