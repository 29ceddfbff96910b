// Package validation runs declarative checks on decoded tool requests.
// Struct tags cover shape rules at the HTTP boundary; semantic rules that
// need backend state stay in the service layer.
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "ctxstore/internal/errors"
)

var (
	instance *validator.Validate
	once     sync.Once
)

// get returns the process-wide validator. Instances cache struct metadata,
// so sharing one is both correct and cheap.
func get() *validator.Validate {
	once.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		instance = v
	})
	return instance
}

// Validate checks s against its struct tags and folds every violation into
// one validation error with per-field details.
func Validate(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidation(err.Error())
	}

	appErr := apperrors.NewValidation("request validation failed")
	for _, fe := range verrs {
		appErr.WithDetail(fe.Field(), message(fe))
	}
	return appErr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed rule " + fe.Tag()
	}
}
