package handlers

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate        *validator.Validate
	deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
)

func init() {
	validate = validator.New()

	// Report json field names instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterValidation("device_id", func(fl validator.FieldLevel) bool {
		return deviceIDPattern.MatchString(fl.Field().String())
	})
}

type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// validateStruct validates s and returns the failing fields, or nil
func validateStruct(s interface{}) []fieldError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Field: "", Reason: err.Error()}}
	}

	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Reason: fe.Tag()})
	}
	return out
}
