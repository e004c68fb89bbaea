package httpapi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const phoneValidationTag = "phone"

var (
	registerOnce  sync.Once
	registerError error
)

// registerValidators installs the custom tags on gin's shared validator engine.
func registerValidators() error {
	registerOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerError = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		registerError = engine.RegisterValidation(phoneValidationTag, func(field validator.FieldLevel) bool {
			return claims.ValidPhone(field.Field().String())
		})
	})
	return registerError
}

func describeBindError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return "expected JSON body"
	}
	first := validationErrors[0]
	return fmt.Sprintf("field %s failed %q validation", first.Namespace(), first.Tag())
}
