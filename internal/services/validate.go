package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("nowhitespace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	_ = v.RegisterValidation("coach", func(fl validator.FieldLevel) bool {
		return types.ValidCoach(fl.Field().String())
	})
	return v
}

// messages maps "field.tag" to the client-facing failure message.
type messages map[string]string

// check validates rules and appends every failure to verr.
func check(verr *store.ValidationError, rules any, msgs messages) error {
	err := validate.Struct(rules)
	if err == nil {
		return nil
	}
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) {
		return err
	}
	for _, fe := range failures {
		msg, ok := msgs[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s failed the %s rule", fe.Field(), fe.Tag())
		}
		verr.Errors = append(verr.Errors, store.FieldError{Field: fe.Field(), Message: msg})
	}
	return nil
}

// result returns verr when it holds failures.
func result(verr *store.ValidationError) error {
	if len(verr.Errors) == 0 {
		return nil
	}
	return verr
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
