package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("strongpassword", strongPassword)
	return v
}

// strongPassword requires 8 to 128 characters with an upper, a lower, a
// digit and a symbol.
func strongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	if n := len([]rune(password)); n < 8 || n > 128 {
		return false
	}

	var upper, lower, number, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsNumber(r):
			number = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	return upper && lower && number && special
}

// validationError folds validator output into common.ErrValidation with one
// readable entry per field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "email":
		return name + " must be a valid email address"
	case "strongpassword":
		return name + " must be 8-128 characters with upper and lower case letters, a digit and a symbol"
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", name, fe.Tag(), fe.Param())
	case "url":
		return name + " must be an absolute URL"
	case "e164":
		return name + " must be an E.164 phone number"
	case "alphanum", "excludesall":
		return name + " contains invalid characters"
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
