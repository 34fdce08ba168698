package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bcrypt ignores everything past 72 bytes of input.
const maxPasswordBytes = 72

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("bcrypt_len", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return v
}

type profileFields struct {
	Name string `validate:"omitempty,max=50"`
}

type signupFields struct {
	Name     string `validate:"max=50"`
	Email    string `validate:"email"`
	Password string `validate:"min=6,bcrypt_len"`
}

type passwordFields struct {
	Password string `validate:"min=6,bcrypt_len"`
}

func validationFailed(err error) *Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return newError(KindValidationFailed, "Invalid input", err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fieldMessage(fe))
	}
	return newError(KindValidationFailed, strings.Join(messages, ", "), err)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "email":
		return "Please fill in a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "bcrypt_len":
		return fmt.Sprintf("%s must be at most %d bytes", fe.Field(), maxPasswordBytes)
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
