package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
)

const (
	MinSecretLength     = 6
	MaxSecretLength     = 128
	maxPermissionLength = 64
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return models.Role(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return models.AccountStatus(fl.Field().String()).Valid()
	})
	return v
}

// validationError turns the first validator failure into a
// common.ValidationError. Other errors pass through.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	return common.NewValidationError(fe.Field(), reason(fe))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "username":
		return "must be 3-64 letters, digits, '.', '_' or '-'"
	case "role":
		return "is not a known role"
	case "status":
		return "is not a known status"
	}
	return "is invalid"
}

func validateSecret(field, secret string) error {
	n := len([]rune(secret))
	if n < MinSecretLength {
		return common.NewValidationError(field, fmt.Sprintf("must be at least %d characters", MinSecretLength))
	}
	if n > MaxSecretLength {
		return common.NewValidationError(field, fmt.Sprintf("must be at most %d characters", MaxSecretLength))
	}
	return nil
}

func validatePermissions(perms []string) error {
	for _, p := range perms {
		if len(p) > maxPermissionLength || strings.ContainsAny(p, " \t\r\n") {
			return common.NewValidationError("permissions", fmt.Sprintf("invalid permission %q", p))
		}
	}
	return nil
}
