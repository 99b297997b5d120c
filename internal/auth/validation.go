package auth

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bcrypt ignores input past 72 bytes and x/crypto rejects it outright.
const maxPasswordBytes = 72

type fieldViolation struct {
	field string
	code  Code
}

// Registration is the payload of a local registration attempt.
type Registration struct {
	Email     string `json:"email" form:"email" validate:"required,email,max=320"`
	Password  string `json:"password" form:"password" validate:"required,min=6,bcryptmax"`
	FirstName string `json:"firstName" form:"firstName" validate:"max=190"`
	LastName  string `json:"lastName" form:"lastName" validate:"max=190"`
}

// Credentials is the payload of a local login attempt.
type Credentials struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=320"`
	Password string `json:"password" form:"password" validate:"required,bcryptmax"`
}

type emailField struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// Validator checks input shape before an attempt reaches the orchestrator.
type Validator struct {
	validate *validator.Validate
}

// NewValidator constructs a Validator reporting fields by their json names.
func NewValidator() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	}); err != nil {
		panic(err)
	}
	return &Validator{validate: validate}
}

// CheckRegistration validates a registration payload.
func (v *Validator) CheckRegistration(registration Registration, redirect string) FieldErrorSet {
	registration.Email = strings.TrimSpace(registration.Email)
	return v.check(registration, redirect)
}

// CheckCredentials validates a login payload.
func (v *Validator) CheckCredentials(credentials Credentials, redirect string) FieldErrorSet {
	credentials.Email = strings.TrimSpace(credentials.Email)
	return v.check(credentials, redirect)
}

// CheckField validates a single profile-completion field.
func (v *Validator) CheckField(name, value, redirect string) FieldErrorSet {
	value = strings.TrimSpace(value)
	switch name {
	case "email":
		return v.check(emailField{Email: value}, redirect)
	case "firstName", "lastName":
		errs := NewFieldErrorSet(redirect)
		if err := v.validate.Var(value, "max=190"); err != nil {
			errs.Add(CodeInvalidField, name)
		}
		return errs
	default:
		errs := NewFieldErrorSet(redirect)
		errs.Add(CodeInvalidField, name)
		return errs
	}
}

func (v *Validator) check(payload interface{}, redirect string) FieldErrorSet {
	errs := NewFieldErrorSet(redirect)
	err := v.validate.Struct(payload)
	if err == nil {
		return errs
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		errs.Add(CodeUnknown, "")
		return errs
	}
	reported := make(map[string]struct{}, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		violation := translate(fieldError)
		if _, seen := reported[violation.field]; seen {
			continue
		}
		reported[violation.field] = struct{}{}
		errs.Add(violation.code, violation.field)
	}
	return errs
}

func translate(fieldError validator.FieldError) fieldViolation {
	field := fieldError.Field()
	if fieldError.Tag() == "required" {
		return fieldViolation{field: field, code: CodeMissingField}
	}
	switch field {
	case "email":
		return fieldViolation{field: field, code: CodeInvalidEmail}
	case "password":
		return fieldViolation{field: field, code: CodeInvalidPasswordShape}
	default:
		return fieldViolation{field: field, code: CodeInvalidField}
	}
}
