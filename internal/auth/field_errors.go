package auth

import (
	"fmt"
	"net/http"
)

// Code identifies a user-facing failure reason.
type Code string

const (
	CodeEmailExists          Code = "auth.EMAIL_EXISTS"
	CodeUnknownUser          Code = "auth.UNKNOWN_USER"
	CodeInvalidPassword      Code = "auth.INVALID_PASSWORD"
	CodeUnknown              Code = "auth.UNKNOWN"
	CodeMissingField         Code = "auth.MISSING_FIELD"
	CodeInvalidEmail         Code = "auth.INVALID_EMAIL"
	CodeInvalidPasswordShape Code = "auth.INVALID_PASSWORD_SHAPE"
	CodeInvalidField         Code = "auth.INVALID_FIELD"
	CodeProviderFailed       Code = "auth.PROVIDER_FAILED"
	CodeProviderConflict     Code = "auth.PROVIDER_CONFLICT"
	CodeNoProfileInFlight    Code = "auth.NO_PROFILE"
)

var codeMessages = map[Code]string{
	CodeEmailExists:          "A user with that email has already registered.",
	CodeUnknownUser:          "There is no user with that email.",
	CodeInvalidPassword:      "That password is not correct.",
	CodeUnknown:              "Something went wrong. Please try again.",
	CodeInvalidEmail:         "It looks like there's something wrong with that email address.",
	CodeInvalidPasswordShape: "Passwords must be between 6 and 72 characters.",
	CodeInvalidField:         "That value is not valid.",
	CodeProviderFailed:       "The identity provider could not sign you in.",
	CodeProviderConflict:     "This account is already linked to a different login for that provider.",
	CodeNoProfileInFlight:    "There is no sign-in in progress.",
}

var codeStatuses = map[Code]int{
	CodeEmailExists:       http.StatusBadRequest,
	CodeUnknownUser:       http.StatusNotFound,
	CodeInvalidPassword:   http.StatusBadRequest,
	CodeUnknown:           http.StatusInternalServerError,
	CodeProviderFailed:    http.StatusUnauthorized,
	CodeProviderConflict:  http.StatusConflict,
	CodeNoProfileInFlight: http.StatusConflict,
}

// Message returns the catalogue message for the code.
func (c Code) Message(field string) string {
	if c == CodeMissingField {
		if field == "" {
			return "Please fill in the required fields."
		}
		return fmt.Sprintf("Please enter your %s.", fieldLabel(field))
	}
	if message, ok := codeMessages[c]; ok {
		return message
	}
	return codeMessages[CodeUnknown]
}

// Status returns the HTTP status used when the code is reported to a non-HTML client.
func (c Code) Status() int {
	if status, ok := codeStatuses[c]; ok {
		return status
	}
	return http.StatusBadRequest
}

// FieldError is one entry of a failure report. Field is empty for errors that are not
// tied to an input.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// FieldErrorSet collects the failures of one attempt together with the form path the
// caller is sent back to.
type FieldErrorSet struct {
	redirect string
	entries  []FieldError
}

// NewFieldErrorSet returns an empty set that reports back to redirect.
func NewFieldErrorSet(redirect string) FieldErrorSet {
	return FieldErrorSet{redirect: redirect}
}

// Add appends an entry with the catalogue message for code.
func (s *FieldErrorSet) Add(code Code, field string) {
	s.entries = append(s.entries, FieldError{Field: field, Code: code, Message: code.Message(field)})
}

// Empty reports whether no failure was recorded.
func (s FieldErrorSet) Empty() bool {
	return len(s.entries) == 0
}

// Len returns the number of entries.
func (s FieldErrorSet) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the entries in insertion order.
func (s FieldErrorSet) Entries() []FieldError {
	return append([]FieldError(nil), s.entries...)
}

// Redirect returns the form path the report belongs to.
func (s FieldErrorSet) Redirect() string {
	return s.redirect
}

// Has reports whether an entry with the code exists.
func (s FieldErrorSet) Has(code Code) bool {
	for _, entry := range s.entries {
		if entry.Code == code {
			return true
		}
	}
	return false
}

// Status returns the HTTP status of the first entry.
func (s FieldErrorSet) Status() int {
	if len(s.entries) == 0 {
		return http.StatusOK
	}
	return s.entries[0].Code.Status()
}

func fieldLabel(field string) string {
	switch field {
	case "email":
		return "email address"
	case "firstName":
		return "first name"
	case "lastName":
		return "last name"
	default:
		return field
	}
}
