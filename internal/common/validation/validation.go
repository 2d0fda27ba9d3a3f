// internal/common/validation/validation.go
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// emailPattern is deliberately loose: the authority on address validity is the
// identity provider downstream, this only rejects obvious garbage.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// FieldError describes one failed check on an inbound payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result collects field errors for one payload.
type Result struct {
	Errors []FieldError
}

func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Result) Add(field, message string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message})
}

// Summary joins all field errors into one message for an error response.
func (r *Result) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Required adds an error when value is empty or whitespace.
func (r *Result) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		r.Add(field, "required field missing")
	}
}

// Email adds an error when value is not a syntactically valid address.
func (r *Result) Email(field, value string) {
	if !emailPattern.MatchString(value) {
		r.Add(field, "invalid email format")
	}
}

// NormalizeEmail lowercases and trims an address the way the provisioning
// webhook expects it.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
