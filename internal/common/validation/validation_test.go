// internal/common/validation/validation_test.go
package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	var r Result
	r.Required("email", "")
	r.Required("name", "Jane")
	r.Email("email", "not-an-email")

	assert.False(t, r.Valid())
	assert.Len(t, r.Errors, 2)
	assert.Equal(t, "email: required field missing; email: invalid email format", r.Summary())
}

func TestRequired_WhitespaceOnly(t *testing.T) {
	var r Result
	r.Required("message", "   ")
	assert.False(t, r.Valid())
}

func TestEmail(t *testing.T) {
	valid := []string{"jane@example.com", "j.doe+tag@sub.example.co.uk"}
	invalid := []string{"", "plain", "@example.com", "jane@", "jane@host", "two words@example.com"}

	for _, addr := range valid {
		var r Result
		r.Email("email", addr)
		assert.True(t, r.Valid(), addr)
	}
	for _, addr := range invalid {
		var r Result
		r.Email("email", addr)
		assert.False(t, r.Valid(), addr)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
}
