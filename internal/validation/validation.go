// Package validation provides input validation middleware for the Gatewarden API.
package validation

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxUsernameLength bounds username fields.
const MaxUsernameLength = 64

var (
	// usernameRegex validates account usernames: letters, digits, and
	// a small set of separators, as issued by upstream identity systems.
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@+-]{0,63}$`)
	// deviceIDRegex validates device identifiers (fingerprint hashes,
	// install IDs, and human-assigned names).
	deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._: -]{0,127}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUsername checks if a string is a well-formed username.
func IsValidUsername(name string) bool {
	return usernameRegex.MatchString(name)
}

// IsValidDeviceID checks if a string is a well-formed device identifier.
func IsValidDeviceID(id string) bool {
	return deviceIDRegex.MatchString(id)
}

// IsValidIP checks if a string parses as an IPv4 or IPv6 address.
func IsValidIP(addr string) bool {
	return net.ParseIP(addr) != nil
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidUsername checks if a field is a well-formed username
func ValidUsername(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidUsername(value) {
			return &ValidationError{Field: field, Message: "must be a valid username (letters, digits, . _ @ + -)"}
		}
		return nil
	}
}

// ValidIP checks if a field is a well-formed IP address
func ValidIP(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidIP(value) {
			return &ValidationError{Field: field, Message: "must be a valid IPv4 or IPv6 address"}
		}
		return nil
	}
}

// ValidDeviceID checks if a field is a well-formed device identifier
func ValidDeviceID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidDeviceID(value) {
			return &ValidationError{Field: field, Message: "must be a valid device identifier"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OneOf checks if a field is one of the allowed values
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// UsernameParamMiddleware validates the :username URL parameter on routes that use it.
// Apply to route groups that include :username params to reject malformed names early.
func UsernameParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("username")
		if name != "" && !IsValidUsername(name) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_username",
				"message": "username must be 1-64 characters: letters, digits, . _ @ + -",
			})
			return
		}
		c.Next()
	}
}
