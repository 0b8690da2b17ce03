// Package validation provides input validation helpers for the DraftGuard API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// Field length caps for admin free-text inputs.
const (
	MaxReasonLength = 1000
	MaxNotesLength  = 5000
)

var (
	// draftIDRegex validates draft identifiers issued by the draft engine
	draftIDRegex = regexp.MustCompile(`^dft_[a-zA-Z0-9]{6,40}$`)
	// userIDRegex validates platform user identifiers
	userIDRegex = regexp.MustCompile(`^usr_[a-zA-Z0-9]{4,40}$`)
	// playerIDRegex validates league player identifiers
	playerIDRegex = regexp.MustCompile(`^ply_[a-zA-Z0-9]{4,40}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidDraftID checks if a string is a well-formed draft identifier
func IsValidDraftID(id string) bool {
	return draftIDRegex.MatchString(id)
}

// IsValidUserID checks if a string is a well-formed user identifier
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidPlayerID checks if a string is a well-formed player identifier
func IsValidPlayerID(id string) bool {
	return playerIDRegex.MatchString(id)
}

// IsValidPairKey checks if a string is a normalized "<user1>:<user2>" pair key
func IsValidPairKey(key string) bool {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return false
	}
	return IsValidUserID(parts[0]) && IsValidUserID(parts[1]) && parts[0] < parts[1]
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

// ValidDraftID checks if a field is a well-formed draft identifier
func ValidDraftID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidDraftID(value) {
			return &ValidationError{Field: field, Message: "must be a valid draft id (dft_...)"}
		}
		return nil
	}
}

// ValidUserID checks if a field is a well-formed user identifier
func ValidUserID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidUserID(value) {
			return &ValidationError{Field: field, Message: "must be a valid user id (usr_...)"}
		}
		return nil
	}
}

// ValidPlayerID checks if a field is a well-formed player identifier
func ValidPlayerID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidPlayerID(value) {
			return &ValidationError{Field: field, Message: "must be a valid player id (ply_...)"}
		}
		return nil
	}
}

// MinLength checks if a field is shorter than min
func MinLength(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.TrimSpace(value)) < min {
			return &ValidationError{Field: field, Message: "is too short"}
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

// DraftIDParamMiddleware validates the :draftId URL parameter on routes that use it.
// Apply to route groups that include :draftId params to reject malformed ids early.
func DraftIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("draftId")
		if id != "" && !IsValidDraftID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_draft_id",
				"message": "draftId must be a valid draft id (dft_ + 6-40 alphanumerics)",
			})
			return
		}
		c.Next()
	}
}
