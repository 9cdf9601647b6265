package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContextNameLength is the maximum length of a context name.
	MaxContextNameLength = 64
	// MaxEntityNameLength is the maximum length of an entity name.
	MaxEntityNameLength = 256
	// MaxObservationLength is the maximum length of a single observation.
	MaxObservationLength = 4096
)

// contextNamePattern matches valid context names: lowercase alphanumeric
// plus hyphen and underscore.
var contextNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Err returns the accumulated failures as a single error, or nil when
// the collector is clean.
func (c *Collector) Err() error {
	if len(c.errors) == 0 {
		return nil
	}
	return &ValidationErrors{Errors: c.errors}
}

// ValidationErrors aggregates every field failure found in one payload
// so callers can report them all at once.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(parts, "; "))
}

// ValidateContextName returns an error unless the name is non-empty,
// within length limits, and matches ^[a-z0-9_-]+$.
func ValidateContextName(field, name string) *ValidationError {
	if name == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	if len(name) > MaxContextNameLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxContextNameLength),
		}
	}
	if !contextNamePattern.MatchString(name) {
		return &ValidationError{
			Field:   field,
			Message: "must be lowercase alphanumeric with hyphens or underscores",
		}
	}
	return nil
}

// ValidateEntityName returns an error unless the name is non-empty, valid
// UTF-8, free of null bytes, and within length limits.
func ValidateEntityName(field, name string) *ValidationError {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	if err := ValidateUTF8(field, name); err != nil {
		return err
	}
	if err := ValidateNoNullBytes(field, name); err != nil {
		return err
	}
	return ValidateMaxLength(field, name, MaxEntityNameLength)
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}
