package normalize

import (
	"fmt"
	"strings"
)

// Sections a validation problem can block.
const (
	SectionTime   = "time"
	SectionAlarms = "alarms"
	SectionEeprom = "eeprom"
	SectionSync   = "sync"
)

// ValidationError describes one malformed or out-of-range field.
// Index is the row within a list section, or -1.
type ValidationError struct {
	Section string `json:"section"`
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Reason  string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d].%s %q: %s", e.Section, e.Index, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s.%s %q: %s", e.Section, e.Field, e.Value, e.Reason)
}

// ValidationErrors is every problem found while building one request.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// Blocked reports whether section has at least one problem.
func (v ValidationErrors) Blocked(section string) bool {
	for _, e := range v {
		if e.Section == section {
			return true
		}
	}
	return false
}

func invalid(section string, index int, field, value, reason string) *ValidationError {
	return &ValidationError{Section: section, Index: index, Field: field, Value: value, Reason: reason}
}
