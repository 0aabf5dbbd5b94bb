package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// StatusNone is the status message of a record captured from a successful call.
	StatusNone = "none"
	// UnknownID replaces an empty correlation id.
	UnknownID = "UNKNOWN_ID"
)

// CapturedRecord is the persisted snapshot of one inference call.
type CapturedRecord struct {
	CorrelationID string
	ModelName     string
	StatusMessage string
	Inputs        map[string]Tensor
	CapturedAt    time.Time
}

// Failed reports whether the record was captured from a failed call.
func (r CapturedRecord) Failed() bool {
	return r.StatusMessage != StatusNone
}

// InputNames returns the record's input names in sorted order.
func (r CapturedRecord) InputNames() []string {
	names := make([]string, 0, len(r.Inputs))
	for name := range r.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the invariants a record must satisfy before it is reused.
func (r CapturedRecord) Validate() error {
	if r.CorrelationID == "" {
		return fmt.Errorf("correlation id is empty")
	}
	if !IsSafeID(r.CorrelationID) {
		return fmt.Errorf("correlation id %q is not filesystem-safe", r.CorrelationID)
	}
	if r.ModelName == "" {
		return fmt.Errorf("model name is empty")
	}
	for name, t := range r.Inputs {
		if name == "" {
			return fmt.Errorf("input with empty name")
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}
	return nil
}

// IsSafeID reports whether id can be used verbatim as a file name component.
func IsSafeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool { return !safeIDRune(r) }) < 0
}

// SanitizeID maps an arbitrary request id onto a filesystem-safe correlation id.
// Empty and dot-only ids become UnknownID; other disallowed characters become '_'.
func SanitizeID(id string) string {
	if id == "" || id == "." || id == ".." {
		return UnknownID
	}
	return strings.Map(func(r rune) rune {
		if safeIDRune(r) {
			return r
		}
		return '_'
	}, id)
}

func safeIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}
