package capture

import "strings"

// Policy decides whether an inference call is captured.
type Policy int

const (
	PolicyNever Policy = iota
	PolicyAlways
	PolicyOnFailure
)

// ParsePolicy resolves configuration text. Matching is case-insensitive; anything other
// than "always" or "on_failure", including the empty string, resolves to PolicyNever.
func ParsePolicy(text string) Policy {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "always":
		return PolicyAlways
	case "on_failure":
		return PolicyOnFailure
	default:
		return PolicyNever
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyAlways:
		return "always"
	case PolicyOnFailure:
		return "on_failure"
	default:
		return "never"
	}
}

// ShouldCapture reports whether a call with the given outcome is captured.
func (p Policy) ShouldCapture(failed bool) bool {
	switch p {
	case PolicyAlways:
		return true
	case PolicyOnFailure:
		return failed
	default:
		return false
	}
}
