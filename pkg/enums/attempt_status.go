package enums

import "fmt"

// AttemptStatus tracks the lifecycle of a payment attempt row.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusProcessed AttemptStatus = "processed"
	AttemptStatusFailed    AttemptStatus = "failed"
)

var validAttemptStatuses = []AttemptStatus{
	AttemptStatusPending,
	AttemptStatusProcessed,
	AttemptStatusFailed,
}

// String implements fmt.Stringer.
func (s AttemptStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AttemptStatus.
func (s AttemptStatus) IsValid() bool {
	for _, candidate := range validAttemptStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAttemptStatus converts raw input into an AttemptStatus.
func ParseAttemptStatus(value string) (AttemptStatus, error) {
	for _, candidate := range validAttemptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt status %q", value)
}
