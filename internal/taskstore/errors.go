package taskstore

import "errors"

var (
	ErrEmptyDescription = errors.New("task description is empty")
	ErrInvalidSchedule  = errors.New("reminder time is too close to now")

	// ErrPersist wraps storage write failures. The in-memory mutation has
	// been rolled back when it is returned.
	ErrPersist = errors.New("persist tasks")
)

// IsValidation reports whether err rejected an operation before any side effect.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyDescription) || errors.Is(err, ErrInvalidSchedule)
}
