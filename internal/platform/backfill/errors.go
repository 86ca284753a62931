package backfill

import (
	"errors"
	"fmt"
)

var (
	ErrNoJobs        = errors.New("no eligible backfill jobs")
	ErrJobNotFound   = errors.New("backfill job not found")
	ErrUnknownStatus = errors.New("unknown backfill status")
	ErrInvalidWindow = errors.New("backfill window start is after end")
)

// InvalidTransitionError is returned when a job is asked to move along
// an edge the state machine does not have
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid backfill transition: %s -> %s", e.From, e.To)
}

// Is implements errors.Is for InvalidTransitionError
func (e *InvalidTransitionError) Is(target error) bool {
	_, ok := target.(*InvalidTransitionError)
	return ok
}

// ErrInvalidTransition is a sentinel for checking transition errors
var ErrInvalidTransition = &InvalidTransitionError{}
