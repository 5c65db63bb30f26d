package workflows

import (
	"fmt"
	"slices"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusConsensusReached, StatusDisputed},
	StatusDisputed:   {StatusConsensusReached, StatusCompleted},
}

// CanTransition reports whether the lifecycle permits moving from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not permitted.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
