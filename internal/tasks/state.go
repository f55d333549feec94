// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a user task.
type State string

const (
	// StatePending indicates the task was created but has not started
	StatePending State = "Pending"

	// StateInProgress indicates the task is executing
	StateInProgress State = "In Progress"

	// StateSucceeded indicates the task finished successfully
	StateSucceeded State = "Succeeded"

	// StateFailed indicates the task encountered an unrecoverable error
	StateFailed State = "Failed"

	// StateCanceled indicates the task was canceled by a user
	StateCanceled State = "Canceled"

	// StateRetrying indicates the task failed and will be attempted again
	StateRetrying State = "Retrying"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StatePending,
	StateInProgress,
	StateSucceeded,
	StateFailed,
	StateCanceled,
	StateRetrying,
}

// String returns the wire representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState accepts the wire value ("In Progress") as well as the
// snake/kebab forms used in query strings ("in_progress", "in-progress").
func ParseState(value string) (State, error) {
	norm := strings.ToLower(strings.TrimSpace(value))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	for _, s := range AllStates {
		if strings.ToLower(string(s)) == norm {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", value)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

var (
	// ErrInvalidTransition is returned when a state change or progress update
	// is not permitted from the record's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidProgress is returned for step counts that would break
	// completed <= total. It matches ErrInvalidTransition with errors.Is.
	ErrInvalidProgress = fmt.Errorf("%w: invalid progress", ErrInvalidTransition)
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// canTransition reports whether from -> to is an engine-driven transition.
// Cancellation is not included; it goes through Status.Cancel.
func canTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateInProgress
	case StateInProgress:
		return to == StateSucceeded || to == StateFailed || to == StateRetrying
	case StateRetrying:
		return to == StateInProgress
	case StateSucceeded, StateFailed, StateCanceled:
		return false
	default:
		return false
	}
}
