// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/usertasks/internal/util"
)

// now is the clock used for created/modified stamps. Tests replace it.
var now = func() time.Time {
	return time.Now().UTC()
}

// =============================================================================
// STATUS RECORD
// =============================================================================

// Status tracks the lifecycle of one user-triggered task.
//
// A Status is a plain value: it is not safe for concurrent mutation. Callers
// that share records go through the store's atomic update, which hands the
// mutator an exclusive copy.
type Status struct {
	// ID is a unique identifier for this record
	ID string

	// UserID is the user who triggered the task
	UserID string

	// TaskID is the execution engine's identifier for the running job
	TaskID string

	// Name is a human-readable description of the task
	Name string

	// State is the current lifecycle state
	State State

	// StateText carries detail about the current state (e.g. a failure reason)
	StateText string

	// CompletedSteps is the number of steps finished so far
	CompletedSteps int

	// TotalSteps is the expected number of steps; 0 means unknown
	TotalSteps int

	// Attempts counts executions, starting at 1
	Attempts int

	Created  time.Time
	Modified time.Time

	// Artifacts is populated on retrieval and never persisted through Status
	Artifacts []Artifact
}

// NewStatus creates a pending record owned by userID.
func NewStatus(userID, name string, totalSteps int) (*Status, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if totalSteps < 0 {
		return nil, fmt.Errorf("%w: total steps %d is negative", ErrInvalidProgress, totalSteps)
	}
	ts := now()
	return &Status{
		ID:         uuid.New().String(),
		UserID:     userID,
		Name:       name,
		State:      StatePending,
		TotalSteps: totalSteps,
		Attempts:   1,
		Created:    ts,
		Modified:   ts,
	}, nil
}

// =============================================================================
// STATE CHANGES
// =============================================================================

// Transition moves the record to state to, recording text as the state detail.
// Terminal records and transitions outside the lifecycle graph are rejected
// with a *TransitionError and leave the record unchanged.
func (s *Status) Transition(to State, text string) error {
	if !canTransition(s.State, to) {
		return &TransitionError{From: s.State, To: to}
	}
	if s.State == StateRetrying && to == StateInProgress {
		s.Attempts++
	}
	s.State = to
	s.StateText = text
	s.touch()
	return nil
}

// Start marks a pending or retrying record as in progress.
func (s *Status) Start() error {
	return s.Transition(StateInProgress, "")
}

// Succeed marks an in-progress record as succeeded.
func (s *Status) Succeed() error {
	return s.Transition(StateSucceeded, "")
}

// Fail marks an in-progress record as failed with the given reason.
func (s *Status) Fail(reason string) error {
	return s.Transition(StateFailed, reason)
}

// Retry marks an in-progress record as waiting for another attempt.
func (s *Status) Retry(reason string) error {
	return s.Transition(StateRetrying, reason)
}

// Cancel moves a non-terminal record to Canceled.
// Returns false, leaving the record untouched, when it is already terminal.
func (s *Status) Cancel() bool {
	if s.State.IsTerminal() {
		return false
	}
	s.State = StateCanceled
	s.StateText = ""
	s.touch()
	return true
}

// =============================================================================
// PROGRESS
// =============================================================================

// SetProgress replaces both step counters. total 0 means unknown.
func (s *Status) SetProgress(completed, total int) error {
	if s.State.IsTerminal() {
		return &TransitionError{From: s.State, To: s.State}
	}
	if completed < 0 || total < 0 {
		return fmt.Errorf("%w: negative step count", ErrInvalidProgress)
	}
	if total > 0 && completed > total {
		return fmt.Errorf("%w: %d completed exceeds %d total", ErrInvalidProgress, completed, total)
	}
	s.CompletedSteps = completed
	s.TotalSteps = total
	s.touch()
	return nil
}

// IncrementSteps adds n to the completed step count.
func (s *Status) IncrementSteps(n int) error {
	return s.SetProgress(s.CompletedSteps+n, s.TotalSteps)
}

// touch stamps Modified, never earlier than Created.
func (s *Status) touch() {
	ts := now()
	if ts.Before(s.Created) {
		ts = s.Created
	}
	s.Modified = ts
}

// =============================================================================
// READ HELPERS
// =============================================================================

// Percent returns completion as 0-100, or -1 when the total is unknown.
func (s *Status) Percent() int {
	if s.TotalSteps <= 0 {
		return -1
	}
	return s.CompletedSteps * 100 / s.TotalSteps
}

// Summary returns a one-line summary of the record.
func (s *Status) Summary() string {
	summary := fmt.Sprintf("[%s] %s - %s", shortID(s.ID), util.TruncateRunes(s.Name, 60), s.State)
	if s.TotalSteps > 0 {
		summary += fmt.Sprintf(" (%d/%d)", s.CompletedSteps, s.TotalSteps)
	}
	if s.StateText != "" {
		summary += ": " + util.TruncateRunes(s.StateText, 80)
	}
	return summary
}

// Clone returns a copy whose artifact slice is not shared with s.
func (s *Status) Clone() *Status {
	c := *s
	if s.Artifacts != nil {
		c.Artifacts = append([]Artifact(nil), s.Artifacts...)
	}
	return &c
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
