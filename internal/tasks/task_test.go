// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixClock pins the package clock for the duration of a test.
func fixClock(t *testing.T, ts time.Time) *time.Time {
	t.Helper()
	cur := ts
	prev := now
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = prev })
	return &cur
}

func TestNewStatus(t *testing.T) {
	st, err := NewStatus("alice", "Export grades", 10)
	require.NoError(t, err)

	if st.ID == "" {
		t.Error("Status ID should not be empty")
	}
	if st.State != StatePending {
		t.Errorf("Expected state Pending, got %s", st.State)
	}
	if st.Attempts != 1 {
		t.Errorf("Expected attempts 1, got %d", st.Attempts)
	}
	if st.Modified.Before(st.Created) {
		t.Error("Modified should not precede Created")
	}
}

func TestNewStatus_Rejects(t *testing.T) {
	_, err := NewStatus("", "x", 0)
	assert.Error(t, err)

	_, err = NewStatus("alice", "x", -1)
	assert.ErrorIs(t, err, ErrInvalidProgress)
}

func TestStatusLifecycle_Success(t *testing.T) {
	st, err := NewStatus("alice", "Export", 10)
	require.NoError(t, err)

	require.NoError(t, st.Start())
	assert.Equal(t, StateInProgress, st.State)

	require.NoError(t, st.SetProgress(10, 10))
	require.NoError(t, st.Succeed())
	assert.Equal(t, StateSucceeded, st.State)
	assert.Equal(t, 10, st.CompletedSteps)
}

func TestStatusLifecycle_RetryIncrementsAttempts(t *testing.T) {
	st, _ := NewStatus("alice", "Flaky", 0)
	require.NoError(t, st.Start())
	require.NoError(t, st.Retry("connection reset"))
	assert.Equal(t, StateRetrying, st.State)
	assert.Equal(t, "connection reset", st.StateText)
	assert.Equal(t, 1, st.Attempts)

	require.NoError(t, st.Start())
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, "", st.StateText)

	require.NoError(t, st.Fail("gave up"))
	assert.Equal(t, StateFailed, st.State)
}

func TestStatusTransition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"pending to succeeded", StatePending, StateSucceeded},
		{"pending to retrying", StatePending, StateRetrying},
		{"in progress to pending", StateInProgress, StatePending},
		{"retrying to failed", StateRetrying, StateFailed},
		{"cancel through transition", StateInProgress, StateCanceled},
		{"succeeded to in progress", StateSucceeded, StateInProgress},
		{"failed to retrying", StateFailed, StateRetrying},
		{"canceled to in progress", StateCanceled, StateInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &Status{ID: "s1", State: tt.from, Attempts: 1}
			before := *st

			err := st.Transition(tt.to, "text")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
			assert.Equal(t, before, *st, "record must be unchanged")
		})
	}
}

func TestStatusCancel(t *testing.T) {
	for _, from := range []State{StatePending, StateInProgress, StateRetrying} {
		st := &Status{State: from}
		if !st.Cancel() {
			t.Errorf("Cancel from %s should succeed", from)
		}
		if st.State != StateCanceled {
			t.Errorf("Expected Canceled, got %s", st.State)
		}
	}

	for _, from := range []State{StateSucceeded, StateFailed, StateCanceled} {
		st := &Status{State: from, StateText: "done"}
		if st.Cancel() {
			t.Errorf("Cancel from terminal %s should be a no-op", from)
		}
		if st.State != from || st.StateText != "done" {
			t.Errorf("Terminal record %s was modified", from)
		}
	}
}

func TestStatusProgress(t *testing.T) {
	st, _ := NewStatus("alice", "Import", 5)
	require.NoError(t, st.Start())

	require.NoError(t, st.IncrementSteps(3))
	assert.Equal(t, 3, st.CompletedSteps)
	assert.Equal(t, 60, st.Percent())

	err := st.IncrementSteps(3)
	assert.ErrorIs(t, err, ErrInvalidProgress)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 3, st.CompletedSteps, "rejected update must not apply")

	assert.ErrorIs(t, st.SetProgress(-1, 5), ErrInvalidProgress)

	// Unknown total accepts any completed count
	require.NoError(t, st.SetProgress(42, 0))
	assert.Equal(t, -1, st.Percent())
}

func TestStatusProgress_TerminalRejected(t *testing.T) {
	st, _ := NewStatus("alice", "Import", 5)
	require.NoError(t, st.Start())
	require.NoError(t, st.Succeed())
	before := *st

	err := st.SetProgress(1, 5)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, before, *st)
}

func TestStatusModifiedNeverBeforeCreated(t *testing.T) {
	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := fixClock(t, created)

	st, err := NewStatus("alice", "Skewed", 0)
	require.NoError(t, err)

	// Clock moves backwards
	*clock = created.Add(-time.Hour)
	require.NoError(t, st.Start())
	assert.Equal(t, created, st.Modified)

	*clock = created.Add(time.Minute)
	require.NoError(t, st.Succeed())
	assert.Equal(t, created.Add(time.Minute), st.Modified)
}

func TestParseState(t *testing.T) {
	tests := map[string]State{
		"Pending":     StatePending,
		"in_progress": StateInProgress,
		"In Progress": StateInProgress,
		"in-progress": StateInProgress,
		"CANCELED":    StateCanceled,
		" retrying ":  StateRetrying,
	}
	for in, want := range tests {
		got, err := ParseState(in)
		if err != nil {
			t.Errorf("ParseState(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseState(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseState("done"); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StatePending:    false,
		StateInProgress: false,
		StateRetrying:   false,
		StateSucceeded:  true,
		StateFailed:     true,
		StateCanceled:   true,
	}
	for s, want := range terminal {
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, !want, want)
		}
	}
}

func TestStatusClone(t *testing.T) {
	st := &Status{ID: "s1", Artifacts: []Artifact{{Name: "a"}}}
	c := st.Clone()
	c.Artifacts[0].Name = "changed"
	assert.Equal(t, "a", st.Artifacts[0].Name)
}

func TestStatusSummary(t *testing.T) {
	st := &Status{ID: "0123456789abcdef", Name: "Export", State: StateInProgress, CompletedSteps: 2, TotalSteps: 4}
	assert.Equal(t, "[01234567] Export - In Progress (2/4)", st.Summary())
}

func TestNewArtifact(t *testing.T) {
	a, err := NewArtifact("s1", "report", "", "hello", "")
	require.NoError(t, err)
	assert.False(t, a.HasFile())
	assert.NotEmpty(t, a.ID)

	_, err = NewArtifact("s1", "both", "user_tasks/a/f.csv", "hello", "")
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = NewArtifact("s1", "none", "", "", "")
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = NewArtifact("s1", "  ", "", "", "https://example.com")
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}
