// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/usertasks/internal/tasks"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usertasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createStatus(t *testing.T, s *Store, user, name string, created time.Time) *tasks.Status {
	t.Helper()
	st, err := tasks.NewStatus(user, name, 10)
	require.NoError(t, err)
	st.Created = created
	st.Modified = created
	require.NoError(t, s.CreateStatus(context.Background(), st))
	return st
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestCreateAndGetStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	st := createStatus(t, s, "alice", "Export grades", base)

	got, err := s.GetStatus(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, tasks.StatePending, got.State)
	assert.Equal(t, 10, got.TotalSteps)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, base.Equal(got.Created))
	assert.Empty(t, got.Artifacts)

	_, err = s.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.CreateStatus(ctx, st), ErrConflict)
}

func TestListStatuses_OrderAndFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	a1 := createStatus(t, s, "alice", "Export grades", base)
	b1 := createStatus(t, s, "bob", "Import roster", base.Add(time.Minute))
	a2 := createStatus(t, s, "alice", "Export roster", base.Add(2*time.Minute))

	_, err := s.UpdateStatus(ctx, b1.ID, func(st *tasks.Status) (*tasks.Status, error) {
		return st, st.Start()
	})
	require.NoError(t, err)

	all, err := s.ListStatuses(ctx, StatusFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a2.ID, b1.ID, a1.ID}, ids(all), "created descending")

	own, err := s.ListStatuses(ctx, StatusFilter{Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID, a1.ID}, ids(own))

	// Owner and user filter combine with AND
	none, err := s.ListStatuses(ctx, StatusFilter{Owner: "alice", UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, none)

	running, err := s.ListStatuses(ctx, StatusFilter{States: []tasks.State{tasks.StateInProgress}})
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID}, ids(running))

	named, err := s.ListStatuses(ctx, StatusFilter{Name: "roster"})
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID, b1.ID}, ids(named))

	old, err := s.ListStatuses(ctx, StatusFilter{CreatedBefore: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID}, ids(old))

	page, err := s.ListStatuses(ctx, StatusFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{b1.ID}, ids(page))
}

func TestUpdateStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())

	updated, err := s.UpdateStatus(ctx, st.ID, func(cur *tasks.Status) (*tasks.Status, error) {
		if err := cur.Start(); err != nil {
			return nil, err
		}
		return cur, cur.SetProgress(4, 10)
	})
	require.NoError(t, err)
	assert.Equal(t, tasks.StateInProgress, updated.State)

	got, err := s.GetStatus(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateInProgress, got.State)
	assert.Equal(t, 4, got.CompletedSteps)
	assert.False(t, got.Modified.Before(got.Created))
}

func TestUpdateStatus_ErrorLeavesRecordUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())

	_, err := s.UpdateStatus(ctx, st.ID, func(cur *tasks.Status) (*tasks.Status, error) {
		cur.Name = "mutated"
		return nil, cur.Succeed() // Pending -> Succeeded is invalid
	})
	assert.ErrorIs(t, err, tasks.ErrInvalidTransition)

	got, err := s.GetStatus(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatePending, got.State)
	assert.Equal(t, "Export", got.Name)
}

func TestUpdateStatus_NilResultSkipsWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())

	got, err := s.UpdateStatus(ctx, st.ID, func(*tasks.Status) (*tasks.Status, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)

	_, err = s.UpdateStatus(ctx, "missing", func(cur *tasks.Status) (*tasks.Status, error) {
		return cur, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus_ConcurrentCancelFlipsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())

	var (
		wg      sync.WaitGroup
		flipped atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var changed bool
			got, err := s.UpdateStatus(ctx, st.ID, func(cur *tasks.Status) (*tasks.Status, error) {
				changed = cur.Cancel()
				if !changed {
					return nil, nil
				}
				return cur, nil
			})
			if err != nil {
				t.Errorf("UpdateStatus: %v", err)
				return
			}
			if got.State != tasks.StateCanceled {
				t.Errorf("expected Canceled, got %s", got.State)
			}
			if changed {
				flipped.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), flipped.Load())
}

func TestDeleteStatus_RemovesArtifacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())

	a, err := tasks.NewArtifact(st.ID, "summary", "", "42 rows", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, a))

	require.NoError(t, s.DeleteStatus(ctx, st.ID, nil))

	_, _, err = s.GetArtifact(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteStatus(ctx, st.ID, nil), ErrNotFound)
}

func TestDeleteStatus_CleanupSeesArtifactsAtDeleteTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())

	// Attached after any earlier read of the record
	early, err := tasks.NewArtifact(st.ID, "early", "alice/early.csv", "", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, early))
	stale, err := s.GetStatus(ctx, st.ID)
	require.NoError(t, err)
	late, err := tasks.NewArtifact(st.ID, "late", "alice/late.csv", "", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, late))
	require.Len(t, stale.Artifacts, 1)

	var seen []string
	require.NoError(t, s.DeleteStatus(ctx, st.ID, func(removed []tasks.Artifact) error {
		for _, a := range removed {
			seen = append(seen, a.File)
		}
		return nil
	}))
	assert.ElementsMatch(t, []string{"alice/early.csv", "alice/late.csv"}, seen)
}

func TestDeleteStatus_CleanupErrorKeepsRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := createStatus(t, s, "alice", "Export", time.Now().UTC())
	a, err := tasks.NewArtifact(st.ID, "report", "alice/report.pdf", "", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, a))

	boom := errors.New("disk unavailable")
	err = s.DeleteStatus(ctx, st.ID, func([]tasks.Artifact) error { return boom })
	assert.ErrorIs(t, err, boom)

	got, err := s.GetStatus(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, a.ID, got.Artifacts[0].ID)
}

func TestCountStatuses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createStatus(t, s, "alice", "a", time.Now().UTC())
	b := createStatus(t, s, "bob", "b", time.Now().UTC())
	_, err := s.UpdateStatus(ctx, b.ID, func(cur *tasks.Status) (*tasks.Status, error) {
		cur.Cancel()
		return cur, nil
	})
	require.NoError(t, err)

	counts, err := s.CountStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[tasks.StatePending])
	assert.Equal(t, 1, counts[tasks.StateCanceled])
}

// =============================================================================
// ARTIFACT TESTS
// =============================================================================

func TestArtifacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createStatus(t, s, "alice", "Export", time.Now().UTC())
	bob := createStatus(t, s, "bob", "Import", time.Now().UTC())

	text, err := tasks.NewArtifact(alice.ID, "summary", "", "ok", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, text))

	file, err := tasks.NewArtifact(alice.ID, "report", "user_tasks/alice/x/report.csv", "", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, file))

	link, err := tasks.NewArtifact(bob.ID, "log", "", "", "https://logs.example.com/1")
	require.NoError(t, err)
	require.NoError(t, s.CreateArtifact(ctx, link))

	dup, _ := tasks.NewArtifact(alice.ID, "summary", "", "again", "")
	assert.ErrorIs(t, s.CreateArtifact(ctx, dup), ErrConflict)

	orphan, _ := tasks.NewArtifact("missing", "x", "", "t", "")
	assert.ErrorIs(t, s.CreateArtifact(ctx, orphan), ErrNotFound)

	got, owner, err := s.GetArtifact(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, "user_tasks/alice/x/report.csv", got.File)

	st, err := s.GetStatus(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, st.Artifacts, 2)

	mine, err := s.ListArtifacts(ctx, ArtifactFilter{Owner: "alice"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	byStatus, err := s.ListArtifacts(ctx, ArtifactFilter{StatusID: bob.ID})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "log", byStatus[0].Name)

	byName, err := s.ListArtifacts(ctx, ArtifactFilter{Name: "report"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func ids(list []*tasks.Status) []string {
	out := make([]string, 0, len(list))
	for _, st := range list {
		out = append(out, st.ID)
	}
	return out
}
