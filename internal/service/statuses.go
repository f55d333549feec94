// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/blob"
	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/storage"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// StatusFilter holds the caller-supplied list criteria.
type StatusFilter struct {
	UserID string
	States []tasks.State

	// Name matches records whose name contains this substring
	Name string

	Limit  int
	Offset int
}

// StatusService lists, retrieves, cancels and destroys status records on
// behalf of a caller.
type StatusService struct {
	store    StatusStore
	blobs    BlobDeleter
	auth     Authorizer
	signaler tasks.Signaler
}

// NewStatusService wires a status service. signaler may be nil when no
// execution engine listens for cancellations.
func NewStatusService(store StatusStore, blobs BlobDeleter, auth Authorizer, signaler tasks.Signaler) *StatusService {
	return &StatusService{store: store, blobs: blobs, auth: auth, signaler: signaler}
}

// List returns the records the caller may view, newest first.
func (s *StatusService) List(ctx context.Context, caller string, f StatusFilter) ([]*tasks.Status, error) {
	owner, ok := ownerFilter(s.auth, caller, permViewStatus)
	if !ok {
		return []*tasks.Status{}, nil
	}
	out, err := s.store.ListStatuses(ctx, storage.StatusFilter{
		Owner:  owner,
		UserID: f.UserID,
		States: f.States,
		Name:   f.Name,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*tasks.Status{}
	}
	return out, nil
}

// Counts returns the number of records per state. Totals span every owner,
// so only callers who may view any record get them.
func (s *StatusService) Counts(ctx context.Context, caller string) (map[tasks.State]int, error) {
	if s.auth.Scope(caller, permViewStatus) != access.ScopeAny {
		return nil, ErrForbidden
	}
	return s.store.CountStatuses(ctx)
}

// Retrieve returns one record. Missing and hidden records both yield
// ErrNotFound.
func (s *StatusService) Retrieve(ctx context.Context, caller, id string) (*tasks.Status, error) {
	st, err := s.store.GetStatus(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := check(s.auth, caller, permViewStatus, st.UserID); err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel moves a record to Canceled and signals the execution engine. A
// terminal record is returned unchanged and no signal is sent. Only the call
// whose update flips the state emits the signal.
//
// When the signal cannot be delivered the canceled record is still returned,
// together with the delivery error.
func (s *StatusService) Cancel(ctx context.Context, caller, id string) (*tasks.Status, error) {
	st, err := s.store.GetStatus(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := check(s.auth, caller, permCancelStatus, st.UserID); err != nil {
		return nil, err
	}

	var flipped bool
	updated, err := s.store.UpdateStatus(ctx, id, func(cur *tasks.Status) (*tasks.Status, error) {
		// The updater reruns on a lost race, so the flag is per attempt
		flipped = cur.Cancel()
		if !flipped {
			return nil, nil
		}
		return cur, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	updated.Artifacts = st.Artifacts

	if !flipped {
		return updated, nil
	}

	logger.Logger.Info().
		Str("event", "status_canceled").
		Str("status_id", id).
		Str("user", caller).
		Msg("task canceled")

	if s.signaler == nil {
		return updated, nil
	}
	sig := tasks.Signal{StatusID: updated.ID, TaskID: updated.TaskID, UserID: updated.UserID, At: updated.Modified}
	if err := s.signaler.Signal(ctx, sig); err != nil {
		logger.Logger.Error().Err(err).Str("status_id", id).Msg("cancellation signal failed")
		return updated, fmt.Errorf("signal cancellation: %w", err)
	}
	return updated, nil
}

// Destroy deletes a record after best-effort removal of its artifact files.
func (s *StatusService) Destroy(ctx context.Context, caller, id string) error {
	st, err := s.store.GetStatus(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if err := check(s.auth, caller, permDeleteStatus, st.UserID); err != nil {
		return err
	}
	return s.destroy(ctx, st)
}

// Purge destroys every record created before now minus olderThan and returns
// how many were removed. It performs no permission checks.
func (s *StatusService) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("purge age must be positive, got %s", olderThan)
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	old, err := s.store.ListStatuses(ctx, storage.StatusFilter{CreatedBefore: cutoff})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, st := range old {
		if err := s.destroy(ctx, st); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return purged, fmt.Errorf("purge %s: %w", st.ID, err)
		}
		purged++
	}
	logger.Logger.Info().
		Str("event", "statuses_purged").
		Int("count", purged).
		Time("cutoff", cutoff).
		Msg("old task statuses purged")
	return purged, nil
}

// destroy deletes the record and tries every artifact file it had at delete
// time. Blob failures of the expected kinds are logged and ignored; any other
// failure rolls the delete back, leaving the record in place, and is returned
// once all files were tried.
func (s *StatusService) destroy(ctx context.Context, st *tasks.Status) error {
	var removed int
	err := s.store.DeleteStatus(ctx, st.ID, func(artifacts []tasks.Artifact) error {
		removed = len(artifacts)
		return s.deleteFiles(st.ID, artifacts)
	})
	if err != nil {
		return storeErr(err)
	}
	logger.Logger.Info().
		Str("event", "status_deleted").
		Str("status_id", st.ID).
		Int("artifacts", removed).
		Msg("task status deleted")
	return nil
}

func (s *StatusService) deleteFiles(statusID string, artifacts []tasks.Artifact) error {
	var errs []error
	for _, a := range artifacts {
		if !a.HasFile() || s.blobs == nil {
			continue
		}
		err := s.blobs.Delete(a.File)
		switch {
		case err == nil:
		case blob.IsCleanupWarning(err):
			logger.Logger.Warn().
				Err(err).
				Str("event", "cleanup_warning").
				Str("status_id", statusID).
				Str("artifact", a.Name).
				Str("file", a.File).
				Msg("could not delete artifact file")
		default:
			errs = append(errs, fmt.Errorf("delete artifact %q: %w", a.Name, err))
		}
	}
	return errors.Join(errs...)
}
