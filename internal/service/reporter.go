// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// ReporterStore is the persistence the execution engine's reporting path
// needs.
type ReporterStore interface {
	CreateStatus(ctx context.Context, st *tasks.Status) error
	GetStatus(ctx context.Context, id string) (*tasks.Status, error)
	UpdateStatus(ctx context.Context, id string, updater func(*tasks.Status) (*tasks.Status, error)) (*tasks.Status, error)
	CreateArtifact(ctx context.Context, a *tasks.Artifact) error
}

// BlobWriter stores artifact files.
type BlobWriter interface {
	Save(userID, name string, r io.Reader) (string, error)
	Delete(key string) error
}

// Reporter is the execution engine's side of a status record: it creates
// records and reports progress, outcomes and artifacts. Every change runs
// the state machine inside the store's atomic update, so a rejected
// transition is never persisted.
type Reporter struct {
	store ReporterStore
	blobs BlobWriter
}

// NewReporter creates a reporter. blobs may be nil if the engine never
// attaches files.
func NewReporter(store ReporterStore, blobs BlobWriter) *Reporter {
	return &Reporter{store: store, blobs: blobs}
}

// Create registers a new pending record for userID.
func (r *Reporter) Create(ctx context.Context, userID, name string, totalSteps int, taskID string) (*tasks.Status, error) {
	st, err := tasks.NewStatus(userID, name, totalSteps)
	if err != nil {
		return nil, err
	}
	st.TaskID = taskID
	if err := r.store.CreateStatus(ctx, st); err != nil {
		return nil, err
	}
	logger.Logger.Debug().
		Str("event", "status_created").
		Str("status_id", st.ID).
		Str("user", userID).
		Msg("task status created")
	return st, nil
}

// Start moves a pending or retrying record to In Progress. Leaving Retrying
// counts a new attempt.
func (r *Reporter) Start(ctx context.Context, id string) (*tasks.Status, error) {
	return r.update(ctx, id, (*tasks.Status).Start)
}

// Succeed marks an in-progress record as succeeded.
func (r *Reporter) Succeed(ctx context.Context, id string) (*tasks.Status, error) {
	return r.update(ctx, id, (*tasks.Status).Succeed)
}

// Fail marks an in-progress record as failed, keeping reason as its state
// text.
func (r *Reporter) Fail(ctx context.Context, id, reason string) (*tasks.Status, error) {
	return r.update(ctx, id, func(st *tasks.Status) error { return st.Fail(reason) })
}

// Retry moves an in-progress record to Retrying with reason as its state
// text.
func (r *Reporter) Retry(ctx context.Context, id, reason string) (*tasks.Status, error) {
	return r.update(ctx, id, func(st *tasks.Status) error { return st.Retry(reason) })
}

// SetProgress replaces both step counters.
func (r *Reporter) SetProgress(ctx context.Context, id string, completed, total int) (*tasks.Status, error) {
	return r.update(ctx, id, func(st *tasks.Status) error { return st.SetProgress(completed, total) })
}

// IncrementSteps adds n completed steps.
func (r *Reporter) IncrementSteps(ctx context.Context, id string, n int) (*tasks.Status, error) {
	return r.update(ctx, id, func(st *tasks.Status) error { return st.IncrementSteps(n) })
}

func (r *Reporter) update(ctx context.Context, id string, mutate func(*tasks.Status) error) (*tasks.Status, error) {
	st, err := r.store.UpdateStatus(ctx, id, func(cur *tasks.Status) (*tasks.Status, error) {
		if err := mutate(cur); err != nil {
			return nil, err
		}
		return cur, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return st, nil
}

// =============================================================================
// ARTIFACTS
// =============================================================================

// ArtifactInput describes an artifact to attach. Exactly one of File, Text
// or URL must be set.
type ArtifactInput struct {
	Name   string
	Status string

	File io.Reader
	Text string
	URL  string
}

// AddArtifact attaches an artifact to a record, writing File to the blob
// store first. The file is removed again if the artifact row cannot be
// created.
func (r *Reporter) AddArtifact(ctx context.Context, statusID string, in ArtifactInput) (*tasks.Artifact, error) {
	st, err := r.store.GetStatus(ctx, statusID)
	if err != nil {
		return nil, storeErr(err)
	}

	var key string
	if in.File != nil {
		if in.Text != "" || in.URL != "" {
			return nil, fmt.Errorf("%w: %q has more than one payload", tasks.ErrInvalidArtifact, in.Name)
		}
		if r.blobs == nil {
			return nil, errors.New("no blob store configured for file artifacts")
		}
		key, err = r.blobs.Save(st.UserID, in.Name, in.File)
		if err != nil {
			return nil, fmt.Errorf("store artifact file: %w", err)
		}
	}

	a, err := tasks.NewArtifact(statusID, in.Name, key, in.Text, in.URL)
	if err == nil {
		a.Status = in.Status
		err = r.store.CreateArtifact(ctx, a)
	}
	if err != nil {
		if key != "" {
			if derr := r.blobs.Delete(key); derr != nil {
				logger.Logger.Warn().Err(derr).Str("event", "cleanup_warning").Str("file", key).Msg("could not remove orphaned artifact file")
			}
		}
		return nil, storeErr(err)
	}
	return a, nil
}
