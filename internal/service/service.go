// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/storage"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound covers both missing records and records the caller may
	// not see.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller can see a record but lacks
	// the capability the operation needs.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// PERMISSIONS
// =============================================================================

// Each operation needs the permission the verb policy assigns to the HTTP
// verb that exposes it, whether or not the call arrives over HTTP.
var (
	permViewStatus   = mustRequire(http.MethodGet, access.ResourceStatus)
	permCancelStatus = mustRequire(http.MethodPost, access.ResourceStatus)
	permDeleteStatus = mustRequire(http.MethodDelete, access.ResourceStatus)
	permViewArtifact = mustRequire(http.MethodGet, access.ResourceArtifact)
)

func mustRequire(method string, res access.Resource) access.Permission {
	p, err := access.Required(method, res)
	if err != nil {
		panic(err)
	}
	return p
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// StatusStore is the persistence the status operations need.
type StatusStore interface {
	GetStatus(ctx context.Context, id string) (*tasks.Status, error)
	ListStatuses(ctx context.Context, f storage.StatusFilter) ([]*tasks.Status, error)
	UpdateStatus(ctx context.Context, id string, updater func(*tasks.Status) (*tasks.Status, error)) (*tasks.Status, error)
	DeleteStatus(ctx context.Context, id string, cleanup func([]tasks.Artifact) error) error
	CountStatuses(ctx context.Context) (map[tasks.State]int, error)
}

// ArtifactStore is the persistence the artifact operations need.
type ArtifactStore interface {
	GetArtifact(ctx context.Context, id string) (*tasks.Artifact, string, error)
	ListArtifacts(ctx context.Context, f storage.ArtifactFilter) ([]tasks.Artifact, error)
}

// Authorizer answers object-level permission questions.
type Authorizer interface {
	Decide(userID string, perm access.Permission, owner string) access.Decision
	Scope(userID string, perm access.Permission) access.Scope
}

// BlobDeleter removes artifact files.
type BlobDeleter interface {
	Delete(key string) error
}

// check maps an authorization decision to a service error.
func check(auth Authorizer, caller string, perm access.Permission, owner string) error {
	switch auth.Decide(caller, perm, owner) {
	case access.Allow:
		return nil
	case access.Deny:
		return ErrForbidden
	default:
		return ErrNotFound
	}
}

// ownerFilter narrows a list query to what the caller may view. ok is false
// when the caller can view nothing.
func ownerFilter(auth Authorizer, caller string, perm access.Permission) (owner string, ok bool) {
	switch auth.Scope(caller, perm) {
	case access.ScopeAny:
		return "", true
	case access.ScopeOwn:
		if caller == "" {
			return "", false
		}
		return caller, true
	default:
		return "", false
	}
}

// storeErr translates storage errors into service errors.
func storeErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
