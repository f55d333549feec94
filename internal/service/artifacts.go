// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"io"

	"github.com/jeranaias/usertasks/internal/storage"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// ArtifactFilter holds the caller-supplied artifact criteria.
type ArtifactFilter struct {
	StatusID string
	Name     string
	Limit    int
	Offset   int
}

// BlobOpener reads artifact files.
type BlobOpener interface {
	Open(key string) (io.ReadCloser, error)
}

// ArtifactService gives read-only access to artifacts.
type ArtifactService struct {
	store ArtifactStore
	blobs BlobOpener
	auth  Authorizer
}

// NewArtifactService wires an artifact service. blobs may be nil, in which
// case OpenFile always reports ErrNotFound.
func NewArtifactService(store ArtifactStore, blobs BlobOpener, auth Authorizer) *ArtifactService {
	return &ArtifactService{store: store, blobs: blobs, auth: auth}
}

// List returns the artifacts the caller may view, newest first.
func (s *ArtifactService) List(ctx context.Context, caller string, f ArtifactFilter) ([]tasks.Artifact, error) {
	owner, ok := ownerFilter(s.auth, caller, permViewArtifact)
	if !ok {
		return []tasks.Artifact{}, nil
	}
	out, err := s.store.ListArtifacts(ctx, storage.ArtifactFilter{
		Owner:    owner,
		StatusID: f.StatusID,
		Name:     f.Name,
		Limit:    f.Limit,
		Offset:   f.Offset,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []tasks.Artifact{}
	}
	return out, nil
}

// Retrieve returns one artifact, checked against its record's owner.
func (s *ArtifactService) Retrieve(ctx context.Context, caller, id string) (*tasks.Artifact, error) {
	a, owner, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := check(s.auth, caller, permViewArtifact, owner); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenFile returns a reader for the artifact's file. Artifacts without a
// file, and files missing from the blob store, yield ErrNotFound.
func (s *ArtifactService) OpenFile(ctx context.Context, caller, id string) (*tasks.Artifact, io.ReadCloser, error) {
	a, err := s.Retrieve(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	if !a.HasFile() || s.blobs == nil {
		return nil, nil, ErrNotFound
	}
	rc, err := s.blobs.Open(a.File)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	return a, rc, nil
}
