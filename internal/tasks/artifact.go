// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidArtifact is returned when an artifact does not carry exactly one
// payload or has no name.
var ErrInvalidArtifact = errors.New("invalid artifact")

// Artifact is an output produced by a task: a stored file, inline text, or a
// URL reference.
type Artifact struct {
	ID       string
	StatusID string

	// Name is unique within the owning status
	Name string

	// File is the blob store key, empty when the artifact has no file
	File string
	Text string
	URL  string

	// Status is an advisory label, e.g. "error"
	Status string

	Created  time.Time
	Modified time.Time
}

// NewArtifact builds an artifact for statusID. Exactly one of file, text or
// url must be non-empty.
func NewArtifact(statusID, name, file, text, url string) (*Artifact, error) {
	a := &Artifact{
		ID:       uuid.New().String(),
		StatusID: statusID,
		Name:     strings.TrimSpace(name),
		File:     file,
		Text:     text,
		URL:      url,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	ts := now()
	a.Created = ts
	a.Modified = ts
	return a, nil
}

// Validate checks the name and the single-payload rule.
func (a *Artifact) Validate() error {
	if a.StatusID == "" {
		return fmt.Errorf("%w: missing status id", ErrInvalidArtifact)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidArtifact)
	}
	payloads := 0
	for _, p := range []string{a.File, a.Text, a.URL} {
		if p != "" {
			payloads++
		}
	}
	if payloads != 1 {
		return fmt.Errorf("%w: %q has %d payloads, want exactly one", ErrInvalidArtifact, a.Name, payloads)
	}
	return nil
}

// HasFile reports whether the artifact is backed by a stored blob.
func (a *Artifact) HasFile() bool {
	return a.File != ""
}
