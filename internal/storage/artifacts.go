// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/usertasks/internal/tasks"
)

// ArtifactFilter narrows ListArtifacts. Zero fields do not filter.
type ArtifactFilter struct {
	// Owner restricts results to artifacts of records owned by this user
	Owner string

	StatusID string
	Name     string

	Limit  int
	Offset int
}

const artifactColumns = `a.id, a.status_id, a.name, a.file, a.text, a.url, a.status, a.created, a.modified`

// returningArtifactColumns matches artifactColumns for RETURNING clauses,
// which cannot use a table alias.
const returningArtifactColumns = `id, status_id, name, file, text, url, status, created, modified`

func scanArtifact(row rowScanner, extra ...any) (tasks.Artifact, error) {
	var (
		a        tasks.Artifact
		created  int64
		modified int64
	)
	dest := append([]any{&a.ID, &a.StatusID, &a.Name, &a.File, &a.Text, &a.URL, &a.Status, &created, &modified}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, fmt.Errorf("scan artifact: %w", err)
	}
	a.Created = fromNanos(created)
	a.Modified = fromNanos(modified)
	return a, nil
}

// CreateArtifact inserts an artifact for an existing record. Names are
// unique per record.
func (s *Store) CreateArtifact(ctx context.Context, a *tasks.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(tx, "CreateArtifact:"+a.StatusID)

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM statuses WHERE id = ?`, a.StatusID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: status %s", ErrNotFound, a.StatusID)
	}
	if err != nil {
		return fmt.Errorf("check status: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, status_id, name, file, text, url, status, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StatusID, a.Name, a.File, a.Text, a.URL, a.Status, toNanos(a.Created), toNanos(a.Modified))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: artifact %q already exists for status %s", ErrConflict, a.Name, a.StatusID)
	}
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return tx.Commit()
}

// GetArtifact returns the artifact and the user that owns its record.
func (s *Store) GetArtifact(ctx context.Context, id string) (*tasks.Artifact, string, error) {
	var owner string
	a, err := scanArtifact(s.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`, s.user_id
		FROM artifacts a JOIN statuses s ON s.id = a.status_id
		WHERE a.id = ?`, id), &owner)
	if err != nil {
		return nil, "", err
	}
	return &a, owner, nil
}

// ListArtifacts returns matching artifacts, newest first.
func (s *Store) ListArtifacts(ctx context.Context, f ArtifactFilter) ([]tasks.Artifact, error) {
	var (
		where []string
		args  []any
	)
	if f.Owner != "" {
		where = append(where, "s.user_id = ?")
		args = append(args, f.Owner)
	}
	if f.StatusID != "" {
		where = append(where, "a.status_id = ?")
		args = append(args, f.StatusID)
	}
	if f.Name != "" {
		where = append(where, "a.name = ?")
		args = append(args, f.Name)
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts a JOIN statuses s ON s.id = a.status_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.created DESC, a.rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []tasks.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// artifactsFor loads the artifacts of the given records keyed by status id,
// oldest first within each record.
func (s *Store) artifactsFor(ctx context.Context, statusIDs []string) (map[string][]tasks.Artifact, error) {
	out := make(map[string][]tasks.Artifact)
	if len(statusIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(statusIDs))
	for i, id := range statusIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts a
		WHERE a.status_id IN (`+placeholders(len(statusIDs))+`)
		ORDER BY a.created, a.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out[a.StatusID] = append(out[a.StatusID], a)
	}
	return out, rows.Err()
}
