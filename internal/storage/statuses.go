// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/usertasks/internal/tasks"
)

// StatusFilter narrows ListStatuses. Zero fields do not filter.
type StatusFilter struct {
	// Owner restricts results to records owned by this user (visibility)
	Owner string

	// UserID is the caller-requested user filter
	UserID string

	States []tasks.State

	// Name matches records whose name contains this substring
	Name string

	// CreatedBefore selects records created strictly before this time
	CreatedBefore time.Time

	Limit  int
	Offset int
}

const statusColumns = `id, user_id, task_id, name, state, state_text,
	completed_steps, total_steps, attempts, created, modified, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*tasks.Status, int64, error) {
	var (
		st       tasks.Status
		state    string
		created  int64
		modified int64
		version  int64
	)
	err := row.Scan(&st.ID, &st.UserID, &st.TaskID, &st.Name, &state, &st.StateText,
		&st.CompletedSteps, &st.TotalSteps, &st.Attempts, &created, &modified, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("scan status: %w", err)
	}
	st.State = tasks.State(state)
	st.Created = fromNanos(created)
	st.Modified = fromNanos(modified)
	return &st, version, nil
}

// CreateStatus inserts a new record.
func (s *Store) CreateStatus(ctx context.Context, st *tasks.Status) error {
	if st == nil || st.ID == "" {
		return errors.New("status with id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (`+statusColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		st.ID, st.UserID, st.TaskID, st.Name, string(st.State), st.StateText,
		st.CompletedSteps, st.TotalSteps, st.Attempts, toNanos(st.Created), toNanos(st.Modified))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: status %s already exists", ErrConflict, st.ID)
	}
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

// GetStatus returns the record with its artifacts.
func (s *Store) GetStatus(ctx context.Context, id string) (*tasks.Status, error) {
	st, _, err := scanStatus(s.db.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM statuses WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	arts, err := s.artifactsFor(ctx, []string{st.ID})
	if err != nil {
		return nil, err
	}
	st.Artifacts = arts[st.ID]
	return st, nil
}

// ListStatuses returns matching records, most recently created first, with
// their artifacts.
func (s *Store) ListStatuses(ctx context.Context, f StatusFilter) ([]*tasks.Status, error) {
	var (
		where []string
		args  []any
	)
	if f.Owner != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.Owner)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	if f.Name != "" {
		where = append(where, "instr(name, ?) > 0")
		args = append(args, f.Name)
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created < ?")
		args = append(args, toNanos(f.CreatedBefore))
	}

	query := `SELECT ` + statusColumns + ` FROM statuses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var (
		out []*tasks.Status
		ids []string
	)
	for rows.Next() {
		st, _, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
		ids = append(ids, st.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	rows.Close()

	arts, err := s.artifactsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, st := range out {
		st.Artifacts = arts[st.ID]
	}
	return out, nil
}

// UpdateStatus applies updater to the current record and persists the
// result atomically. The write only succeeds if the record has not changed
// since it was read; otherwise the updater runs again on the fresh copy.
//
// updater may return (nil, nil) to leave the record as it is; the current
// record is then returned unchanged. An updater error aborts without writing.
func (s *Store) UpdateStatus(ctx context.Context, id string, updater func(*tasks.Status) (*tasks.Status, error)) (*tasks.Status, error) {
	if updater == nil {
		return nil, errors.New("nil updater")
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		updated, done, err := s.tryUpdateStatus(ctx, id, updater)
		if err != nil {
			return nil, err
		}
		if done {
			return updated, nil
		}
	}
	return nil, fmt.Errorf("%w: status %s changed concurrently", ErrConflict, id)
}

func (s *Store) tryUpdateStatus(ctx context.Context, id string, updater func(*tasks.Status) (*tasks.Status, error)) (*tasks.Status, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(tx, "UpdateStatus:"+id)

	current, version, err := scanStatus(tx.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM statuses WHERE id = ?`, id))
	if err != nil {
		return nil, false, err
	}

	updated, err := updater(current.Clone())
	if err != nil {
		return nil, false, err
	}
	if updated == nil {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit status read: %w", err)
		}
		return current, true, nil
	}
	if updated.Modified.Before(updated.Created) {
		updated.Modified = updated.Created
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE statuses SET
			task_id = ?,
			name = ?,
			state = ?,
			state_text = ?,
			completed_steps = ?,
			total_steps = ?,
			attempts = ?,
			modified = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		updated.TaskID, updated.Name, string(updated.State), updated.StateText,
		updated.CompletedSteps, updated.TotalSteps, updated.Attempts, toNanos(updated.Modified),
		id, version)
	if err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		// Lost the race to another writer; caller retries on a fresh read
		return nil, false, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit status update: %w", err)
	}
	return updated, true, nil
}

// DeleteStatus removes the record and its artifact rows in one transaction.
// The artifact rows are deleted first, which takes the write lock, so no
// artifact can be attached between the read and the delete. cleanup, when
// non-nil, receives the removed artifacts before commit; an error from it
// rolls the whole delete back.
func (s *Store) DeleteStatus(ctx context.Context, id string, cleanup func([]tasks.Artifact) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(tx, "DeleteStatus:"+id)

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM artifacts WHERE status_id = ? RETURNING `+returningArtifactColumns, id)
	if err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	var removed []tasks.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			rows.Close()
			return err
		}
		removed = append(removed, a)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM statuses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if cleanup != nil {
		if err := cleanup(removed); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status delete: %w", err)
	}
	return nil
}

// CountStatuses returns the number of records per state.
func (s *Store) CountStatuses(ctx context.Context) (map[tasks.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM statuses GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[tasks.State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count statuses: %w", err)
		}
		counts[tasks.State(state)] = n
	}
	return counts, rows.Err()
}
