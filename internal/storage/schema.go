// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema creates the status and artifact tables. Timestamps are Unix
// nanoseconds in UTC.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS statuses (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    task_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    state TEXT NOT NULL,
    state_text TEXT NOT NULL DEFAULT '',
    completed_steps INTEGER NOT NULL DEFAULT 0,
    total_steps INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 1,
    created INTEGER NOT NULL,
    modified INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,  -- bumped on every update, used for compare-and-swap
    CHECK (total_steps = 0 OR completed_steps <= total_steps),
    CHECK (modified >= created)
);

CREATE INDEX IF NOT EXISTS idx_statuses_created ON statuses(created DESC);
CREATE INDEX IF NOT EXISTS idx_statuses_user ON statuses(user_id, created DESC);
CREATE INDEX IF NOT EXISTS idx_statuses_state ON statuses(state);

CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    status_id TEXT NOT NULL,
    name TEXT NOT NULL,
    file TEXT NOT NULL DEFAULT '',   -- blob store key
    text TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '', -- advisory label
    created INTEGER NOT NULL,
    modified INTEGER NOT NULL,
    UNIQUE(status_id, name),
    FOREIGN KEY(status_id) REFERENCES statuses(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status_id);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
