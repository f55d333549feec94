// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists task status records and artifacts in SQLite.
//
// The store uses the pure Go modernc.org/sqlite driver with a single
// connection and WAL journaling. Records carry a version column so that
// UpdateStatus behaves as a compare-and-swap even when several processes
// share the database file.
//
// # Usage
//
//	store, err := storage.Open("/var/lib/usertasks/usertasks.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	updated, err := store.UpdateStatus(ctx, id, func(st *tasks.Status) (*tasks.Status, error) {
//	    if err := st.Start(); err != nil {
//	        return nil, err
//	    }
//	    return st, nil
//	})
package storage
