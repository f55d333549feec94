// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/usertasks/internal/tasks"
)

func receive(t *testing.T, ch <-chan tasks.Signal) tasks.Signal {
	t.Helper()
	select {
	case sig, ok := <-ch:
		require.True(t, ok, "feed closed")
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal received")
		return tasks.Signal{}
	}
}

func TestSignalFeed_FiltersByViewScope(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := tasks.NewBroadcaster(10)
	feed := NewSignalFeed(b, f.auth)
	svc := NewStatusService(f.store, f.blobs, f.auth, b)

	engine, err := feed.Subscribe(ctx, "root")
	require.NoError(t, err)
	alice, err := feed.Subscribe(ctx, "alice")
	require.NoError(t, err)

	bobs, err := f.reporter.Create(ctx, "bob", "bob's export", 0, "job-b")
	require.NoError(t, err)
	alices, err := f.reporter.Create(ctx, "alice", "alice's export", 0, "job-a")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "bob", bobs.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "alice", alices.ID)
	require.NoError(t, err)

	assert.Equal(t, "job-b", receive(t, engine).TaskID)
	assert.Equal(t, "job-a", receive(t, engine).TaskID)

	// alice never sees bob's signal
	sig := receive(t, alice)
	assert.Equal(t, alices.ID, sig.StatusID)
	assert.Equal(t, "alice", sig.UserID)
}

func TestSignalFeed_ClosesWhenContextEnds(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	b := tasks.NewBroadcaster(10)
	ch, err := NewSignalFeed(b, f.auth).Subscribe(ctx, "audit")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("feed not closed")
	}
}

func TestSignalFeed_NoViewScopeForbidden(t *testing.T) {
	f := newFixture(t)
	_, err := NewSignalFeed(tasks.NewBroadcaster(1), f.auth).Subscribe(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrForbidden)
}
