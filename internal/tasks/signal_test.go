// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(4)
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	sig := Signal{StatusID: "s1", UserID: "alice", At: time.Now()}
	require.NoError(t, b.Signal(context.Background(), sig))

	for _, ch := range []<-chan Signal{a, c} {
		select {
		case got := <-ch:
			assert.Equal(t, "s1", got.StatusID)
		case <-time.After(time.Second):
			t.Fatal("expected signal")
		}
	}
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	b := NewBroadcaster(1)
	ch := b.Subscribe("slow")

	require.NoError(t, b.Signal(context.Background(), Signal{StatusID: "s1"}))
	require.NoError(t, b.Signal(context.Background(), Signal{StatusID: "s2"}))

	got := <-ch
	assert.Equal(t, "s1", got.StatusID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected signal %s", extra.StatusID)
	default:
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(1)
	ch := b.Subscribe("x")
	b.Unsubscribe("x")

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, b.Signal(context.Background(), Signal{StatusID: "s1"}))
}

func TestMultiSignaler(t *testing.T) {
	var calls int
	ok := SignalFunc(func(context.Context, Signal) error { calls++; return nil })
	bad := SignalFunc(func(context.Context, Signal) error { calls++; return errors.New("engine down") })

	err := MultiSignaler{bad, nil, ok}.Signal(context.Background(), Signal{StatusID: "s1"})
	assert.EqualError(t, err, "engine down")
	assert.Equal(t, 2, calls)
}
