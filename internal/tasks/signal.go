// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/usertasks/internal/logger"
)

// =============================================================================
// CANCELLATION SIGNAL
// =============================================================================

// Signal tells the execution engine that a record was canceled.
type Signal struct {
	StatusID string    `json:"status_id"`
	TaskID   string    `json:"task_id"`
	UserID   string    `json:"user_id"`
	At       time.Time `json:"at"`
}

// Signaler delivers cancellation signals to the execution engine.
type Signaler interface {
	Signal(ctx context.Context, sig Signal) error
}

// SignalFunc adapts a function to the Signaler interface.
type SignalFunc func(ctx context.Context, sig Signal) error

// Signal calls f.
func (f SignalFunc) Signal(ctx context.Context, sig Signal) error {
	return f(ctx, sig)
}

// MultiSignaler delivers to every member, joining their errors.
type MultiSignaler []Signaler

// Signal delivers sig to each member even when an earlier one fails.
func (m MultiSignaler) Signal(ctx context.Context, sig Signal) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Signal(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// BROADCASTER
// =============================================================================

// Broadcaster fans signals out to subscriber channels. Sends never block: a
// full subscriber drops the signal and a warning is logged.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Signal
	buffer      int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer
// pending signals.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 100
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Signal),
		buffer:      buffer,
	}
}

// Subscribe registers a named subscriber. Subscribing an existing name
// returns the existing channel.
func (b *Broadcaster) Subscribe(name string) <-chan Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[name]; ok {
		return ch
	}
	ch := make(chan Signal, b.buffer)
	b.subscribers[name] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[name]; ok {
		delete(b.subscribers, name)
		close(ch)
	}
}

// Signal implements Signaler.
func (b *Broadcaster) Signal(_ context.Context, sig Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, ch := range b.subscribers {
		select {
		case ch <- sig:
		default:
			logger.Logger.Warn().
				Str("event", "signal_dropped").
				Str("subscriber", name).
				Str("status_id", sig.StatusID).
				Msg("subscriber channel full, dropped cancellation signal")
		}
	}
	return nil
}
