// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// SignalSource is a fan-out of cancellation signals, such as
// tasks.Broadcaster.
type SignalSource interface {
	Subscribe(name string) <-chan tasks.Signal
	Unsubscribe(name string)
}

// SignalFeed hands cancellation signals to remote execution engines,
// filtered to the records each subscriber may view.
type SignalFeed struct {
	source SignalSource
	auth   Authorizer
}

// NewSignalFeed wires a feed over source.
func NewSignalFeed(source SignalSource, auth Authorizer) *SignalFeed {
	return &SignalFeed{source: source, auth: auth}
}

// Subscribe returns the signals for records caller may view until ctx is
// done, when the channel is closed. A caller that can view no record gets
// ErrForbidden.
func (f *SignalFeed) Subscribe(ctx context.Context, caller string) (<-chan tasks.Signal, error) {
	scope := f.auth.Scope(caller, permViewStatus)
	if scope == access.ScopeNone {
		return nil, ErrForbidden
	}

	name := caller + "/" + uuid.NewString()
	in := f.source.Subscribe(name)
	out := make(chan tasks.Signal)

	logger.Logger.Info().
		Str("event", "signal_subscriber_joined").
		Str("subscriber", name).
		Msg("engine subscribed to cancellation signals")

	go func() {
		defer close(out)
		defer f.source.Unsubscribe(name)
		for {
			select {
			case <-ctx.Done():
				logger.Logger.Info().
					Str("event", "signal_subscriber_left").
					Str("subscriber", name).
					Msg("engine unsubscribed from cancellation signals")
				return
			case sig, ok := <-in:
				if !ok {
					return
				}
				if !scope.Covers(caller, sig.UserID) {
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
