// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/usertasks/internal/logger"
)

// grantsFile is the on-disk layout of a grants file:
//
//	[[users]]
//	id = "alice"
//	roles = ["operator"]
type grantsFile struct {
	Users []Grant `toml:"users" yaml:"users"`
}

// LoadGrantsFile reads grants from a TOML or YAML file (by extension).
func LoadGrantsFile(path string) ([]Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grants file: %w", err)
	}

	var gf grantsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&gf); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode grants file: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), &gf); err != nil {
			return nil, fmt.Errorf("decode grants file: %w", err)
		}
	}
	return gf.Users, nil
}

// =============================================================================
// GRANTS WATCHER
// =============================================================================

// GrantsWatcher reloads a grants file into an Authorizer whenever it changes.
// The parent directory is watched so that editors which replace the file by
// rename are picked up.
type GrantsWatcher struct {
	auth     *Authorizer
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	reloads int
}

// NewGrantsWatcher loads path into auth once and prepares a watcher.
func NewGrantsWatcher(auth *Authorizer, path string, debounce time.Duration) (*GrantsWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	gw := &GrantsWatcher{auth: auth, path: abs, debounce: debounce}
	if err := gw.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	gw.watcher = w
	return gw, nil
}

// Run processes file events until ctx is canceled, then closes the watcher.
func (gw *GrantsWatcher) Run(ctx context.Context) {
	defer gw.watcher.Close()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-gw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != gw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(gw.debounce)
			} else {
				timer.Reset(gw.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			if err := gw.reload(); err != nil {
				// Keep the previous grants on a bad edit
				logger.Logger.Error().Err(err).Str("path", gw.path).Msg("grants reload failed")
			}

		case err, ok := <-gw.watcher.Errors:
			if !ok {
				return
			}
			logger.Logger.Warn().Err(err).Str("path", gw.path).Msg("grants watcher error")
		}
	}
}

// Reloads returns how many times the file has been loaded successfully.
func (gw *GrantsWatcher) Reloads() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.reloads
}

func (gw *GrantsWatcher) reload() error {
	grants, err := LoadGrantsFile(gw.path)
	if err != nil {
		return err
	}
	if err := gw.auth.SetFileGrants(grants); err != nil {
		return err
	}
	gw.mu.Lock()
	gw.reloads++
	gw.mu.Unlock()
	logger.Logger.Info().Str("event", "grants_loaded").Str("path", gw.path).Int("users", len(grants)).Msg("grants file loaded")
	return nil
}
