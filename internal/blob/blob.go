// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package blob stores artifact files on the local filesystem.
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/jeranaias/usertasks/internal/util"
)

var (
	// ErrInvalidPath is returned for keys that are empty, absolute, or escape
	// the store root.
	ErrInvalidPath = errors.New("invalid blob path")

	// ErrNotSupported is returned when a store cannot perform an operation,
	// e.g. deleting from a read-only store or resolving a URL without a base.
	ErrNotSupported = errors.New("operation not supported by blob store")
)

// IsCleanupWarning reports whether a delete failure is one of the expected
// kinds that destroy tolerates: invalid path, missing file, a path component
// that is not a directory, or an unsupported operation.
func IsCleanupWarning(err error) bool {
	return errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, ErrNotSupported)
}

// Store is the artifact blob store contract.
type Store interface {
	Save(userID, name string, r io.Reader) (key string, err error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
	URL(key string) (string, error)
}

// FileStore keeps blobs under a root directory, one subdirectory per user:
// <root>/user_tasks/<user>/<uuid>/<name>.
type FileStore struct {
	root     string
	baseURL  string
	readOnly bool
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithBaseURL sets the public URL prefix blobs are served from.
func WithBaseURL(base string) Option {
	return func(s *FileStore) {
		s.baseURL = strings.TrimRight(base, "/")
	}
}

// WithReadOnly rejects Save and Delete with ErrNotSupported.
func WithReadOnly() Option {
	return func(s *FileStore) {
		s.readOnly = true
	}
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	s := &FileStore{root: abs}
	for _, opt := range opts {
		opt(s)
	}
	if !s.readOnly {
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return nil, fmt.Errorf("create blob root: %w", err)
		}
	}
	return s, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string {
	return s.root
}

// KeyFor returns the storage key for a new file named name owned by userID.
func KeyFor(userID, name string) string {
	return path.Join("user_tasks", sanitize(userID), uuid.New().String(), sanitize(name))
}

// sanitize reduces a user-supplied segment to a single safe path element.
func sanitize(s string) string {
	s = strings.TrimSpace(filepath.Base(filepath.ToSlash(s)))
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Path resolves key to an absolute path inside the root.
func (s *FileStore) Path(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) || path.IsAbs(key) || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	clean := path.Clean(filepath.ToSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Save writes r under a fresh key for userID and returns the key.
func (s *FileStore) Save(userID, name string, r io.Reader) (string, error) {
	if s.readOnly {
		return "", ErrNotSupported
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	key := KeyFor(userID, name)
	p, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := util.AtomicWriteFileWithDir(p, data, 0o640, 0o750); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return key, nil
}

// Open returns a reader for key.
func (s *FileStore) Open(key string) (io.ReadCloser, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes the file for key along with its blob directory when that
// directory is left empty.
func (s *FileStore) Delete(key string) error {
	if s.readOnly {
		return ErrNotSupported
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return err
	}
	_ = os.Remove(filepath.Dir(p))
	return nil
}

// URL returns the public URL for key. Without a base URL the store cannot
// serve blobs itself and returns ErrNotSupported.
func (s *FileStore) URL(key string) (string, error) {
	if s.baseURL == "" {
		return "", ErrNotSupported
	}
	if _, err := s.Path(key); err != nil {
		return "", err
	}
	segments := strings.Split(path.Clean(key), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/"), nil
}
