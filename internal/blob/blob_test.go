// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package blob

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...Option) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func TestFileStore_SaveOpenDelete(t *testing.T) {
	s := newStore(t)

	key, err := s.Save("alice", "grades.csv", strings.NewReader("id,grade\n1,A\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "user_tasks/alice/"), key)
	assert.True(t, strings.HasSuffix(key, "/grades.csv"), key)

	rc, err := s.Open(key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "id,grade\n1,A\n", string(data))

	require.NoError(t, s.Delete(key))
	p, _ := s.Path(key)
	_, err = os.Stat(p)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, err = os.Stat(filepath.Dir(p))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "empty blob directory should be removed")
}

func TestFileStore_SanitizesNames(t *testing.T) {
	s := newStore(t)
	key, err := s.Save("../bob", "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)

	p, err := s.Path(key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, s.Root()+string(filepath.Separator)), p)
	assert.Equal(t, "passwd", filepath.Base(p))
}

func TestFileStore_PathRejectsEscapes(t *testing.T) {
	s := newStore(t)
	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../outside", ".", "a\x00b"} {
		_, err := s.Path(key)
		assert.ErrorIs(t, err, ErrInvalidPath, "key %q", key)
	}
}

func TestFileStore_DeleteFailureKinds(t *testing.T) {
	s := newStore(t)

	// Missing file
	err := s.Delete("user_tasks/alice/missing/file.txt")
	require.Error(t, err)
	assert.True(t, IsCleanupWarning(err))

	// Invalid path
	err = s.Delete("../escape")
	assert.True(t, IsCleanupWarning(err))

	// A regular file used as a directory component
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "user_tasks", "alice"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "user_tasks", "alice", "flat"), []byte("x"), 0o640))
	err = s.Delete("user_tasks/alice/flat/file.txt")
	require.Error(t, err)
	assert.True(t, IsCleanupWarning(err), "got %v", err)

	// Read-only store
	ro := newStore(t, WithReadOnly())
	assert.True(t, IsCleanupWarning(ro.Delete("user_tasks/alice/x/y")))
}

func TestIsCleanupWarning_OtherErrors(t *testing.T) {
	assert.False(t, IsCleanupWarning(fs.ErrPermission))
	assert.False(t, IsCleanupWarning(errors.New("disk on fire")))
	assert.False(t, IsCleanupWarning(nil))
}

func TestFileStore_URL(t *testing.T) {
	s := newStore(t)
	_, err := s.URL("user_tasks/alice/x/report.csv")
	assert.ErrorIs(t, err, ErrNotSupported)

	s = newStore(t, WithBaseURL("https://cdn.example.com/media/"))
	u, err := s.URL("user_tasks/alice/x/my report.csv")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/media/user_tasks/alice/x/my%20report.csv", u)
}
