// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromPath_TOML(t *testing.T) {
	path := writeFile(t, "usertasks.toml", `
data_dir = "/var/lib/usertasks"

[server]
addr = "0.0.0.0:9000"
public_url = "https://tasks.example.com/"
read_timeout = "5s"

[[access.users]]
id = "alice"
roles = ["user"]

[[access.users]]
id = "root"
roles = ["admin"]
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "https://tasks.example.com", cfg.Server.PublicURL, "trailing slash trimmed")
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout, "default kept")
	assert.Equal(t, filepath.Join("/var/lib/usertasks", "usertasks.db"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join("/var/lib/usertasks", "media"), cfg.Blob.Root)
	require.Len(t, cfg.Access.Users, 2)

	u, ok := cfg.FindUser("root")
	require.True(t, ok)
	assert.Equal(t, []string{"admin"}, u.Roles)
}

func TestLoadFromPath_YAML(t *testing.T) {
	path := writeFile(t, "usertasks.yaml", `
data_dir: /srv/tasks
server:
  addr: 127.0.0.1:7000
auth:
  enabled: false
  anonymous_user: tester
storage:
  max_age: 48h
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Server.PublicURL)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "tester", cfg.Auth.AnonymousUser)
	assert.Equal(t, 48*time.Hour, cfg.Storage.MaxAge)
}

func TestLoadFromPath_UnknownKeys(t *testing.T) {
	_, err := LoadFromPath(writeFile(t, "bad.toml", "[server]\nport = 80\n"))
	assert.ErrorContains(t, err, "unknown keys")

	_, err = LoadFromPath(writeFile(t, "bad.yaml", "server:\n  port: 80\n"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("USERTASKS_ADDR", "127.0.0.1:9999")
	t.Setenv("USERTASKS_DB", "/tmp/x.db")
	t.Setenv("USERTASKS_AUTH", "false")
	t.Setenv("USERTASKS_LOG_LEVEL", "debug")
	t.Setenv("USERTASKS_SIGNAL_WEBHOOK", "http://engine.internal/cancel")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://engine.internal/cancel", cfg.Signals.WebhookURL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	cfg.Server.Addr = "no-port"
	cfg.Server.PublicURL = "ftp://example.com"
	cfg.Log.Level = "loud"
	cfg.Signals.WebhookURL = "engine:9000"
	cfg.Access.Users = []UserConfig{
		{ID: "alice", TokenHash: "plaintext"},
		{ID: "alice"},
		{ID: "a.b"},
		{ID: ""},
	}

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"server.addr",
		"server.public_url",
		"log.level",
		"signals.webhook_url",
		"access.users[0].token_hash",
		"access.users[1].id",
		"access.users[2].id",
		"access.users[3].id",
	} {
		assert.True(t, fields[want], "expected validation error for %s, got %v", want, verrs)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.Access.Users = []UserConfig{{ID: "alice", Roles: []string{"user"}}}
	cfg.SetDefaults()

	path := filepath.Join(t.TempDir(), "conf", "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server, loaded.Server)
	assert.Equal(t, cfg.Storage, loaded.Storage)
	assert.Equal(t, cfg.Access.Users, loaded.Access.Users)
}
