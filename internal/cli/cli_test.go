// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/config"
	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// =============================================================================
// HELPERS
// =============================================================================

type cliEnv struct {
	dir  string
	base []string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	return &cliEnv{
		dir: dir,
		base: []string{
			"--db", filepath.Join(dir, "tasks.db"),
			"--blob-root", filepath.Join(dir, "media"),
		},
	}
}

func (c *cliEnv) run(args ...string) (string, string, error) {
	root := NewRootCommand(VersionInfo{Version: "1.2.3", Commit: "abc", Date: "today"})
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(append([]string{}, c.base...), args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func (c *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := c.run(args...)
	require.NoError(t, err, "stderr: %s", errOut)
	return out
}

func (c *cliEnv) create(t *testing.T, owner, name string, steps int) string {
	t.Helper()
	out := c.mustRun(t, "report", "create", "--owner", owner, "--name", name, "--steps", fmt.Sprint(steps))
	return strings.TrimSpace(out)
}

func (c *cliEnv) getStatus(t *testing.T, id string) statusJSON {
	t.Helper()
	var st statusJSON
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(t, "status", "get", id, "-o", "json")), &st))
	return st
}

func (c *cliEnv) listStatuses(t *testing.T, args ...string) []statusJSON {
	t.Helper()
	var list []statusJSON
	out := c.mustRun(t, append([]string{"status", "list", "-o", "json"}, args...)...)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	return list
}

// =============================================================================
// VERSION
// =============================================================================

func TestVersionCommand(t *testing.T) {
	c := newCLIEnv(t)
	out := c.mustRun(t, "version")
	assert.Contains(t, out, "Version:    1.2.3")
	assert.Contains(t, out, "Commit:     abc")
}

// =============================================================================
// STATUS LIFECYCLE
// =============================================================================

func TestReportAndStatusLifecycle(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "nightly export", 4)
	require.NotEmpty(t, id)

	st := c.getStatus(t, id)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, string(tasks.StatePending), st.State)
	assert.Equal(t, 4, st.TotalSteps)

	c.mustRun(t, "report", "start", id)
	c.mustRun(t, "report", "progress", id, "--completed", "2")
	c.mustRun(t, "report", "progress", id, "--increment", "1")

	st = c.getStatus(t, id)
	assert.Equal(t, string(tasks.StateInProgress), st.State)
	assert.Equal(t, 3, st.CompletedSteps)
	assert.Equal(t, 4, st.TotalSteps)

	var canceled statusJSON
	out := c.mustRun(t, "status", "cancel", id, "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &canceled))
	assert.Equal(t, string(tasks.StateCanceled), canceled.State)

	_, _, err := c.run("report", "succeed", id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tasks.ErrInvalidTransition))
	assert.Equal(t, string(tasks.StateCanceled), c.getStatus(t, id).State)
}

func TestReportProgressRequiresOneMode(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "job", 10)

	_, _, err := c.run("report", "progress", id)
	require.Error(t, err)

	_, _, err = c.run("report", "progress", id, "--completed", "1", "--increment", "1")
	require.Error(t, err)
}

func TestReportProgressBeyondTotalRejected(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "job", 2)

	_, _, err := c.run("report", "progress", id, "--completed", "3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tasks.ErrInvalidProgress))
	assert.Equal(t, 0, c.getStatus(t, id).CompletedSteps)
}

func TestStatusListFilters(t *testing.T) {
	c := newCLIEnv(t)
	first := c.create(t, "alice", "first job", 0)
	second := c.create(t, "bob", "second job", 0)
	c.mustRun(t, "report", "start", second)

	all := c.listStatuses(t)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID, "newest first")
	assert.Equal(t, first, all[1].ID)

	pending := c.listStatuses(t, "--state", "Pending")
	require.Len(t, pending, 1)
	assert.Equal(t, first, pending[0].ID)

	bobs := c.listStatuses(t, "--owner", "bob")
	require.Len(t, bobs, 1)
	assert.Equal(t, second, bobs[0].ID)

	named := c.listStatuses(t, "--name", "first")
	require.Len(t, named, 1)
	assert.Equal(t, first, named[0].ID)

	_, _, err := c.run("status", "list", "--state", "Sleeping")
	require.Error(t, err)
}

func TestStatusListEmptyIsJSONArray(t *testing.T) {
	c := newCLIEnv(t)
	out := c.mustRun(t, "status", "list", "-o", "json")
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestStatusListTable(t *testing.T) {
	c := newCLIEnv(t)
	c.create(t, "alice", "render thumbnails", 5)

	out := c.mustRun(t, "status", "list", "-o", "table")
	assert.Contains(t, out, "STATE")
	assert.Contains(t, out, "render thumbnails")
	assert.Contains(t, out, "0/5")
	assert.Contains(t, out, "alice")
}

func TestUnknownOutputFormat(t *testing.T) {
	c := newCLIEnv(t)
	_, _, err := c.run("status", "list", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestStatusDelete(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "job", 0)

	out := c.mustRun(t, "status", "delete", id)
	assert.Contains(t, out, "Deleted "+id)

	_, _, err := c.run("status", "get", id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotFound))

	_, _, err = c.run("status", "delete", id)
	assert.True(t, errors.Is(err, service.ErrNotFound))
}

func TestRestrictedCLIUserSeesOwnRecords(t *testing.T) {
	c := newCLIEnv(t)
	cfgPath := filepath.Join(c.dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[[access.users]]
id = "bob"
roles = ["user"]
`), 0o600))

	c.create(t, "alice", "alice job", 0)
	bobs := c.create(t, "bob", "bob job", 0)

	var list []statusJSON
	out := c.mustRun(t, "--config", cfgPath, "--user", "bob", "status", "list", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, bobs, list[0].ID)

	// an unconfigured CLI user acts as admin
	assert.Len(t, c.listStatuses(t, "--user", "carol"), 2)
}

func TestStatusCount(t *testing.T) {
	c := newCLIEnv(t)
	c.create(t, "alice", "one", 0)
	id := c.create(t, "bob", "two", 0)
	c.mustRun(t, "status", "cancel", id)

	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(t, "status", "count", "-o", "json")), &counts))
	assert.Equal(t, 1, counts[string(tasks.StatePending)])
	assert.Equal(t, 1, counts[string(tasks.StateCanceled)])
	assert.Equal(t, 0, counts[string(tasks.StateRetrying)])

	table := c.mustRun(t, "status", "count", "-o", "table")
	assert.Contains(t, table, "Total")
}

// =============================================================================
// CANCELLATION SIGNALS
// =============================================================================

func TestCancelPostsToWebhook(t *testing.T) {
	received := make(chan tasks.Signal, 1)
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sig tasks.Signal
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sig))
		received <- sig
		w.WriteHeader(http.StatusNoContent)
	}))
	defer engine.Close()

	c := newCLIEnv(t)
	t.Setenv("USERTASKS_SIGNAL_WEBHOOK", engine.URL)
	out := c.mustRun(t, "report", "create", "--owner", "alice", "--name", "export", "--task-id", "job-42")
	id := strings.TrimSpace(out)

	_, errOut, err := c.run("status", "cancel", id)
	require.NoError(t, err)
	assert.NotContains(t, errOut, "warning")

	select {
	case sig := <-received:
		assert.Equal(t, id, sig.StatusID)
		assert.Equal(t, "job-42", sig.TaskID)
		assert.Equal(t, "alice", sig.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestCancelWebhookFailureWarns(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer engine.Close()

	c := newCLIEnv(t)
	t.Setenv("USERTASKS_SIGNAL_WEBHOOK", engine.URL)
	id := c.create(t, "alice", "export", 0)

	_, errOut, err := c.run("status", "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, errOut, "warning")
	assert.Equal(t, string(tasks.StateCanceled), c.getStatus(t, id).State)
}

// =============================================================================
// ARTIFACTS
// =============================================================================

func TestArtifactsAttachListAndCat(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "export", 1)

	src := filepath.Join(c.dir, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o600))

	fileID := strings.TrimSpace(c.mustRun(t, "report", "attach", id, "--name", "report.csv", "--file", src))
	textID := strings.TrimSpace(c.mustRun(t, "report", "attach", id, "--name", "summary", "--text", "2 rows"))
	urlID := strings.TrimSpace(c.mustRun(t, "report", "attach", id, "--name", "dashboard", "--url", "https://example.com/d/1"))

	var list []artifactJSON
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(t, "artifacts", "list", id, "-o", "json")), &list))
	require.Len(t, list, 3)

	assert.Equal(t, "a,b\n1,2\n", c.mustRun(t, "artifacts", "cat", fileID))
	assert.Equal(t, "2 rows", c.mustRun(t, "artifacts", "cat", textID))
	assert.Equal(t, "https://example.com/d/1\n", c.mustRun(t, "artifacts", "cat", urlID))

	st := c.getStatus(t, id)
	assert.Len(t, st.Artifacts, 3)
}

func TestAttachRequiresExactlyOnePayload(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "export", 1)

	_, _, err := c.run("report", "attach", id, "--name", "x")
	require.Error(t, err)

	_, _, err = c.run("report", "attach", id, "--name", "x", "--text", "a", "--url", "https://example.com")
	require.Error(t, err)
}

func TestDeleteRemovesArtifactFiles(t *testing.T) {
	c := newCLIEnv(t)
	id := c.create(t, "alice", "export", 1)
	src := filepath.Join(c.dir, "out.bin")
	require.NoError(t, os.WriteFile(src, []byte{1, 2, 3}, 0o600))
	c.mustRun(t, "report", "attach", id, "--name", "out.bin", "--file", src)

	st := c.getStatus(t, id)
	require.Len(t, st.Artifacts, 1)
	stored := filepath.Join(c.dir, "media", filepath.FromSlash(st.Artifacts[0].File))
	require.FileExists(t, stored)

	c.mustRun(t, "status", "delete", id)
	assert.NoFileExists(t, stored)
}

// =============================================================================
// PURGE
// =============================================================================

func TestPurge(t *testing.T) {
	c := newCLIEnv(t)
	c.create(t, "alice", "old", 0)
	time.Sleep(20 * time.Millisecond)

	out := c.mustRun(t, "purge", "--older-than", "10ms")
	assert.Contains(t, out, "Purged 1 task statuses")
	assert.Empty(t, c.listStatuses(t))

	_, _, err := c.run("purge", "--older-than", "-1h")
	require.Error(t, err)
}

// =============================================================================
// CONFIG AND TOKENS
// =============================================================================

func TestConfigInitAndShow(t *testing.T) {
	c := newCLIEnv(t)
	path := filepath.Join(c.dir, "conf", "usertasks.toml")

	out := c.mustRun(t, "config", "init", path)
	assert.Contains(t, out, path)
	require.FileExists(t, path)

	_, _, err := c.run("config", "init", path)
	require.Error(t, err)
	c.mustRun(t, "config", "init", path, "--force")

	shown := c.mustRun(t, "--config", path, "config", "show", "--format", "yaml")
	assert.Contains(t, shown, "127.0.0.1:8080")
	assert.Contains(t, shown, filepath.Join(c.dir, "tasks.db"), "flag overrides the file")

	shown = c.mustRun(t, "--config", path, "config", "show")
	assert.Contains(t, shown, "[server]")
}

func TestConfigValidate(t *testing.T) {
	c := newCLIEnv(t)
	good := filepath.Join(c.dir, "good.toml")
	c.mustRun(t, "config", "init", good)
	out := c.mustRun(t, "config", "validate", good)
	assert.Contains(t, out, "OK")

	bad := filepath.Join(c.dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`
[log]
level = "loud"

[signals]
webhook_url = "engine:9000"
`), 0o600))
	_, errOut, err := c.run("config", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 configuration problem(s)")
	assert.Contains(t, errOut, "log.level")
	assert.Contains(t, errOut, "signals.webhook_url")

	// --config is used when no path is given
	_, _, err = c.run("--config", bad, "config", "validate")
	assert.Error(t, err)
}

func TestEnvironmentBindsGlobalFlags(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERTASKS_DB", filepath.Join(dir, "env.db"))
	t.Setenv("USERTASKS_BLOB_ROOT", filepath.Join(dir, "blobs"))

	c := &cliEnv{dir: dir}
	shown := c.mustRun(t, "config", "show", "--format", "yaml")
	assert.Contains(t, shown, filepath.Join(dir, "env.db"))
	assert.Contains(t, shown, filepath.Join(dir, "blobs"))
}

func TestTokenCreate(t *testing.T) {
	c := newCLIEnv(t)
	out, errOut, err := c.run("token", "create", "alice", "--role", "operator")
	require.NoError(t, err)

	token := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(token, "alice."))
	assert.Contains(t, errOut, `roles = ["operator"]`)

	m := regexp.MustCompile(`token_hash = "([^"]+)"`).FindStringSubmatch(errOut)
	require.Len(t, m, 2)

	auth, err := access.NewAuthorizer([]access.Grant{{ID: "alice", Roles: []string{"operator"}, TokenHash: m[1]}})
	require.NoError(t, err)
	user, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, _, err = c.run("token", "create", "alice", "--role", "root")
	require.Error(t, err)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatchFinishedTask(t *testing.T) {
	c := newCLIEnv(t)
	ok := c.create(t, "alice", "done", 1)
	c.mustRun(t, "report", "start", ok)
	c.mustRun(t, "report", "progress", ok, "--completed", "1")
	c.mustRun(t, "report", "succeed", ok)

	out := c.mustRun(t, "watch", ok, "--interval", "10ms")
	assert.Contains(t, out, "Succeeded")

	failed := c.create(t, "alice", "broken", 0)
	c.mustRun(t, "report", "start", failed)
	c.mustRun(t, "report", "fail", failed, "--reason", "disk full")
	out, _, err := c.run("watch", failed, "--interval", "10ms")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskUnsuccessful))
	assert.Contains(t, out, "disk full")
}

func TestWatchPlainFollowsProgress(t *testing.T) {
	st := &tasks.Status{ID: "s1", Name: "job", State: tasks.StateInProgress, TotalSteps: 3, Attempts: 1}
	calls := 0
	fetch := func(context.Context) (*tasks.Status, error) {
		calls++
		cur := st.Clone()
		cur.CompletedSteps = calls
		if calls == 3 {
			cur.State = tasks.StateSucceeded
		}
		return cur, nil
	}

	var buf bytes.Buffer
	final, err := watchPlain(context.Background(), &buf, fetch, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, tasks.StateSucceeded, final.State)
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestWatchModel(t *testing.T) {
	m := newWatchModel(context.Background(), nil, time.Second)
	assert.Contains(t, m.View(), "Loading")

	running := &tasks.Status{Name: "resize images", State: tasks.StateInProgress, CompletedSteps: 2, TotalSteps: 4}
	next, cmd := m.Update(statusMsg{status: running})
	require.NotNil(t, cmd, "polls again while running")
	m = next.(watchModel)
	view := m.View()
	assert.Contains(t, view, "resize images")
	assert.Contains(t, view, "2/4 steps")
	assert.Contains(t, view, "q to stop")

	done := running.Clone()
	done.State = tasks.StateSucceeded
	done.CompletedSteps = 4
	next, cmd = m.Update(statusMsg{status: done})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.NotContains(t, next.(watchModel).View(), "q to stop")

	next, cmd = m.Update(statusMsg{err: service.ErrNotFound})
	require.NotNil(t, cmd)
	assert.Contains(t, next.(watchModel).View(), "not found")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, next.(watchModel).quitting)
}

// =============================================================================
// SERVE
// =============================================================================

func TestRunServeShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Auth.Enabled = false
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	e := &env{v: viper.New(), cfg: cfg}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.runServe(ctx, ln, "test") }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// Engines can follow cancellations while the server runs
	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/signals")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
