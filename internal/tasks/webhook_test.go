// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSignaler_PostsSignal(t *testing.T) {
	received := make(chan Signal, 1)
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		var sig Signal
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sig))
		received <- sig
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWebhookSignaler(srv.URL, time.Second).WithToken("engine-secret")
	require.NoError(t, w.Signal(context.Background(), Signal{StatusID: "s1", TaskID: "job-7", UserID: "alice", At: at}))

	sig := <-received
	assert.Equal(t, "s1", sig.StatusID)
	assert.Equal(t, "job-7", sig.TaskID)
	assert.Equal(t, "alice", sig.UserID)
	assert.True(t, at.Equal(sig.At))
	assert.Equal(t, "Bearer engine-secret", auth)
}

func TestWebhookSignaler_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSignaler(srv.URL, 0).Signal(context.Background(), Signal{StatusID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSignaler_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhookSignaler(url, time.Second).Signal(context.Background(), Signal{StatusID: "s1"})
	assert.Error(t, err)
}
