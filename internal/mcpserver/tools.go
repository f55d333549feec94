// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcpserver

import (
	"time"

	"github.com/jeranaias/usertasks/internal/tasks"
)

// ListStatusesArgs is the input for the list_statuses tool.
type ListStatusesArgs struct {
	User   string   `json:"user,omitempty"   jsonschema:"Only statuses owned by this user"`
	States []string `json:"states,omitempty" jsonschema:"Only statuses in these states, e.g. Pending or in_progress"`
	Name   string   `json:"name,omitempty"   jsonschema:"Only statuses whose name contains this text"`
	Limit  int      `json:"limit,omitempty"  jsonschema:"Maximum number of statuses to return (default 50)"`
}

// ListStatusesOutput lists statuses, newest first.
type ListStatusesOutput struct {
	Statuses []StatusView `json:"statuses"`
}

// StatusIDArgs is the input for tools addressing one status.
type StatusIDArgs struct {
	ID string `json:"id" jsonschema:"Status ID"`
}

// StatusOutput wraps a single status.
type StatusOutput struct {
	Status StatusView `json:"status"`
}

// CancelStatusOutput reports the status after a cancel request.
type CancelStatusOutput struct {
	Status StatusView `json:"status"`

	// Canceled is true when this call moved the status to Canceled
	Canceled bool `json:"canceled"`
}

// ListArtifactsArgs is the input for the list_artifacts tool.
type ListArtifactsArgs struct {
	StatusID string `json:"status_id,omitempty" jsonschema:"Only artifacts of this status"`
	Name     string `json:"name,omitempty"      jsonschema:"Only artifacts with this exact name"`
	Limit    int    `json:"limit,omitempty"     jsonschema:"Maximum number of artifacts to return (default 50)"`
}

// ListArtifactsOutput lists artifacts, newest first.
type ListArtifactsOutput struct {
	Artifacts []ArtifactView `json:"artifacts"`
}

// StatusView is the tool-facing form of a status record. Timestamps are
// RFC 3339 strings.
type StatusView struct {
	ID             string         `json:"id"`
	User           string         `json:"user"`
	Name           string         `json:"name"`
	State          string         `json:"state"`
	StateText      string         `json:"state_text,omitempty"`
	CompletedSteps int            `json:"completed_steps"`
	TotalSteps     int            `json:"total_steps"`
	Percent        int            `json:"percent"` // -1 when the total is unknown
	Attempts       int            `json:"attempts"`
	Created        string         `json:"created"`
	Modified       string         `json:"modified"`
	Artifacts      []ArtifactView `json:"artifacts"`
}

// ArtifactView is the tool-facing form of an artifact. File content is not
// included; HasFile says whether one can be downloaded over HTTP.
type ArtifactView struct {
	ID       string `json:"id"`
	StatusID string `json:"status_id"`
	Name     string `json:"name"`
	Status   string `json:"status,omitempty"`
	HasFile  bool   `json:"has_file"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Created  string `json:"created"`
}

func statusView(st *tasks.Status) StatusView {
	v := StatusView{
		ID:             st.ID,
		User:           st.UserID,
		Name:           st.Name,
		State:          string(st.State),
		StateText:      st.StateText,
		CompletedSteps: st.CompletedSteps,
		TotalSteps:     st.TotalSteps,
		Percent:        st.Percent(),
		Attempts:       st.Attempts,
		Created:        st.Created.Format(time.RFC3339),
		Modified:       st.Modified.Format(time.RFC3339),
		Artifacts:      make([]ArtifactView, 0, len(st.Artifacts)),
	}
	for i := range st.Artifacts {
		v.Artifacts = append(v.Artifacts, artifactView(&st.Artifacts[i]))
	}
	return v
}

func artifactView(a *tasks.Artifact) ArtifactView {
	return ArtifactView{
		ID:       a.ID,
		StatusID: a.StatusID,
		Name:     a.Name,
		Status:   a.Status,
		HasFile:  a.HasFile(),
		Text:     a.Text,
		URL:      a.URL,
		Created:  a.Created.Format(time.RFC3339),
	}
}
