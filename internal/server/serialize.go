// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/url"
	"time"

	"github.com/jeranaias/usertasks/internal/tasks"
)

// StatusResponse is the JSON form of a status record.
type StatusResponse struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	State          string             `json:"state"`
	StateText      string             `json:"state_text"`
	CompletedSteps int                `json:"completed_steps"`
	TotalSteps     int                `json:"total_steps"`
	Attempts       int                `json:"attempts"`
	Created        time.Time          `json:"created"`
	Modified       time.Time          `json:"modified"`
	Artifacts      []ArtifactResponse `json:"artifacts"`
}

// ArtifactResponse is the JSON form of an artifact. File is the absolute
// download URL, or "" when the artifact has no file.
type ArtifactResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Status   string    `json:"status"`
	File     string    `json:"file"`
	Text     string    `json:"text"`
	URL      string    `json:"url"`
}

func (s *Server) statusResponse(st *tasks.Status) StatusResponse {
	resp := StatusResponse{
		ID:             st.ID,
		Name:           st.Name,
		State:          string(st.State),
		StateText:      st.StateText,
		CompletedSteps: st.CompletedSteps,
		TotalSteps:     st.TotalSteps,
		Attempts:       st.Attempts,
		Created:        st.Created,
		Modified:       st.Modified,
		Artifacts:      make([]ArtifactResponse, 0, len(st.Artifacts)),
	}
	for i := range st.Artifacts {
		resp.Artifacts = append(resp.Artifacts, s.artifactResponse(&st.Artifacts[i]))
	}
	return resp
}

func (s *Server) artifactResponse(a *tasks.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:       a.ID,
		Name:     a.Name,
		Created:  a.Created,
		Modified: a.Modified,
		Status:   a.Status,
		File:     s.fileURL(a),
		Text:     a.Text,
		URL:      a.URL,
	}
}

// fileURL prefers the blob store's own public URL and falls back to the
// API download route.
func (s *Server) fileURL(a *tasks.Artifact) string {
	if !a.HasFile() {
		return ""
	}
	if s.deps.Blobs != nil {
		if u, err := s.deps.Blobs.URL(a.File); err == nil {
			return u
		}
	}
	return s.publicURL() + APIPrefix + "/artifacts/" + url.PathEscape(a.ID) + "/file"
}
