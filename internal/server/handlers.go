// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// ============================================================================
// STATUSES
// ============================================================================

// handleListStatuses handles GET /api/v1/statuses/?user=&state=&name=&limit=&offset=
func (s *Server) handleListStatuses(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	states, err := stateParams(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.deps.Statuses.List(c.Request.Context(), Caller(c), service.StatusFilter{
		UserID: c.Query("user"),
		States: states,
		Name:   c.Query("name"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	out := make([]StatusResponse, 0, len(list))
	for _, st := range list {
		out = append(out, s.statusResponse(st))
	}
	c.JSON(http.StatusOK, out)
}

// handleGetStatus handles GET /api/v1/statuses/:id/
func (s *Server) handleGetStatus(c *gin.Context) {
	st, err := s.deps.Statuses.Retrieve(c.Request.Context(), Caller(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.statusResponse(st))
}

// handleCancelStatus handles POST /api/v1/statuses/:id/cancel/
func (s *Server) handleCancelStatus(c *gin.Context) {
	st, err := s.deps.Statuses.Cancel(c.Request.Context(), Caller(c), c.Param("id"))
	if err != nil && st == nil {
		writeServiceError(c, err)
		return
	}
	if err != nil {
		// The cancellation is persisted; only the engine notification failed
		c.Header("X-Cancel-Signal", "failed")
	}
	c.JSON(http.StatusOK, s.statusResponse(st))
}

// handleDeleteStatus handles DELETE /api/v1/statuses/:id/
func (s *Server) handleDeleteStatus(c *gin.Context) {
	if err := s.deps.Statuses.Destroy(c.Request.Context(), Caller(c), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================================================
// ARTIFACTS
// ============================================================================

// handleListArtifacts handles GET /api/v1/artifacts/?status=&name=&limit=&offset=
func (s *Server) handleListArtifacts(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.deps.Artifacts.List(c.Request.Context(), Caller(c), service.ArtifactFilter{
		StatusID: c.Query("status"),
		Name:     c.Query("name"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	out := make([]ArtifactResponse, 0, len(list))
	for i := range list {
		out = append(out, s.artifactResponse(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// handleGetArtifact handles GET /api/v1/artifacts/:id/
func (s *Server) handleGetArtifact(c *gin.Context) {
	a, err := s.deps.Artifacts.Retrieve(c.Request.Context(), Caller(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.artifactResponse(a))
}

// handleArtifactFile handles GET /api/v1/artifacts/:id/file
func (s *Server) handleArtifactFile(c *gin.Context) {
	a, rc, err := s.deps.Artifacts.OpenFile(c.Request.Context(), Caller(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(a.Name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": a.Name})
	c.DataFromReader(http.StatusOK, -1, ctype, rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

// ============================================================================
// SIGNALS
// ============================================================================

// handleSignals handles GET /api/v1/signals. Cancellation signals for the
// records the caller may view are streamed as "cancel" server-sent events
// until the client disconnects.
func (s *Server) handleSignals(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	ch, err := s.deps.Signals.Subscribe(ctx, Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	// The stream outlives the configured write timeout
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		sig, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("cancel", sig)
		return true
	})
}

// ============================================================================
// QUERY PARAMETERS
// ============================================================================

func pageParams(c *gin.Context) (limit, offset int, err error) {
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if limit == 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// stateParams accepts repeated or comma-separated state values.
func stateParams(c *gin.Context) ([]tasks.State, error) {
	var states []tasks.State
	for _, raw := range c.QueryArray("state") {
		for _, v := range strings.Split(raw, ",") {
			if strings.TrimSpace(v) == "" {
				continue
			}
			st, err := tasks.ParseState(v)
			if err != nil {
				return nil, err
			}
			states = append(states, st)
		}
	}
	return states, nil
}

// ============================================================================
// ERRORS
// ============================================================================

// errorTypes names the error classes in the error body.
var errorTypes = map[int]string{
	http.StatusBadRequest:          "invalid_request_error",
	http.StatusUnauthorized:        "authentication_error",
	http.StatusForbidden:           "permission_error",
	http.StatusNotFound:            "not_found_error",
	http.StatusMethodNotAllowed:    "invalid_request_error",
	http.StatusConflict:            "conflict_error",
	http.StatusTooManyRequests:     "rate_limit_error",
	http.StatusServiceUnavailable:  "api_error",
	http.StatusInternalServerError: "api_error",
}

func errorBody(status int, message string) gin.H {
	typ, ok := errorTypes[status]
	if !ok {
		typ = "api_error"
	}
	return gin.H{
		"error": gin.H{
			"message": message,
			"type":    typ,
			"code":    status,
		},
	}
}

// writeError writes the JSON error body.
func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, errorBody(status, message))
}

// abortError writes the JSON error body and stops the handler chain.
func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody(status, message))
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "you do not have permission to perform this action")
	case errors.Is(err, tasks.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	default:
		logger.Logger.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		writeError(c, http.StatusInternalServerError, "internal server error")
	}
}
