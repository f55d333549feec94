// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/usertasks/internal/tasks"
	"github.com/jeranaias/usertasks/internal/util"
)

// =============================================================================
// OUTPUT MODE
// =============================================================================

// useTable reports whether output to w should be a styled table. "auto"
// picks a table on a terminal and JSON otherwise.
func (e *env) useTable(w io.Writer) (bool, error) {
	switch mode := strings.ToLower(e.v.GetString("output")); mode {
	case "", "auto":
		return isTerminal(w), nil
	case "table":
		return true, nil
	case "json":
		return false, nil
	default:
		return false, fmt.Errorf("unknown output format %q (want auto, table or json)", mode)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// JSON SHAPES
// =============================================================================

// statusJSON is the CLI form of a record. Unlike the HTTP form it carries
// the owner and task ID, since CLI users are administrators.
type statusJSON struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	TaskID         string         `json:"task_id,omitempty"`
	Name           string         `json:"name"`
	State          string         `json:"state"`
	StateText      string         `json:"state_text"`
	CompletedSteps int            `json:"completed_steps"`
	TotalSteps     int            `json:"total_steps"`
	Attempts       int            `json:"attempts"`
	Created        time.Time      `json:"created"`
	Modified       time.Time      `json:"modified"`
	Artifacts      []artifactJSON `json:"artifacts"`
}

type artifactJSON struct {
	ID       string    `json:"id"`
	StatusID string    `json:"status_id"`
	Name     string    `json:"name"`
	File     string    `json:"file"`
	Text     string    `json:"text"`
	URL      string    `json:"url"`
	Status   string    `json:"status"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func toStatusJSON(st *tasks.Status) statusJSON {
	out := statusJSON{
		ID:             st.ID,
		UserID:         st.UserID,
		TaskID:         st.TaskID,
		Name:           st.Name,
		State:          string(st.State),
		StateText:      st.StateText,
		CompletedSteps: st.CompletedSteps,
		TotalSteps:     st.TotalSteps,
		Attempts:       st.Attempts,
		Created:        st.Created,
		Modified:       st.Modified,
		Artifacts:      make([]artifactJSON, 0, len(st.Artifacts)),
	}
	for _, a := range st.Artifacts {
		out.Artifacts = append(out.Artifacts, toArtifactJSON(a))
	}
	return out
}

func toArtifactJSON(a tasks.Artifact) artifactJSON {
	return artifactJSON{
		ID:       a.ID,
		StatusID: a.StatusID,
		Name:     a.Name,
		File:     a.File,
		Text:     a.Text,
		URL:      a.URL,
		Status:   a.Status,
		Created:  a.Created,
		Modified: a.Modified,
	}
}

// =============================================================================
// TABLES
// =============================================================================

type column struct {
	title string
	width int
}

// cell pads or truncates s to width display columns.
func cell(s string, width int) string {
	return util.PadWidth(util.TruncateWidth(s, width), width)
}

// fitColumns gives the last column whatever width the others leave.
func fitColumns(cols []column, total int) []column {
	used := 0
	for _, c := range cols[:len(cols)-1] {
		used += c.width + 2
	}
	last := total - used
	if last < 10 {
		last = 10
	}
	cols[len(cols)-1].width = last
	return cols
}

func writeHeader(w io.Writer, cols []column) {
	parts := make([]string, len(cols))
	width := 0
	for i, c := range cols {
		parts[i] = HeaderStyle.Render(cell(c.title, c.width))
		width += c.width + 2
	}
	fmt.Fprintln(w, strings.Join(parts, "  "))
	fmt.Fprintln(w, RenderSeparator(width-2))
}

func progressText(st *tasks.Status) string {
	if st.TotalSteps <= 0 {
		if st.CompletedSteps > 0 {
			return fmt.Sprintf("%d", st.CompletedSteps)
		}
		return "-"
	}
	return fmt.Sprintf("%d/%d", st.CompletedSteps, st.TotalSteps)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// renderStatusTable writes one line per record.
func renderStatusTable(w io.Writer, statuses []*tasks.Status, width int) {
	if len(statuses) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No task statuses."))
		return
	}
	cols := fitColumns([]column{
		{"ID", 8}, {"USER", 12}, {"STATE", 11}, {"PROGRESS", 9}, {"CREATED", 16}, {"NAME", 0},
	}, width)
	writeHeader(w, cols)
	for _, st := range statuses {
		fmt.Fprintln(w, strings.Join([]string{
			DimStyle.Render(cell(shortID(st.ID), cols[0].width)),
			cell(st.UserID, cols[1].width),
			StateStyle(st.State).Render(cell(string(st.State), cols[2].width)),
			cell(progressText(st), cols[3].width),
			cell(formatTime(st.Created), cols[4].width),
			cell(st.Name, cols[5].width),
		}, "  "))
	}
}

// renderCountTable writes one line per state, then the total.
func renderCountTable(w io.Writer, counts map[tasks.State]int) {
	cols := []column{{"STATE", 12}, {"COUNT", 8}}
	writeHeader(w, cols)
	total := 0
	for _, s := range tasks.AllStates {
		n := counts[s]
		total += n
		fmt.Fprintln(w, StateStyle(s).Render(cell(string(s), cols[0].width))+"  "+cell(fmt.Sprint(n), cols[1].width))
	}
	fmt.Fprintln(w, RenderSeparator(22))
	fmt.Fprintln(w, LabelStyle.Render(cell("Total", cols[0].width))+"  "+ValueStyle.Render(fmt.Sprint(total)))
}

// renderArtifactTable writes one line per artifact.
func renderArtifactTable(w io.Writer, artifacts []tasks.Artifact, width int) {
	if len(artifacts) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No artifacts."))
		return
	}
	cols := fitColumns([]column{
		{"ID", 8}, {"STATUS", 8}, {"NAME", 20}, {"KIND", 4}, {"CREATED", 16}, {"VALUE", 0},
	}, width)
	writeHeader(w, cols)
	for _, a := range artifacts {
		kind, value := artifactValue(a)
		fmt.Fprintln(w, strings.Join([]string{
			DimStyle.Render(cell(shortID(a.ID), cols[0].width)),
			DimStyle.Render(cell(shortID(a.StatusID), cols[1].width)),
			cell(a.Name, cols[2].width),
			cell(kind, cols[3].width),
			cell(formatTime(a.Created), cols[4].width),
			cell(value, cols[5].width),
		}, "  "))
	}
}

func artifactValue(a tasks.Artifact) (kind, value string) {
	switch {
	case a.File != "":
		return "file", a.File
	case a.URL != "":
		return "url", a.URL
	default:
		return "text", strings.ReplaceAll(a.Text, "\n", " ")
	}
}

// renderStatusDetail writes a labelled view of one record.
func renderStatusDetail(w io.Writer, st *tasks.Status, width int) {
	fmt.Fprintln(w, TitleStyle.Render(st.Name))
	row := func(label, value string) {
		fmt.Fprintln(w, RenderLabel(label)+ValueStyle.Render(value))
	}
	row("ID", st.ID)
	row("User", st.UserID)
	if st.TaskID != "" {
		row("Task", st.TaskID)
	}
	fmt.Fprintln(w, RenderLabel("State")+StateStyle(st.State).Render(string(st.State)))
	if st.StateText != "" {
		row("Detail", st.StateText)
	}
	row("Progress", progressText(st))
	row("Attempts", fmt.Sprintf("%d", st.Attempts))
	row("Created", formatTime(st.Created))
	row("Modified", formatTime(st.Modified))
	if len(st.Artifacts) > 0 {
		fmt.Fprintln(w)
		renderArtifactTable(w, st.Artifacts, width)
	}
}
