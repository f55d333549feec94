// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/tasks"
)

// ErrTaskUnsuccessful is returned by watch when the task ends in a state
// other than Succeeded.
var ErrTaskUnsuccessful = errors.New("task did not succeed")

func newWatchCommand(e *env) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a task's progress until it finishes",
		Long: `Polls a task status and shows a progress bar until the task reaches a
terminal state. Without a terminal, prints one line per change instead.
Exits non-zero unless the task succeeded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			id, caller := args[0], e.caller()
			fetch := func(ctx context.Context) (*tasks.Status, error) {
				return st.statuses.Retrieve(ctx, caller, id)
			}

			out := cmd.OutOrStdout()
			var final *tasks.Status
			if isTerminal(out) {
				final, err = runWatchTUI(cmd.Context(), out, fetch, interval)
			} else {
				final, err = watchPlain(cmd.Context(), out, fetch, interval)
			}
			if err != nil {
				return err
			}
			if final != nil && final.State != tasks.StateSucceeded {
				return fmt.Errorf("%w: %s", ErrTaskUnsuccessful, final.State)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	return cmd
}

type fetchFunc func(ctx context.Context) (*tasks.Status, error)

// watchPlain prints the summary each time it changes. It returns the final
// record, or nil if ctx ended first.
func watchPlain(ctx context.Context, w io.Writer, fetch fetchFunc, interval time.Duration) (*tasks.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		st, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if line := st.Summary(); line != last {
			fmt.Fprintln(w, line)
			last = line
		}
		if st.State.IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

// =============================================================================
// TUI
// =============================================================================

type statusMsg struct {
	status *tasks.Status
	err    error
}

type tickMsg time.Time

// watchModel is the bubbletea model for one watched record.
type watchModel struct {
	ctx      context.Context
	fetch    fetchFunc
	interval time.Duration

	status   *tasks.Status
	err      error
	bar      progress.Model
	quitting bool
}

func newWatchModel(ctx context.Context, fetch fetchFunc, interval time.Duration) watchModel {
	return watchModel{
		ctx:      ctx,
		fetch:    fetch,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll()
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		st, err := m.fetch(m.ctx)
		return statusMsg{status: st, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		width := msg.Width - 8
		if width > 60 {
			width = 60
		}
		if width < 10 {
			width = 10
		}
		m.bar.Width = width

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.status = msg.status
		if m.status.State.IsTerminal() {
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return m, m.poll()
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: "+m.err.Error()) + "\n"
	}
	if m.status == nil {
		return DimStyle.Render("Loading...") + "\n"
	}

	st := m.status
	var b strings.Builder
	b.WriteString(TitleStyle.Render(st.Name))
	b.WriteString("\n\n")

	if pct := st.Percent(); pct >= 0 {
		b.WriteString(m.bar.ViewAs(float64(pct) / 100))
		fmt.Fprintf(&b, "  %d/%d steps\n", st.CompletedSteps, st.TotalSteps)
	} else {
		fmt.Fprintf(&b, "%d steps completed\n", st.CompletedSteps)
	}

	b.WriteString("\n")
	b.WriteString(RenderLabel("State") + StateStyle(st.State).Render(string(st.State)) + "\n")
	if st.StateText != "" {
		b.WriteString(RenderLabel("Detail") + ValueStyle.Render(st.StateText) + "\n")
	}
	if st.Attempts > 1 {
		b.WriteString(RenderLabel("Attempts") + ValueStyle.Render(fmt.Sprintf("%d", st.Attempts)) + "\n")
	}
	if !st.State.IsTerminal() && !m.quitting {
		b.WriteString("\n" + DimStyle.Render("q to stop watching") + "\n")
	}
	return b.String()
}

// runWatchTUI runs the bubbletea program and returns the final record, or
// nil if the user quit before the task finished.
func runWatchTUI(ctx context.Context, w io.Writer, fetch fetchFunc, interval time.Duration) (*tasks.Status, error) {
	p := tea.NewProgram(newWatchModel(ctx, fetch, interval), tea.WithOutput(w), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	m, ok := final.(watchModel)
	if !ok {
		return nil, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.quitting || m.status == nil || !m.status.State.IsTerminal() {
		return nil, nil
	}
	return m.status, nil
}
