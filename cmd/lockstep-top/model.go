package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	lsync "github.com/zsiec/lockstep/internal/sync"
)

const (
	frameStep       = 1.0 / 30
	fineOffsetMs    = 10
	coarseOffsetMs  = 100
	thresholdStepMs = 10
)

type tickMsg time.Time

type sessionMsg struct {
	snap lsync.SessionSnapshot
	err  error
}

type actionMsg struct {
	label string
	err   error
}

type shareMsg struct {
	query string
	err   error
}

type model struct {
	api      controlAPI
	interval time.Duration
	timeout  time.Duration

	snap      lsync.SessionSnapshot
	connected bool
	lastErr   error
	selected  int
	status    string
	share     string
	width     int
	quitting  bool
}

func newModel(api controlAPI, interval, timeout time.Duration) model {
	return model{
		api:      api,
		interval: interval,
		timeout:  timeout,
		status:   "connecting...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tickEvery(m.interval))
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetch() tea.Cmd {
	api, timeout := m.api, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := api.Session(ctx)
		return sessionMsg{snap: snap, err: err}
	}
}

// action runs fn against the API and reports the outcome under label.
func (m model) action(label string, fn func(ctx context.Context, api controlAPI) error) tea.Cmd {
	api, timeout := m.api, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return actionMsg{label: label, err: fn(ctx, api)}
	}
}

func (m model) selectedStream() (lsync.StreamStatus, bool) {
	if m.selected < 0 || m.selected >= len(m.snap.Streams) {
		return lsync.StreamStatus{}, false
	}
	return m.snap.Streams[m.selected], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.fetch(), tickEvery(m.interval))

	case sessionMsg:
		if msg.err != nil {
			m.connected = false
			m.lastErr = msg.err
			return m, nil
		}
		m.connected = true
		m.lastErr = nil
		m.snap = msg.snap
		if m.selected >= len(m.snap.Streams) {
			m.selected = len(m.snap.Streams) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.label, msg.err)
		} else {
			m.status = msg.label
		}
		return m, m.fetch()

	case shareMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("export failed: %v", msg.err)
			return m, nil
		}
		m.share = msg.query
		m.status = "share query updated"
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "r":
		return m, m.fetch()

	case " ", "space":
		if m.snap.Playing {
			return m, m.action("pause", func(ctx context.Context, api controlAPI) error { return api.Pause(ctx) })
		}
		return m, m.action("play", func(ctx context.Context, api controlAPI) error { return api.Play(ctx) })

	case "left", "right":
		delta := frameStep
		if msg.String() == "left" {
			delta = -frameStep
		}
		return m, m.action("step", func(ctx context.Context, api controlAPI) error { return api.Step(ctx, delta) })

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down", "j":
		if m.selected < len(m.snap.Streams)-1 {
			m.selected++
		}
		return m, nil

	case "+", "=", "-":
		delta := thresholdStepMs
		if msg.String() == "-" {
			delta = -thresholdStepMs
		}
		return m, m.action("threshold", func(ctx context.Context, api controlAPI) error {
			_, err := api.AdjustThreshold(ctx, delta)
			return err
		})

	case "e":
		api, timeout := m.api, m.timeout
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			q, err := api.ShareQuery(ctx)
			return shareMsg{query: q, err: err}
		}
	}

	st, ok := m.selectedStream()
	if !ok {
		return m, nil
	}

	switch msg.String() {
	case "t":
		return m, m.action("tap "+st.Label, func(ctx context.Context, api controlAPI) error { return api.Tap(ctx, st.ID) })
	case "[", "]", "{", "}":
		delta := map[string]int{"[": -fineOffsetMs, "]": fineOffsetMs, "{": -coarseOffsetMs, "}": coarseOffsetMs}[msg.String()]
		label := fmt.Sprintf("offset %s %+dms", st.Label, delta)
		return m, m.action(label, func(ctx context.Context, api controlAPI) error { return api.AdjustOffset(ctx, st.ID, delta) })
	case "d":
		return m, m.action("remove "+st.Label, func(ctx context.Context, api controlAPI) error { return api.RemoveStream(ctx, st.ID) })
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "bye\n"
	}

	var b strings.Builder

	state := okStyle.Render("connected")
	if !m.connected {
		state = errStyle.Render("disconnected")
	}
	playing := mutedStyle.Render("paused")
	if m.snap.Playing {
		playing = okStyle.Render("playing")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("LOCKSTEP"), "  ",
		state, "  ", playing, "  ",
		fmt.Sprintf("threshold %dms", m.snap.ThresholdMs),
	)
	if m.snap.PendingCue != nil {
		header += "  " + warnStyle.Render("cue "+lsync.FormatTime(*m.snap.PendingCue))
	}
	b.WriteString(header + "\n")

	b.WriteString(panelStyle.Render(m.renderTable()) + "\n")

	if m.share != "" {
		b.WriteString(mutedStyle.Render("share: ") + m.share + "\n")
	}
	if m.lastErr != nil {
		b.WriteString(errStyle.Render(m.lastErr.Error()) + "\n")
	}
	b.WriteString(mutedStyle.Render(m.status) + "\n")
	b.WriteString(mutedStyle.Render("space play/pause  ←/→ frame  ↑/↓ select  t tap  [ ] ±10ms  { } ±100ms  -/+ threshold  d remove  e export  q quit") + "\n")
	return b.String()
}

func (m model) renderTable() string {
	if len(m.snap.Streams) == 0 {
		return mutedStyle.Render("no streams")
	}

	row := func(cells ...string) string {
		widths := []int{2, 12, 12, 10, 10, 8, 9, 6}
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = lipgloss.NewStyle().Width(widths[i]).Render(c)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, out...)
	}

	lines := []string{headerCellStyle.Render(row("", "STREAM", "VIDEO", "STATE", "TIME", "OFFSET", "DRIFT", "RATE"))}
	for i, st := range m.snap.Streams {
		marker := " "
		if i == m.selected {
			marker = "›"
		}
		line := row(
			marker,
			st.Label,
			st.Identifier,
			st.State.String(),
			lsync.FormatTime(st.CurrentTime),
			fmt.Sprintf("%+dms", st.OffsetMs),
			renderDrift(st),
			fmt.Sprintf("x%.2f", st.PlaybackRate),
		)
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderDrift(st lsync.StreamStatus) string {
	if st.Role == lsync.RolePrimary {
		return mutedStyle.Render("ref")
	}
	if st.Drift == nil {
		return mutedStyle.Render("-")
	}
	text := lsync.FormatDrift(st.Drift.Ms)
	switch {
	case st.Drift.InTolerance:
		return okStyle.Render(text)
	case st.Correction == lsync.Nudging:
		return warnStyle.Render(text)
	default:
		return errStyle.Render(text)
	}
}
