package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/coldforge/decoder-engine/decoder"
)

type tickMsg time.Time

// model is the bubbletea model driving the live dashboard. It polls the
// engine on a ticker rather than subscribing to per-stream Wait calls,
// since the dashboard cares about aggregate load, not any one request's
// tokens.
type model struct {
	engine *decoder.Engine
	width  int
	height int
	err    error
}

func newModel(engine *decoder.Engine) *model {
	return &model{engine: engine}
}

func (m *model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m *model) View() string {
	if m.width == 0 {
		return "starting...\n"
	}

	stats := m.engine.Stats()
	streams := m.engine.ListStreams()
	sort.Slice(streams, func(i, j int) bool { return streams[i].RequestID() < streams[j].RequestID() })

	var b strings.Builder
	b.WriteString(titleStyle.Render("decoder engine — live") + "\n\n")

	b.WriteString(statusBarStyle.Render(fmt.Sprintf(
		"running=%d  waiting=%d  cache=%.1f%%  last step=%s",
		stats.RunningBatchSize, stats.WaitQueueSize, stats.CacheUsedRatio*100,
		stats.LastStepAt.Format("15:04:05.000"),
	)) + "\n\n")

	rows := make([]string, 0, len(streams))
	for _, s := range streams {
		status := s.Status()
		var styled string
		switch status {
		case decoder.StatusQueued:
			styled = queuedStyle.Render(status.String())
		case decoder.StatusRunning:
			styled = runningStyle.Render(status.String())
		case decoder.StatusErrored, decoder.StatusCancelled:
			styled = errorStyle.Render(status.String())
		default:
			styled = doneStyle.Render(status.String())
		}
		rows = append(rows, fmt.Sprintf("req %-6d %s", s.RequestID(), styled))
	}
	if len(rows) == 0 {
		rows = append(rows, dimStyle.Render("(no streams yet)"))
	}

	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n\n" + dimStyle.Render("q to quit"))
	return b.String()
}
