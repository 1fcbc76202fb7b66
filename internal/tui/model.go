package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/config"
	"github.com/nixlim/durtop/internal/events"
	"github.com/nixlim/durtop/internal/processor"
	"github.com/nixlim/durtop/internal/state"
)

type ViewState int

const (
	ViewDashboard ViewState = iota
	ViewStats
	ViewHistory
)

type PanelFocus int

const (
	FocusTrackers PanelFocus = iota
	FocusAnomalies
	FocusEvents
)

type tickMsg time.Time

// TrackerProvider exposes the live trackers and lets the dashboard reset one.
type TrackerProvider interface {
	Trackers() []*anomaly.Tracker
	Reset(name string) error
	Stats() processor.Stats
}

type StateProvider interface {
	RecentAnomalies(limit int) []anomaly.Anomaly
	Summaries() []state.AlertSummary
	TotalAnomalies() int
	QueryDailySummaries(days int) []state.DailySummary
	DroppedWrites() int64
}

type EventProvider interface {
	Latest(n int) []events.FormattedEvent
}

type Model struct {
	view     ViewState
	width    int
	height   int
	keys     KeyMap
	quitting bool

	cfg config.Config

	trackers TrackerProvider
	state    StateProvider
	events   EventProvider

	panelFocus     PanelFocus
	trackerCursor  int
	anomalyScroll  int
	eventScrollPos int

	resetConfirm bool
	resetTarget  string
	message      string

	isPersistent bool

	historyGranularity string
	historyScrollPos   int
	statsScrollPos     int

	refreshRate time.Duration
	now         func() time.Time

	onShutdown func()
}

func NewModel(cfg config.Config, opts ...ModelOption) Model {
	m := Model{
		view:               ViewDashboard,
		keys:               DefaultKeyMap(),
		cfg:                cfg,
		historyGranularity: "daily",
		refreshRate:        time.Duration(cfg.Display.RefreshRateMS) * time.Millisecond,
		now:                time.Now,
	}
	if m.refreshRate <= 0 {
		m.refreshRate = 500 * time.Millisecond
	}

	for _, opt := range opts {
		opt(&m)
	}

	return m
}

type ModelOption func(*Model)

func WithTrackerProvider(t TrackerProvider) ModelOption {
	return func(m *Model) { m.trackers = t }
}

func WithStateProvider(s StateProvider) ModelOption {
	return func(m *Model) { m.state = s }
}

func WithEventProvider(e EventProvider) ModelOption {
	return func(m *Model) { m.events = e }
}

func WithStartView(v ViewState) ModelOption {
	return func(m *Model) { m.view = v }
}

func WithOnShutdown(fn func()) ModelOption {
	return func(m *Model) { m.onShutdown = fn }
}

func WithPersistenceFlag(isPersistent bool) ModelOption {
	return func(m *Model) { m.isPersistent = isPersistent }
}

// WithClock sets the time source used to project entity sums.
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.clampCursor()
		return m, m.tickCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.resetConfirm {
		return m.handleResetConfirmKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.onShutdown != nil {
			m.onShutdown()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.View):
		switch m.view {
		case ViewDashboard:
			m.view = ViewStats
		case ViewStats:
			m.view = ViewHistory
		default:
			m.view = ViewDashboard
		}
		return m, nil
	}

	switch m.view {
	case ViewDashboard:
		return m.handleDashboardKey(msg)
	case ViewStats:
		return m.handleStatsKey(msg)
	case ViewHistory:
		return m.handleHistoryKey(msg)
	}

	return m, nil
}

func (m Model) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Tab):
		m.panelFocus = (m.panelFocus + 1) % 3
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.panelFocus = FocusTrackers
		m.message = ""
		return m, nil
	}

	switch m.panelFocus {
	case FocusAnomalies:
		m.anomalyScroll = scroll(msg, m.keys, m.anomalyScroll)
	case FocusEvents:
		m.eventScrollPos = scroll(msg, m.keys, m.eventScrollPos)
	default:
		return m.handleTrackersPanelKey(msg)
	}
	return m, nil
}

func (m Model) handleTrackersPanelKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.trackerCursor > 0 {
			m.trackerCursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.trackerCursor < len(m.getTrackers())-1 {
			m.trackerCursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		return m.initiateReset()
	}

	return m, nil
}

// scroll moves an offset that counts back from the newest entry.
func scroll(msg tea.KeyMsg, keys KeyMap, pos int) int {
	switch {
	case key.Matches(msg, keys.Down):
		return pos + 1
	case key.Matches(msg, keys.Up):
		if pos > 0 {
			return pos - 1
		}
	}
	return pos
}

func (m Model) handleStatsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.view = ViewDashboard
	case key.Matches(msg, m.keys.Up):
		if m.statsScrollPos > 0 {
			m.statsScrollPos--
		}
	case key.Matches(msg, m.keys.Down):
		m.statsScrollPos++
	}
	return m, nil
}

func (m Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.view = ViewDashboard
	case key.Matches(msg, m.keys.Up):
		if m.historyScrollPos > 0 {
			m.historyScrollPos--
		}
	case key.Matches(msg, m.keys.Down):
		m.historyScrollPos++
	case key.Matches(msg, m.keys.Daily):
		m.historyGranularity = "daily"
		m.historyScrollPos = 0
	case key.Matches(msg, m.keys.Weekly):
		m.historyGranularity = "weekly"
		m.historyScrollPos = 0
	}
	return m, nil
}

func (m *Model) clampCursor() {
	n := len(m.getTrackers())
	if m.trackerCursor >= n {
		m.trackerCursor = n - 1
	}
	if m.trackerCursor < 0 {
		m.trackerCursor = 0
	}
}

func (m Model) getTrackers() []*anomaly.Tracker {
	if m.trackers == nil {
		return nil
	}
	return m.trackers.Trackers()
}

func (m Model) selectedTracker() *anomaly.Tracker {
	trs := m.getTrackers()
	if m.trackerCursor < 0 || m.trackerCursor >= len(trs) {
		return nil
	}
	return trs[m.trackerCursor]
}

func (m Model) headerIndicators() string {
	var parts []string
	if !m.isPersistent {
		parts = append(parts, "[No persistence]")
	}
	if m.state != nil && m.state.DroppedWrites() > 0 {
		parts = append(parts, "[!] Writes dropped")
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + dimStyle.Render(strings.Join(parts, " "))
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var output string
	switch m.view {
	case ViewDashboard:
		output = m.renderDashboard()
	case ViewStats:
		output = m.renderStats()
	case ViewHistory:
		output = m.renderHistory()
	}

	if m.height > 0 {
		lines := strings.Split(output, "\n")
		if len(lines) > m.height {
			lines = lines[:m.height]
			output = strings.Join(lines, "\n")
		}
	}

	return output
}
