package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/config"
	"github.com/nixlim/durtop/internal/events"
	"github.com/nixlim/durtop/internal/processor"
	"github.com/nixlim/durtop/internal/state"
)

func testAlert() config.AlertConfig {
	return config.AlertConfig{
		Name:                    "wakelock",
		StartEvent:              "wakelock.acquire",
		StopEvent:               "wakelock.release",
		Dimensions:              []string{"uid"},
		NumBuckets:              2,
		BucketSizeSeconds:       10,
		ThresholdMS:             3000,
		RefractoryPeriodSeconds: 60,
		CountNesting:            true,
	}
}

func newTestProcessor(t *testing.T, alerts ...config.AlertConfig) *processor.Processor {
	t.Helper()
	p, err := processor.New(alerts, processor.WithOrigin(time.Unix(100, 0)))
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	return p
}

func acquire(uid string, sec int64) processor.Record {
	return processor.Record{
		Name:       "wakelock.acquire",
		Timestamp:  time.Unix(sec, 0),
		Attributes: map[string]string{"uid": uid},
	}
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func press(t *testing.T, m Model, msg tea.KeyMsg) Model {
	t.Helper()
	result, _ := m.Update(msg)
	return result.(Model)
}

func newDashboard(t *testing.T, opts ...ModelOption) Model {
	t.Helper()
	cfg := config.DefaultConfig()
	base := []ModelOption{WithClock(func() time.Time { return time.Unix(102, 0) })}
	m := NewModel(cfg, append(base, opts...)...)
	m.width = 120
	m.height = 40
	return m
}

func TestNewModel_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewModel(cfg)

	if m.view != ViewDashboard {
		t.Errorf("view = %d, want ViewDashboard", m.view)
	}
	if m.panelFocus != FocusTrackers {
		t.Errorf("panelFocus = %d, want FocusTrackers", m.panelFocus)
	}
	if m.refreshRate != 500*time.Millisecond {
		t.Errorf("refreshRate = %s, want 500ms", m.refreshRate)
	}
	if m.historyGranularity != "daily" {
		t.Errorf("historyGranularity = %q, want daily", m.historyGranularity)
	}
}

func TestNewModel_InvalidRefreshRate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Display.RefreshRateMS = 0
	m := NewModel(cfg)
	if m.refreshRate <= 0 {
		t.Errorf("refreshRate = %s, want a positive default", m.refreshRate)
	}
}

func TestUpdate_WindowSize(t *testing.T) {
	m := NewModel(config.DefaultConfig())
	result, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m2 := result.(Model)
	if m2.width != 100 || m2.height != 30 {
		t.Errorf("size = %dx%d, want 100x30", m2.width, m2.height)
	}
	if cmd != nil {
		t.Error("window size should not schedule a command")
	}
}

func TestUpdate_TickReschedules(t *testing.T) {
	m := NewModel(config.DefaultConfig())
	m.trackerCursor = 5
	result, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if got := result.(Model).trackerCursor; got != 0 {
		t.Errorf("trackerCursor = %d, want clamped to 0", got)
	}
}

func TestTab_CyclesPanelFocus(t *testing.T) {
	m := newDashboard(t)
	want := []PanelFocus{FocusAnomalies, FocusEvents, FocusTrackers}
	for _, f := range want {
		m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
		if m.panelFocus != f {
			t.Fatalf("panelFocus = %d, want %d", m.panelFocus, f)
		}
	}
}

func TestEscape_ReturnsFocusToTrackers(t *testing.T) {
	m := newDashboard(t)
	m.panelFocus = FocusEvents
	m.message = "Reset wakelock"
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.panelFocus != FocusTrackers {
		t.Errorf("panelFocus = %d, want FocusTrackers", m.panelFocus)
	}
	if m.message != "" {
		t.Errorf("message = %q, want cleared", m.message)
	}
}

func TestViewKey_CyclesViews(t *testing.T) {
	m := newDashboard(t)
	for _, want := range []ViewState{ViewStats, ViewHistory, ViewDashboard} {
		m = press(t, m, runeKey('v'))
		if m.view != want {
			t.Fatalf("view = %d, want %d", m.view, want)
		}
	}
}

func TestTrackerCursor_Bounds(t *testing.T) {
	second := testAlert()
	second.Name = "audio"
	second.StartEvent = "audio.start"
	second.StopEvent = "audio.stop"
	p := newTestProcessor(t, testAlert(), second)

	m := newDashboard(t, WithTrackerProvider(p))

	m = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.trackerCursor != 0 {
		t.Errorf("cursor moved above first tracker: %d", m.trackerCursor)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.trackerCursor != 1 {
		t.Errorf("cursor = %d, want 1", m.trackerCursor)
	}
	if tr := m.selectedTracker(); tr == nil || tr.Name() != "audio" {
		t.Errorf("selected tracker should be audio, got %v", tr)
	}
}

func TestScroll_PanelOffsets(t *testing.T) {
	m := newDashboard(t)
	m.panelFocus = FocusAnomalies
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.anomalyScroll != 1 {
		t.Errorf("anomalyScroll = %d, want 1", m.anomalyScroll)
	}

	m.panelFocus = FocusEvents
	m = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.eventScrollPos != 0 {
		t.Errorf("eventScrollPos = %d, want 0", m.eventScrollPos)
	}
}

func TestQuit_CallsOnShutdown(t *testing.T) {
	called := false
	m := newDashboard(t, WithOnShutdown(func() { called = true }))

	result, cmd := m.Update(runeKey('q'))
	m2 := result.(Model)
	if !m2.quitting {
		t.Error("quitting should be set")
	}
	if !called {
		t.Error("onShutdown should be called")
	}
	if cmd == nil {
		t.Error("quit should return tea.Quit")
	}
	if m2.View() != "Shutting down...\n" {
		t.Errorf("View() = %q", m2.View())
	}
}

func TestHeaderIndicators(t *testing.T) {
	m := newDashboard(t)
	if !strings.Contains(m.headerIndicators(), "No persistence") {
		t.Error("memory-only dashboard should show the persistence indicator")
	}

	m = newDashboard(t, WithPersistenceFlag(true), WithStateProvider(state.NewMemoryStore()))
	if got := m.headerIndicators(); got != "" {
		t.Errorf("headerIndicators() = %q, want empty", got)
	}
}

func TestRenderDashboard_Panels(t *testing.T) {
	p := newTestProcessor(t, testAlert())
	p.Handle(acquire("1000", 101))

	store := state.NewMemoryStore()
	store.Notify(anomaly.Anomaly{
		ID:          "a1",
		Alert:       "wakelock",
		Key:         anomaly.Key{Dimension: "2000"},
		TimestampNs: time.Unix(90, 0).UnixNano(),
		SumNs:       int64(31 * time.Minute),
		Trigger:     anomaly.TriggerStop,
	})

	feed := events.NewRingBuffer(10)
	feed.Add(events.FormatRecord(acquire("1000", 101)))

	m := newDashboard(t,
		WithTrackerProvider(p),
		WithStateProvider(store),
		WithEventProvider(feed),
	)

	view := stripAnsi(m.View())
	for _, want := range []string{
		"durtop",
		"grpc:4317 http:4318",
		"[No persistence]",
		"Trackers",
		"wakelock  T=3.0s",
		"* 1000",
		"1.0s",
		"Anomalies",
		"[wakelock] 2000 held 31m00s (stop)",
		"Events",
		"wakelock.acquire uid=1000",
		"anomalies: 1",
		"records: 1 matched: 1 dropped: 0",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("dashboard missing %q\n%s", want, view)
		}
	}
}

func TestRenderDashboard_Empty(t *testing.T) {
	m := newDashboard(t)
	view := stripAnsi(m.View())
	for _, want := range []string{"No alerts configured", "No anomalies", "No data received yet"} {
		if !strings.Contains(view, want) {
			t.Errorf("empty dashboard missing %q", want)
		}
	}
}

func TestView_TruncatesToHeight(t *testing.T) {
	m := newDashboard(t)
	m.height = 15
	if n := len(strings.Split(m.View(), "\n")); n > 15 {
		t.Errorf("view has %d lines, want at most 15", n)
	}
}
