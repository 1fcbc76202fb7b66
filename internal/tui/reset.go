package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// initiateReset asks for confirmation before clearing the tracker under the
// cursor.
func (m Model) initiateReset() (tea.Model, tea.Cmd) {
	tr := m.selectedTracker()
	if tr == nil {
		return m, nil
	}

	m.resetConfirm = true
	m.resetTarget = tr.Name()
	return m, nil
}

// handleResetConfirmKey handles Y/N/Esc in the reset confirmation dialog.
func (m Model) handleResetConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		if err := m.trackers.Reset(m.resetTarget); err != nil {
			m.message = fmt.Sprintf("Error resetting %s: %v", m.resetTarget, err)
		} else {
			m.message = "Reset " + m.resetTarget
		}
		m.resetConfirm = false
		m.resetTarget = ""
		return m, nil

	case key.Matches(msg, m.keys.Deny), key.Matches(msg, m.keys.Escape):
		m.resetConfirm = false
		m.resetTarget = ""
		return m, nil
	}

	return m, nil
}
