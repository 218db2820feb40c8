package watch

import (
	tea "github.com/charmbracelet/bubbletea"
)

// handleKey processes one keypress outside the filter prompt. It returns
// false when the key should fall through to the focused widget, which today
// means the plan viewport.
func (m *Model) handleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	key := msg.String()

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return true, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return true, nil
	}

	// Any key dismisses the help overlay.
	if m.showHelp {
		m.showHelp = false
		return true, nil
	}

	if m.mode == viewPlan {
		if key == "esc" {
			m.mode = viewPanels
			return true, nil
		}
		return false, nil
	}

	switch key {
	case "esc":
		if m.planPending {
			m.dashboard().CancelPlan()
			m.planPending = false
			m.planSeq++
			m.flash = "plan capture cancelled"
			return true, nil
		}
		m.flash = ""
		return true, nil

	case "r":
		return true, m.startRefresh()

	case "tab":
		m.selectPanel(1)
		return true, nil
	case "shift+tab":
		m.selectPanel(-1)
		return true, nil

	case "i":
		return true, m.selectInstance()

	case "]":
		m.selectGrid(1)
		return true, nil
	case "[":
		m.selectGrid(-1)
		return true, nil

	case "down", "j":
		m.moveRow(1)
		return true, nil
	case "up", "k":
		m.moveRow(-1)
		return true, nil
	case "right", "l":
		m.moveColumn(1)
		return true, nil
	case "left", "h":
		m.moveColumn(-1)
		return true, nil

	case "1":
		return true, m.setWindow(1)
	case "2":
		return true, m.setWindow(24)
	case "3":
		return true, m.setWindow(24 * 7)

	case "/":
		return true, m.openFilterPrompt()
	case "f":
		m.clearFocusedFilter()
		return true, nil
	case "F":
		m.clearAllFilters()
		return true, nil

	case "s":
		m.sortFocused(true)
		return true, nil
	case "S":
		m.sortFocused(false)
		return true, nil

	case "p":
		return true, m.capturePlanForSelection()
	}

	return false, nil
}
