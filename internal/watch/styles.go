package watch

import "github.com/charmbracelet/lipgloss"

// Dashboard palette, ANSI-256 so it degrades cleanly over ssh.
const (
	colorAccent   = lipgloss.Color("39")  // cursor, active tab
	colorTitle    = lipgloss.Color("231") // product name
	colorText     = lipgloss.Color("252") // cell values
	colorMuted    = lipgloss.Color("243") // labels, counts, hints
	colorBorder   = lipgloss.Color("238")
	colorHealthy  = lipgloss.Color("42")
	colorWarning  = lipgloss.Color("214")
	colorCritical = lipgloss.Color("203")
	colorSelBg    = lipgloss.Color("237") // selected row background
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorTitle).
			Bold(true)

	instanceStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	headerMetaStyle = lipgloss.NewStyle().
			Foreground(colorText)

	tabStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	tabActiveStyle = tabStyle.
			Foreground(colorTitle).
			Background(colorAccent).
			Bold(true)

	tabFailedStyle = tabStyle.
			Foreground(colorCritical)

	gridTitleStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	colHeaderStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Underline(true)

	colHeaderFocusStyle = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true).
				Underline(true)

	selectedRowStyle = lipgloss.NewStyle().
				Background(colorSelBg).
				Foreground(colorTitle)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	critStyle = lipgloss.NewStyle().
			Foreground(colorCritical).
			Bold(true)

	filterBadgeStyle = lipgloss.NewStyle().
				Foreground(colorWarning)

	promptStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	flashStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	helpBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 3)

	sparkStyle = lipgloss.NewStyle().
			Foreground(colorHealthy)
)

// spinnerFrames animate in-flight refreshes and plan captures.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// sparkLevels are the bar glyphs a sparkline maps values onto, lowest first.
var sparkLevels = []rune("▁▂▃▄▅▆▇█")

const glyphFailed = "✗"
