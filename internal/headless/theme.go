package headless

import "github.com/charmbracelet/lipgloss"

var (
	Green     = lipgloss.Color("#00FF41")
	DarkGreen = lipgloss.Color("#008F11")
	DimGreen  = lipgloss.Color("#003B00")
	Cyan      = lipgloss.Color("#00D4AA")
	MidGray   = lipgloss.Color("#3a3a4e")
	Amber     = lipgloss.Color("#FFD700")
	Red       = lipgloss.Color("#FF4136")

	RootStyle = lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true)

	HelperStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00AA77")).
			Italic(true)

	ToolCallStyle = lipgloss.NewStyle().
			Foreground(DarkGreen).
			Italic(true)

	ToolResultStyle = lipgloss.NewStyle().
			Foreground(MidGray)

	PageStyle = lipgloss.NewStyle().
			Foreground(Green)

	BlockedStyle = lipgloss.NewStyle().
			Foreground(Amber).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(DimGreen)
)
