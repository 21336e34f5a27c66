package console

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for console regions.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	bootLine   lipgloss.Style
	bootDone   lipgloss.Style
	youBox     lipgloss.Style
	youTitle   lipgloss.Style
	botBox     lipgloss.Style
	botTitle   lipgloss.Style
	errorBox   lipgloss.Style
	errorTitle lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	inputLabel lipgloss.Style
	input      lipgloss.Style
	viewport   lipgloss.Style
}

// defaultTheme is a green-on-black radio terminal palette.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("22")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("151")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")),
		bootLine: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")),
		bootDone: lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true),
		youBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		youTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214")).
			Padding(0, 1),
		botBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("41")).
			Background(lipgloss.Color("234")).
			Padding(0, 1),
		botTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("41")).
			Padding(0, 1),
		errorBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("203")).
			Foreground(lipgloss.Color("203")).
			Background(lipgloss.Color("52")).
			Padding(0, 1),
		errorTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusBusy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("120")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		inputLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("65")).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("28")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
	}
}
