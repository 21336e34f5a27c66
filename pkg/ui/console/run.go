// Package console is an interactive terminal that talks to the bot over the
// loopback transport.
package console

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meshbot/pkg/channel/loopback"
	"meshbot/pkg/mesh"
)

// InjectFunc hands a typed message to the bot.
type InjectFunc func(ctx context.Context, msg mesh.Message) error

// Options configures the console session.
type Options struct {
	BotName string
	// Sender is the node name typed messages appear to come from.
	Sender   string
	Channels map[string]int
	Commands []string
	Inject   InjectFunc
	// Transmissions delivers every send the bot makes.
	Transmissions <-chan loopback.Transmission
}

// Run blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	program := tea.NewProgram(newModel(ctx, opts), tea.WithContext(ctx), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner(opts.BotName))
	return nil
}

func renderGoodbyeBanner(botName string) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("231")).
		Background(lipgloss.Color("22")).
		Padding(1, 2)

	return style.Render("📡 " + displayOrNA(botName) + " signing off")
}
