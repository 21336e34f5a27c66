package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meshbot/pkg/channel/loopback"
	"meshbot/pkg/mesh"
)

// quietAfter ends the busy indicator when the bot stays silent.
const quietAfter = 5 * time.Second

const wheelLines = 3

type entry struct {
	role    string
	label   string
	content string
}

type transmissionMsg struct {
	tx loopback.Transmission
	ok bool
}

type injectResultMsg struct {
	err error
}

type quietMsg struct {
	seq int
}

type bootTickMsg struct{}

type model struct {
	ctx  context.Context
	opts Options

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	sent      int
	sentBytes int
	seq       int
}

func newModel(ctx context.Context, opts Options) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("41"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "!ping, or #general hello"
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		opts:      opts,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(bootTickCmd(), waitForTransmission(m.opts.Transmissions))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case transmissionMsg:
		if !typed.ok {
			return m, nil
		}
		m.sent++
		m.sentBytes += len(typed.tx.Text)
		m.isLoading = false
		m.entries = append(m.entries, entry{role: "bot", label: m.transmissionLabel(typed.tx), content: typed.tx.Text})
		m.refreshViewport(false)
		return m, waitForTransmission(m.opts.Transmissions)
	case injectResultMsg:
		if typed.err != nil {
			m.isLoading = false
			m.lastErr = typed.err.Error()
			m.entries = append(m.entries, entry{role: "error", content: typed.err.Error()})
			m.refreshViewport(false)
		}
		return m, nil
	case quietMsg:
		if typed.seq == m.seq {
			m.isLoading = false
		}
		return m, nil
	case tea.MouseMsg:
		if !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}
		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m, m.submit()
		}
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit injects the typed line as an inbound mesh message.
func (m *model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}

	m.input.SetValue("")
	msg, err := parseInput(text, m.opts.Sender)
	if err != nil {
		m.lastErr = err.Error()
		m.entries = append(m.entries, entry{role: "error", content: err.Error()})
		m.refreshViewport(true)
		return nil
	}

	m.lastErr = ""
	m.entries = append(m.entries, entry{role: "you", label: msg.Target(), content: msg.Content})
	m.isLoading = true
	m.followLog = true
	m.seq++
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, injectCmd(m.ctx, m.opts.Inject, msg), quietCmd(m.seq))
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("📡 " + displayOrNA(m.opts.BotName) + " mesh console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"sender:%s · commands:%d · transmissions:%d · bytes:%d",
		displayOrNA(m.opts.Sender),
		len(m.opts.Commands),
		m.sent,
		m.sentBytes,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter transmit  ·  #channel text for channels  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s listening for the bot...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("📟 "+displayOrNA(m.opts.Sender))+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		switch item.role {
		case "you":
			sections = append(sections, m.renderCard(
				m.theme.youTitle.Render("▶ "+item.label),
				m.theme.youBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case "bot":
			body := strings.TrimSpace(item.content) + "\n" + m.theme.hint.Render(fmt.Sprintf("%d bytes", len(item.content)))
			sections = append(sections, m.renderCard(
				m.theme.botTitle.Render("◀ "+item.label),
				m.theme.botBox.Width(m.viewport.Width).Render(body),
			))
		case "error":
			sections = append(sections, m.renderCard(
				m.theme.errorTitle.Render("ERROR"),
				m.theme.errorBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("📡 " + displayOrNA(m.opts.BotName) + " mesh console")
	meta := m.theme.headerMeta.Render("boot sequence")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ loopback radio online"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

// transmissionLabel names where the bot sent tx.
func (m *model) transmissionLabel(tx loopback.Transmission) string {
	if tx.Direct {
		return "dm:" + tx.To
	}

	names := make([]string, 0, 1)
	for name, number := range m.opts.Channels {
		if number == tx.Channel {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("channel:%d", tx.Channel)
	}
	sort.Strings(names)

	return "channel:" + names[0]
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.LineUp(wheelLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.LineDown(wheelLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

// parseInput turns a console line into an inbound message from sender.
// "#name text" is heard on channel name, anything else is a direct message.
func parseInput(input string, sender string) (mesh.Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return mesh.Message{}, errors.New("nothing to send")
	}

	msg := mesh.Message{SenderID: sender, IsDM: true, Content: input, Path: "Direct", Hops: 0}
	if !strings.HasPrefix(input, "#") {
		return msg, nil
	}

	name, text, _ := strings.Cut(input[1:], " ")
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if name == "" {
		return mesh.Message{}, errors.New("channel name is required after #")
	}
	if text == "" {
		return mesh.Message{}, fmt.Errorf("message for #%s is empty", name)
	}

	msg.IsDM = false
	msg.Channel = name
	msg.Content = text

	return msg, nil
}

func waitForTransmission(ch <-chan loopback.Transmission) tea.Cmd {
	if ch == nil {
		return nil
	}

	return func() tea.Msg {
		tx, ok := <-ch
		return transmissionMsg{tx: tx, ok: ok}
	}
}

func injectCmd(ctx context.Context, inject InjectFunc, msg mesh.Message) tea.Cmd {
	return func() tea.Msg {
		if inject == nil {
			return injectResultMsg{err: errors.New("console is not connected to a bot")}
		}
		return injectResultMsg{err: inject(ctx, msg)}
	}
}

func quietCmd(seq int) tea.Cmd {
	return tea.Tick(quietAfter, func(_ time.Time) tea.Msg {
		return quietMsg{seq: seq}
	})
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] loopback radio keyed",
		"[BOOT] command registry loaded",
		"[BOOT] tx limiter armed",
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
