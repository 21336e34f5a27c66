// Package dispatch decides which handler answers an inbound mesh message and
// drives self-handling commands through their gates.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"meshbot/pkg/command"
	"meshbot/pkg/delivery"
	"meshbot/pkg/localize"
	"meshbot/pkg/mesh"
	"meshbot/pkg/placeholder"
)

// DefaultSettleDelay lets a command's own replies land before its outcome is read.
const DefaultSettleDelay = 100 * time.Millisecond

// Telemetry receives one record per dispatch outcome.
type Telemetry interface {
	RecordCommand(ctx context.Context, msg mesh.Message, commandName string, responseSent bool)
}

// Observer receives richer execution details.
type Observer interface {
	CaptureCommand(ctx context.Context, msg mesh.Message, commandName string, response string, success bool)
}

// Telemetries fans records out to several sinks.
type Telemetries []Telemetry

func (t Telemetries) RecordCommand(ctx context.Context, msg mesh.Message, commandName string, responseSent bool) {
	for _, sink := range t {
		if sink != nil {
			sink.RecordCommand(ctx, msg, commandName, responseSent)
		}
	}
}

// Observers fans captures out to several observers.
type Observers []Observer

func (o Observers) CaptureCommand(ctx context.Context, msg mesh.Message, commandName string, response string, success bool) {
	for _, observer := range o {
		if observer != nil {
			observer.CaptureCommand(ctx, msg, commandName, response, success)
		}
	}
}

// Connectivity reports internet reachability through a cached probe.
type Connectivity interface {
	Check() bool
	CheckContext(ctx context.Context) bool
}

// Match is one matcher candidate. A nil Response means the command answers
// for itself through ExecuteCommands.
type Match struct {
	Trigger  string
	Response *string
}

// Options configures a Dispatcher.
type Options struct {
	Keywords     map[string]string
	CustomSyntax map[string]string
	Prefix       string
	BannedUsers  []string
	// MonitorChannels limits which channels are answered. Empty answers all.
	MonitorChannels []string
	SettleDelay     time.Duration
	Placeholders    placeholder.Options
	Translator      localize.Translator
	Connectivity    Connectivity
	Telemetry       Telemetry
	Observer        Observer
	Logger          *slog.Logger
}

type tableEntry struct {
	keyword  string
	template string
}

// Dispatcher is the matching engine and execution orchestrator.
type Dispatcher struct {
	registry  *command.Registry
	responder command.Responder

	keywords     map[string]string
	residual     []tableEntry
	prefix       string
	banned       []string
	monitored    []string
	settleDelay  time.Duration
	placeholders placeholder.Options

	translator   localize.Translator
	connectivity Connectivity
	telemetry    Telemetry
	observer     Observer

	sleep func(ctx context.Context, d time.Duration) error
	log   *slog.Logger
}

// New builds a dispatcher over the registered commands. Replies go through
// responder. A registered help command is bound to this dispatcher.
func New(registry *command.Registry, responder command.Responder, opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = command.DefaultPrefix
	}
	settle := opts.SettleDelay
	if settle < 0 {
		settle = 0
	}

	d := &Dispatcher{
		registry:     registry,
		responder:    responder,
		keywords:     lowerKeys(opts.Keywords),
		prefix:       prefix,
		banned:       opts.BannedUsers,
		monitored:    opts.MonitorChannels,
		settleDelay:  settle,
		placeholders: opts.Placeholders,
		translator:   opts.Translator,
		connectivity: opts.Connectivity,
		telemetry:    opts.Telemetry,
		observer:     opts.Observer,
		sleep:        sleepContext,
		log:          log.With("component", "dispatch.dispatcher"),
	}
	d.residual = buildResidual(d.keywords, lowerKeys(opts.CustomSyntax))

	if cmd, ok := registry.Lookup("help"); ok {
		if help, ok := cmd.(*command.Help); ok {
			help.Bind(d)
		}
	}

	return d
}

// buildResidual orders static keywords before custom syntax, each sorted.
// Custom syntax entries shadowed by a keyword of the same spelling are dropped.
func buildResidual(keywords map[string]string, syntax map[string]string) []tableEntry {
	entries := make([]tableEntry, 0, len(keywords)+len(syntax))
	for _, key := range sortedKeys(keywords) {
		entries = append(entries, tableEntry{keyword: key, template: keywords[key]})
	}
	for _, key := range sortedKeys(syntax) {
		if _, shadowed := keywords[key]; shadowed {
			continue
		}
		entries = append(entries, tableEntry{keyword: key, template: syntax[key]})
	}

	return entries
}

// Handle processes one inbound message to completion: at most one template
// response is sent, otherwise self-handling commands run.
func (d *Dispatcher) Handle(ctx context.Context, msg mesh.Message) HandleReport {
	if d.isBanned(msg) {
		d.log.Debug("Ignoring banned sender", "sender", msg.SenderID)
		return HandleReport{Dropped: DropBanned}
	}
	if !msg.IsDM && !d.isMonitored(msg.Channel) {
		return HandleReport{Dropped: DropUnmonitored}
	}

	report := HandleReport{Matches: d.Match(ctx, msg)}

	for _, match := range report.Matches {
		if match.Response == nil {
			continue
		}

		outcome, err := d.responder.Respond(ctx, msg, *match.Response)
		if err != nil {
			d.log.Warn("Failed to send response", "trigger", match.Trigger, "target", msg.Target(), "error", err)
		}
		d.record(ctx, msg, match.Trigger, outcome.Sent)
		report.Trigger = match.Trigger
		report.Outcome = outcome

		return report
	}

	execution := d.ExecuteCommands(ctx, msg)
	if execution.Command != "" {
		report.Trigger = execution.Command
		report.Outcome = execution.Outcome
		report.Execution = &execution
	}

	return report
}

// Match lists the handlers that would answer msg, in precedence order.
func (d *Dispatcher) Match(ctx context.Context, msg mesh.Message) []Match {
	content := command.Normalize(msg.Content, d.prefix)

	if match, ok := d.matchHelp(ctx, msg, content); ok {
		return []Match{match}
	}

	var matches []Match

	for _, cmd := range d.registry.All() {
		if !cmd.ShouldMatch(msg) {
			continue
		}
		if !cmd.CanExecuteNow(msg) {
			continue
		}
		if cmd.RequiresInternet() && !d.online() {
			d.log.Warn("Command requires internet but network is unavailable", "command", cmd.Name())
			continue
		}

		template, ok := cmd.ResponseTemplate()
		if !ok {
			matches = append(matches, Match{Trigger: cmd.Name()})
			continue
		}

		response := d.format(ctx, cmd.Name(), template, msg, command.Args(msg.Content, d.prefix, cmd.Keywords()))
		matches = append(matches, Match{Trigger: cmd.Name(), Response: &response})
	}

	for _, entry := range d.residual {
		if d.registry.OwnsKeyword(entry.keyword) {
			continue
		}
		if !command.MatchesKeyword(content, entry.keyword) {
			continue
		}

		args := command.Args(msg.Content, d.prefix, []string{entry.keyword})
		response := d.format(ctx, entry.keyword, entry.template, msg, args)
		matches = append(matches, Match{Trigger: entry.keyword, Response: &response})
	}

	return matches
}

func (d *Dispatcher) matchHelp(ctx context.Context, msg mesh.Message, content string) (Match, bool) {
	for _, keyword := range d.helpKeywords() {
		var text string
		switch {
		case strings.HasPrefix(content, keyword+" "):
			text = d.HelpFor(msg, strings.TrimSpace(content[len(keyword):]))
		case content == keyword:
			text = d.GeneralHelp()
		default:
			continue
		}

		response := d.format(ctx, "help", text, msg, "")
		return Match{Trigger: "help", Response: &response}, true
	}

	return Match{}, false
}

func (d *Dispatcher) helpKeywords() []string {
	if help, ok := d.registry.Lookup("help"); ok {
		if keywords := help.Keywords(); len(keywords) > 0 {
			return keywords
		}
	}

	return []string{"help"}
}

// format fills placeholders, falling back to the raw template on error.
func (d *Dispatcher) format(ctx context.Context, trigger string, template string, msg mesh.Message, args string) string {
	opts := d.placeholders
	opts.Args = args

	text, err := placeholder.Format(ctx, template, &msg, opts)
	if err != nil {
		d.log.Warn("Error formatting response", "trigger", trigger, "error", err)
		return template
	}

	return text
}

func (d *Dispatcher) online() bool {
	return d.connectivity == nil || d.connectivity.Check()
}

func (d *Dispatcher) onlineContext(ctx context.Context) bool {
	return d.connectivity == nil || d.connectivity.CheckContext(ctx)
}

func (d *Dispatcher) record(ctx context.Context, msg mesh.Message, name string, sent bool) {
	if d.telemetry != nil {
		d.telemetry.RecordCommand(ctx, msg, name, sent)
	}
}

func (d *Dispatcher) capture(ctx context.Context, msg mesh.Message, name string, response string, success bool) {
	if d.observer != nil {
		d.observer.CaptureCommand(ctx, msg, name, response, success)
	}
}

func (d *Dispatcher) isBanned(msg mesh.Message) bool {
	for _, banned := range d.banned {
		banned = strings.TrimSpace(banned)
		if banned == "" {
			continue
		}
		if strings.EqualFold(banned, msg.SenderID) {
			return true
		}
		if msg.SenderPubKey != "" && strings.HasPrefix(strings.ToLower(msg.SenderPubKey), strings.ToLower(banned)) {
			return true
		}
	}

	return false
}

func (d *Dispatcher) isMonitored(channel string) bool {
	if len(d.monitored) == 0 {
		return true
	}
	for _, monitored := range d.monitored {
		if strings.EqualFold(strings.TrimSpace(monitored), channel) {
			return true
		}
	}

	return false
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "" {
			out[key] = value
		}
	}

	return out
}

func sortedKeys(in map[string]string) []string {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Drop reasons reported by Handle.
const (
	DropBanned      = "banned"
	DropUnmonitored = "unmonitored_channel"
)

// HandleReport summarizes what Handle did with a message.
type HandleReport struct {
	Dropped   string
	Matches   []Match
	Trigger   string
	Outcome   delivery.Outcome
	Execution *ExecutionReport
}
