package dispatch

import (
	"context"
	"fmt"
	"math"
	"sync"

	"meshbot/pkg/command"
	"meshbot/pkg/delivery"
	"meshbot/pkg/localize"
	"meshbot/pkg/mesh"
)

// Rejection reasons reported in ExecutionReport.
const (
	RejectDMOnly     = "dm_only"
	RejectAdmin      = "access_denied"
	RejectCooldown   = "cooldown"
	RejectBlocked    = "blocked"
	RejectNoInternet = "no_internet"
)

const defaultExecutedResponse = "Command executed"

// ExecutionReport describes the single command ExecuteCommands acted on.
type ExecutionReport struct {
	Command string
	// Rejection is set when a gate stopped the command before it ran.
	Rejection string
	Executed  bool
	Result    command.Result
	Err       error
	Outcome   delivery.Outcome
}

// ResponseSent reports whether any reply reached the transport.
func (r ExecutionReport) ResponseSent() bool {
	return r.Outcome.Sent
}

// ExecuteCommands runs the first matching self-handling command, or explains
// which gate stopped it. Commands with a response template are skipped: the
// matcher answers those.
func (d *Dispatcher) ExecuteCommands(ctx context.Context, msg mesh.Message) ExecutionReport {
	for _, cmd := range d.registry.All() {
		if !cmd.ShouldMatch(msg) {
			continue
		}
		if _, ok := cmd.ResponseTemplate(); ok {
			continue
		}

		d.log.Info("Command matched, executing", "command", cmd.Name(), "sender", msg.SenderID)

		if !cmd.CanExecuteNow(msg) {
			return d.reject(ctx, cmd, msg)
		}

		if cmd.RequiresInternet() && !d.onlineContext(ctx) {
			d.log.Warn("Command requires internet but network is unavailable", "command", cmd.Name())
			text := localize.Render(d.translator, localize.KeyNoInternet, localize.Params{"command": cmd.Name()})
			outcome := d.respond(ctx, msg, text)
			d.record(ctx, msg, cmd.Name(), true)

			return ExecutionReport{Command: cmd.Name(), Rejection: RejectNoInternet, Outcome: outcome}
		}

		return d.execute(ctx, cmd, msg)
	}

	return ExecutionReport{}
}

// reject emits at most one explanation for a gated command.
func (d *Dispatcher) reject(ctx context.Context, cmd command.Command, msg mesh.Message) ExecutionReport {
	report := ExecutionReport{Command: cmd.Name(), Rejection: RejectBlocked}
	params := localize.Params{"command": cmd.Name()}

	var text string
	switch {
	case cmd.RequiresDM() && !msg.IsDM:
		report.Rejection = RejectDMOnly
		if cmd.ChannelAllowed(msg) {
			text = localize.Render(d.translator, localize.KeyDMOnly, params)
		}
	case cmd.RequiresAdmin() && !cmd.AdminAllowed(msg):
		report.Rejection = RejectAdmin
		text = localize.Render(d.translator, localize.KeyAccessDenied, params)
	default:
		if remaining := command.RemainingOf(cmd.Cooldown(), msg.SenderID); remaining > 0 {
			report.Rejection = RejectCooldown
			params["seconds"] = int(math.Ceil(remaining.Seconds()))
			text = localize.Render(d.translator, localize.KeyCooldown, params)
		}
	}

	if text != "" {
		report.Outcome = d.respond(ctx, msg, text)
	}
	d.log.Warn("Command rejected", "command", cmd.Name(), "reason", report.Rejection, "sender", msg.SenderID)
	d.record(ctx, msg, cmd.Name(), text != "" && report.Outcome.Sent)

	return report
}

func (d *Dispatcher) execute(ctx context.Context, cmd command.Command, msg mesh.Message) ExecutionReport {
	report := ExecutionReport{Command: cmd.Name(), Executed: true}
	command.RecordOf(cmd.Cooldown(), msg.SenderID)

	recorder := &recordingResponder{next: d.responder}
	result, err := runCommand(ctx, cmd, msg, recorder)
	report.Result = result

	if err != nil {
		d.log.Error("Error executing command", "command", cmd.Name(), "error", err)
		report.Err = err

		text := localize.Render(d.translator, localize.KeyExecutionError, localize.Params{
			"command": cmd.Name(),
			"error":   err.Error(),
		})
		report.Outcome = merge(recorder.Outcome(), d.respond(ctx, msg, text))
		d.record(ctx, msg, cmd.Name(), true)
		d.capture(ctx, msg, cmd.Name(), text, false)

		return report
	}

	if err := d.sleep(ctx, d.settleDelay); err != nil {
		d.log.Debug("Settle delay interrupted", "error", err)
	}

	report.Outcome = recorder.Outcome()
	d.record(ctx, msg, cmd.Name(), report.Outcome.Sent)

	response := report.Outcome.Text
	if response == "" {
		response = defaultExecutedResponse
	}
	d.capture(ctx, msg, cmd.Name(), response, result.Success)

	return report
}

// runCommand executes cmd, converting a panic into an error.
func runCommand(ctx context.Context, cmd command.Command, msg mesh.Message, responder command.Responder) (result command.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return cmd.Execute(ctx, msg, responder)
}

func (d *Dispatcher) respond(ctx context.Context, msg mesh.Message, text string) delivery.Outcome {
	outcome, err := d.responder.Respond(ctx, msg, text)
	if err != nil {
		d.log.Warn("Failed to send response", "target", msg.Target(), "error", err)
	}

	return outcome
}

// recordingResponder captures what a command sent.
type recordingResponder struct {
	next command.Responder

	mu      sync.Mutex
	outcome delivery.Outcome
}

func (r *recordingResponder) Respond(ctx context.Context, msg mesh.Message, text string) (delivery.Outcome, error) {
	outcome, err := r.next.Respond(ctx, msg, text)

	r.mu.Lock()
	r.outcome = merge(r.outcome, outcome)
	r.mu.Unlock()

	return outcome, err
}

func (r *recordingResponder) Outcome() delivery.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.outcome
}

// merge folds a later reply into an earlier one. The last text wins.
func merge(prev delivery.Outcome, next delivery.Outcome) delivery.Outcome {
	merged := delivery.Outcome{
		Attempted: prev.Attempted || next.Attempted,
		Sent:      prev.Sent || next.Sent,
		Parts:     prev.Parts + next.Parts,
		Delivered: prev.Delivered + next.Delivered,
		Text:      prev.Text,
	}
	if next.Text != "" {
		merged.Text = next.Text
	}

	return merged
}
