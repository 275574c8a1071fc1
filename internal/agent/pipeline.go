package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
)

// process runs one command through match, execute, augment and record. It is
// only called from the worker goroutine.
func (a *Agent) process(ctx context.Context, cmd domain.Command) *domain.CommandResult {
	start := time.Now()
	services := a.registry.List()

	analysis := a.deps.Reasoner.Analyze(ctx, cmd.Text, a.history.Recent(a.deps.Reasoner.HistoryWindow()), services)

	var (
		conn     connector.Connector
		matchKey = cmd.Text
	)
	if analysis.OK() {
		if c := a.registry.Match(analysis.Intent.Action); c != nil {
			conn, matchKey = c, analysis.Intent.Action
		}
	}
	if conn == nil {
		conn = a.registry.Match(cmd.Text)
	}

	var result *domain.CommandResult
	if conn == nil {
		result = &domain.CommandResult{
			Status:            domain.StatusNoMatch,
			Message:           NoMatchMessage,
			AvailableServices: a.registry.Names(),
		}
	} else {
		params := connector.ExtractParameters(cmd.Text).Merge(cmd.Parameters)
		if analysis.OK() {
			params.Merge(analysis.Intent.Parameters)
		}
		result = a.execute(ctx, conn, matchKey, params)

		if analysis.OK() && result.Status == domain.StatusSuccess {
			if reply := a.deps.Reasoner.GenerateResponse(ctx, cmd.Text, result); reply.OK() {
				result.Message = reply.Text
				result.AIEnhanced = true
			}
		}
	}
	result.Timestamp = time.Now()

	a.record(ctx, cmd, result)

	connectorType := ""
	if result.Action != nil {
		connectorType = result.Action.ConnectorType
	}
	a.deps.Metrics.ObserveCommand(string(result.Status), connectorType, string(cmd.Context.Channel), time.Since(start))
	a.logger.Info("Command dispatched",
		"channel", cmd.Context.Channel,
		"status", result.Status,
		"connector", result.ServiceName(),
		"action", result.ActionName(),
		"ai_enhanced", result.AIEnhanced,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if cmd.Context.Channel == domain.ChannelChat {
		a.notify(ctx, ChatEvent{
			Type:      EventCommandResult,
			Origin:    cmd.Context.Origin,
			Command:   cmd.Text,
			Result:    result,
			Timestamp: result.Timestamp,
		})
	}
	return result
}

type execResult struct {
	outcome *connector.Outcome
	err     error
}

// execute runs conn under the connector timeout. A connector that ignores its
// context is abandoned when the deadline passes.
func (a *Agent) execute(ctx context.Context, conn connector.Connector, text string, params connector.Params) *domain.CommandResult {
	desc := conn.Descriptor()
	action := &domain.Action{
		Connector:     desc.Name,
		ConnectorType: desc.Type,
		Parameters:    params,
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.ConnectorTimeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execResult{err: fmt.Errorf("connector panicked: %v", p)}
			}
		}()
		out, err := conn.Execute(ctx, text, params.Clone())
		done <- execResult{outcome: out, err: err}
	}()

	var res execResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = execResult{err: ctx.Err()}
	}

	if res.err == nil && res.outcome == nil {
		res.err = errors.New("connector returned no outcome")
	}
	if res.err != nil {
		a.logger.Warn("Connector execution failed",
			"connector", desc.Name,
			"error", res.err,
		)
		action.Name = "execute"
		return &domain.CommandResult{
			Status:  domain.StatusError,
			Action:  action,
			Message: "Error executing command: " + res.err.Error(),
		}
	}

	out := res.outcome
	action.Name = out.Action
	output := make(map[string]any, len(out.Payload)+2)
	for k, v := range out.Payload {
		output[k] = v
	}
	if !out.Succeeded {
		output["failed"] = true
		output["error"] = out.Message
	}
	return &domain.CommandResult{
		Status:  domain.StatusSuccess,
		Action:  action,
		Output:  output,
		Message: connector.Summarize(out, desc),
	}
}

// record appends the command to history and persists it. Persistence failures
// are logged and never change the result.
func (a *Agent) record(ctx context.Context, cmd domain.Command, result *domain.CommandResult) {
	c := cmd
	entry := a.history.Append(domain.HistoryEntry{
		Kind:      domain.HistoryCommand,
		Command:   &c,
		Result:    result,
		Timestamp: result.Timestamp,
	})

	if a.deps.Recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.RecordTimeout)
		if err := a.deps.Recorder.AppendHistory(rctx, a.userID, entry); err != nil {
			a.logger.Warn("Failed to persist history entry", "seq", entry.Seq, "error", err)
		}
		cancel()
	}

	session := string(cmd.Context.Channel)
	a.deps.ConvLog.Log(ConversationLogEvent{
		UserID:     a.userID,
		SessionID:  session,
		Channel:    string(cmd.Context.Channel),
		Direction:  "inbound",
		EventType:  "command",
		ContentRaw: cmd.Text,
		Meta:       map[string]any{"seq": entry.Seq, "sender": cmd.Context.Sender},
	})
	a.deps.ConvLog.Log(ConversationLogEvent{
		UserID:     a.userID,
		SessionID:  session,
		Channel:    string(cmd.Context.Channel),
		Direction:  "outbound",
		EventType:  "command_result",
		ContentRaw: result.Message,
		Meta: map[string]any{
			"seq":         entry.Seq,
			"status":      result.Status,
			"connector":   result.ServiceName(),
			"ai_enhanced": result.AIEnhanced,
		},
	})
}
