package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/meshagent/internal/tracing"
	"github.com/harun/meshagent/pkg/model"
	"github.com/harun/meshagent/pkg/protocol"
	"github.com/harun/meshagent/pkg/session"
	"github.com/harun/meshagent/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
)

// MaxStepsMessage is the answer given when the loop runs out of steps.
const MaxStepsMessage = "Reached maximum reasoning steps (%d) without a final answer."

// reason runs the preamble and the step loop and returns the final answer.
// A panic inside a step is turned into an error.
func (e *Engine) reason(ctx context.Context, sessionID string, input []model.Message) (answer string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in reasoning loop: %v", p)
		}
	}()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	working := e.buildPreamble(ctx, input)
	if history := e.sessions.BuildConversationContext(ctx, sessionID, e.contextWindow); history != "" {
		working = append(working, model.Message{
			Role:    model.RoleSystem,
			Content: "Previous conversation:\n" + history,
		})
	}

	for _, msg := range input {
		switch msg.Role {
		case model.RoleSystem:
			continue
		case model.RoleUser:
			e.record(ctx, sessionID, session.UserMessage{Text: msg.Content}, nil)
		case model.RoleTaskDelegation:
			e.record(ctx, sessionID, session.TaskDelegationReceived{Text: msg.Content}, nil)
		}
		working = append(working, msg)
	}

	for step := 1; step <= e.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := e.callModel(ctx, working, step)
		if err != nil {
			return "", err
		}

		if call, ok := protocol.ParseToolCall(text); ok {
			e.metrics.RecordStep("tool")
			working, err = e.toolStep(ctx, sessionID, step, working, text, call)
			if err != nil {
				return "", err
			}
			continue
		}

		if del, ok := protocol.ParseDelegation(text); ok {
			e.metrics.RecordStep("delegation")
			working, err = e.delegationStep(ctx, sessionID, step, working, text, del)
			if err != nil {
				return "", err
			}
			continue
		}

		e.metrics.RecordStep("final")
		e.metrics.RecordTermination("final")
		e.record(ctx, sessionID, session.AgentResponse{Text: text}, map[string]any{"step": step})
		logger.Debug().Int("step", step).Msg("Final answer produced")
		return text, nil
	}

	answer = fmt.Sprintf(MaxStepsMessage, e.maxSteps)
	e.metrics.RecordTermination("max_steps")
	e.record(ctx, sessionID, session.AgentResponse{Text: answer}, map[string]any{"terminated": "max_steps"})
	logger.Warn().Int("max_steps", e.maxSteps).Msg("Reasoning loop exhausted its steps")
	return answer, nil
}

func (e *Engine) callModel(ctx context.Context, working []model.Message, step int) (string, error) {
	ctx = e.tracker.Begin(ctx, "model.complete", tracing.KindModel,
		attribute.Int("step", step),
		attribute.Int("messages", len(working)),
	)

	text, err := e.backend.Complete(ctx, working)
	if err != nil {
		e.tracker.Failure(ctx, err)
		return "", fmt.Errorf("model call failed: %w", err)
	}
	e.tracker.Success(ctx)
	return text, nil
}

// toolStep runs one tool directive. Tool failures are folded into the
// conversation; only cancellation aborts the loop.
func (e *Engine) toolStep(ctx context.Context, sessionID string, step int, working []model.Message, text string, call protocol.ToolCall) ([]model.Message, error) {
	meta := map[string]any{"step": step}
	e.record(ctx, sessionID, session.ToolCall{Tool: call.Tool, Arguments: call.Arguments}, meta)

	spanCtx := e.tracker.Begin(ctx, "tool."+call.Tool, tracing.KindTool, attribute.String("tool", call.Tool))
	result, err := e.callTool(spanCtx, call.Tool, call.Arguments)

	working = append(working, model.Message{Role: model.RoleAssistant, Content: text})

	if err != nil {
		e.tracker.Failure(spanCtx, err)
		if ctx.Err() != nil {
			return working, ctx.Err()
		}
		e.record(ctx, sessionID, session.ToolResult{Tool: call.Tool, Error: err.Error()}, meta)
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Warn().Err(err).Str("tool", call.Tool).Msg("Tool call failed")

		return append(working, model.Message{
			Role:    model.RoleUser,
			Content: toolFailureText(call.Tool, err),
		}), nil
	}

	e.tracker.Success(spanCtx)
	e.record(ctx, sessionID, session.ToolResult{Tool: call.Tool, Result: result}, meta)

	return append(working, model.Message{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("Tool %s returned: %s", call.Tool, renderResult(result)),
	}), nil
}

// callTool routes name to the provider that owns it, discovering inactive
// providers when no known provider claims the name.
func (e *Engine) callTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if p := e.ownerOf(name); p != nil {
		return p.Call(ctx, name, args)
	}

	var unavailable error
	for _, p := range e.tools {
		discovered, err := p.Discover(ctx)
		if err != nil {
			unavailable = err
			continue
		}
		for _, t := range discovered {
			if t.Name == name {
				return p.Call(ctx, name, args)
			}
		}
	}
	if unavailable != nil {
		return nil, fmt.Errorf("%w: %s (%v)", tools.ErrNotFound, name, unavailable)
	}
	return nil, fmt.Errorf("%w: %s", tools.ErrNotFound, name)
}

func (e *Engine) ownerOf(name string) tools.Provider {
	for _, p := range e.tools {
		for _, t := range p.Tools() {
			if t.Name == name {
				return p
			}
		}
	}
	return nil
}

func toolFailureText(tool string, err error) string {
	switch {
	case errors.Is(err, tools.ErrNotFound):
		return fmt.Sprintf("Tool %s is not available. Use one of the listed tools or answer without it.", tool)
	case errors.Is(err, tools.ErrInvalidArguments):
		return fmt.Sprintf("Tool %s rejected the arguments: %v. Fix the arguments and try again.", tool, err)
	case errors.Is(err, tools.ErrUnavailable):
		return fmt.Sprintf("Tool %s is unreachable right now: %v. Try another approach.", tool, err)
	default:
		return fmt.Sprintf("Tool %s failed: %v", tool, err)
	}
}

func renderResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(b)
}

// delegationStep hands a task to a peer. Peer failures are folded into the
// conversation as a bracketed notice.
func (e *Engine) delegationStep(ctx context.Context, sessionID string, step int, working []model.Message, text string, del protocol.Delegation) ([]model.Message, error) {
	meta := map[string]any{"step": step}
	e.record(ctx, sessionID, session.DelegationRequest{Agent: del.Agent, Task: del.Task}, meta)

	spanCtx := e.tracker.Begin(ctx, "delegate."+del.Agent, tracing.KindDelegation, attribute.String("peer", del.Agent))

	var (
		response string
		err      error
	)
	p, ok := e.peers[del.Agent]
	if !ok {
		err = fmt.Errorf("unknown agent %q", del.Agent)
	} else {
		messages := append(e.trailing(working), model.Message{Role: model.RoleTaskDelegation, Content: del.Task})
		response, err = p.Invoke(tracing.PropagateToPeer(spanCtx, del.Agent), messages)
	}

	working = append(working, model.Message{Role: model.RoleAssistant, Content: text})

	if err != nil {
		e.tracker.Failure(spanCtx, err)
		if ctx.Err() != nil {
			return working, ctx.Err()
		}
		e.record(ctx, sessionID, session.DelegationError{Agent: del.Agent, Error: err.Error()}, meta)
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Warn().Err(err).Str("peer", del.Agent).Msg("Delegation failed")

		return append(working, model.Message{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("[Delegation to %s failed: %v]", del.Agent, err),
		}), nil
	}

	e.tracker.Success(spanCtx)
	e.record(ctx, sessionID, session.DelegationResponse{Agent: del.Agent, Response: response}, meta)

	return append(working, model.Message{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("Response from %s: %s", del.Agent, response),
	}), nil
}

// trailing returns the last memoryLimit non-system messages of working.
func (e *Engine) trailing(working []model.Message) []model.Message {
	convo := make([]model.Message, 0, len(working))
	for _, m := range working {
		if m.Role != model.RoleSystem {
			convo = append(convo, m)
		}
	}
	if len(convo) > e.memoryLimit {
		convo = convo[len(convo)-e.memoryLimit:]
	}
	return convo
}
