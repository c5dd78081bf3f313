// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/coralweave/sessioncore/internal/pubsub"
	"github.com/coralweave/sessioncore/pkg/contextmgr"
	"github.com/coralweave/sessioncore/pkg/eventcore"
	"github.com/coralweave/sessioncore/pkg/llm"
	"github.com/coralweave/sessioncore/pkg/provider"
)

const (
	// retry tuning for transient provider stream failures.
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
	retryMaxAttempts     = 3

	// interruptedResultText is persisted as the tool.result content for
	// every tool_use left outstanding when a turn is interrupted.
	interruptedResultText = "Command interrupted (no output captured)"

	// truncateArgsThreshold is the serialized-size cutoff above which an
	// assistant event stores a tool_use input placeholder instead of the
	// full arguments; the full set always lives on the tool.call event and
	// is rehydrated during reconstruction.
	truncateArgsThreshold = 2048
)

// SendMessageOptions carries one user turn into SendMessage.
type SendMessageOptions struct {
	// Content is the user's message. A plain string can be passed via
	// TextContent.
	Content []eventcore.ContentBlock

	// Tools advertises the tool schemas for this turn. Names are sanitized
	// for provider compatibility on the way out and restored on the way
	// back.
	Tools []provider.ToolDefinition

	// Runner executes tool calls. Required when Tools is non-empty.
	Runner ToolRunner

	// EstimatedResponseTokens feeds admission control; defaults to 4096.
	EstimatedResponseTokens int
}

// TextContent wraps a plain string as a one-block content list.
func TextContent(text string) []eventcore.ContentBlock {
	return []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: text}}
}

// SendMessage appends the user turn, then drives the provider's streaming
// loop: each assistant turn is persisted with its accumulated content and
// token usage, every tool call is persisted (full arguments) before the
// tool runs, and each tool result is persisted when the tool returns. The
// loop continues until an assistant turn carries no tool_use or the step
// bound is hit. On interruption, only the current turn's unpersisted delta
// is written, flagged interrupted, and a synthetic tool.result is recorded
// for each outstanding tool_use.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID string, opts SendMessageOptions) error {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.send_message")
	defer o.tracer.EndSpan(span)

	st, err := o.state(sessionID)
	if err != nil {
		return err
	}

	estimated := opts.EstimatedResponseTokens
	if estimated <= 0 {
		estimated = 4096
	}
	admission := st.contextMgr.CanAcceptTurn(contextmgr.CanAcceptTurnOptions{EstimatedResponseTokens: estimated})
	if !admission.CanProceed {
		return fmt.Errorf("orchestrator: %d/%d tokens: %w", admission.CurrentTokens, admission.ContextLimit, eventcore.ErrCannotAcceptTurn)
	}

	o.mu.Lock()
	providerName := st.provider
	model := st.model
	o.mu.Unlock()

	prov, ok := o.providers[provider.Name(providerName)]
	if !ok {
		return fmt.Errorf("orchestrator: no client registered for provider %q: %w", providerName, eventcore.ErrUnknownModel)
	}

	userEvent, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventMessageUser,
		Payload:   eventcore.MessageUserPayload{Content: opts.Content},
	})
	if err != nil {
		return err
	}
	st.contextMgr.Append(eventcore.ReconstructedMessage{
		Message:  eventcore.Message{Role: eventcore.RoleUser, Content: opts.Content},
		EventIDs: []string{userEvent.ID},
	})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: userEvent})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.AgentTurn, SessionID: sessionID, Payload: map[string]any{"phase": "started"}})

	nameMap, sanitizedTools := sanitizeTools(opts.Tools)

	for step := 0; step < o.cfg.MaxTurnSteps; step++ {
		snapshot := st.contextMgr.Messages()
		streamOpts := provider.StreamOptions{
			Model:        model,
			SystemPrompt: st.contextMgr.SystemPrompt(),
			Messages:     snapshot,
			Tools:        sanitizedTools,
		}

		result, err := o.streamWithRetry(ctx, prov, streamOpts, sessionID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return o.persistInterrupt(context.WithoutCancel(ctx), sessionID, st, result)
			}
			o.persistProviderError(context.WithoutCancel(ctx), sessionID, err, result != nil && result.safetyBlock)
			return err
		}

		restoreToolNames(result.content, nameMap)

		if result.interrupted {
			return o.persistInterrupt(context.WithoutCancel(ctx), sessionID, st, result)
		}

		assistantEvent, err := o.persistAssistant(ctx, sessionID, result, false)
		if err != nil {
			return err
		}
		st.contextMgr.Append(eventcore.ReconstructedMessage{
			Message:  eventcore.Message{Role: eventcore.RoleAssistant, Content: result.content},
			EventIDs: []string{assistantEvent.ID},
		})
		st.contextMgr.SetAPIReportedTokens(result.usage.InputTokens + result.usage.OutputTokens)
		o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: assistantEvent})

		toolUses := toolUseBlocks(result.content)
		if len(toolUses) == 0 {
			break
		}
		if opts.Runner == nil {
			return fmt.Errorf("orchestrator: assistant requested tools but no runner supplied: %w", eventcore.ErrInvalidOption)
		}

		if err := o.runTools(ctx, sessionID, st, toolUses, opts.Runner); err != nil {
			return err
		}
	}

	o.broker.Publish(pubsub.Envelope{Type: pubsub.AgentTurn, SessionID: sessionID, Payload: map[string]any{"phase": "completed"}})
	return nil
}

// runTools persists tool.call, executes (or refuses) each tool, persists
// tool.result, and appends the result to the in-memory surface. An
// interrupt mid-execution synthesizes results for the remaining tools.
func (o *Orchestrator) runTools(ctx context.Context, sessionID string, st *sessionState, toolUses []eventcore.ContentBlock, runner ToolRunner) error {
	for i, tu := range toolUses {
		callEvent, err := o.store.Append(ctx, eventcore.AppendOptions{
			SessionID: sessionID,
			Type:      eventcore.EventToolCall,
			Payload: eventcore.ToolCallPayload{
				ToolCallID: tu.ToolCallID,
				ToolName:   tu.ToolName,
				Arguments:  tu.Input,
			},
		})
		if err != nil {
			return err
		}
		o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: callEvent})

		var content string
		var isError bool
		if blocked, msg := o.IsToolBlocked(sessionID, tu.ToolName); blocked {
			content, isError = msg, true
			o.logger.Warn("tool blocked by plan mode",
				zap.String("session_id", sessionID),
				zap.String("tool", tu.ToolName))
		} else {
			content, err = runner.Run(ctx, tu.ToolName, tu.Input)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return o.persistToolInterrupts(context.WithoutCancel(ctx), sessionID, st, toolUses[i:])
				}
				content, isError = err.Error(), true
			}
		}

		if err := o.persistToolResult(ctx, sessionID, st, tu.ToolCallID, tu.ToolName, content, isError, false); err != nil {
			return err
		}
	}
	return nil
}

// persistToolResult writes one tool.result event and mirrors it into the
// in-memory message surface. toolName rides along on the reconstructed
// message for providers that key function responses by name.
func (o *Orchestrator) persistToolResult(ctx context.Context, sessionID string, st *sessionState, toolCallID, toolName, content string, isError, interrupted bool) error {
	resultEvent, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventToolResult,
		Payload: eventcore.ToolResultPayload{
			ToolCallID:  toolCallID,
			Content:     content,
			IsError:     isError,
			Interrupted: interrupted,
		},
	})
	if err != nil {
		return err
	}
	st.contextMgr.Append(eventcore.ReconstructedMessage{
		Message: eventcore.Message{
			Role:       eventcore.RoleToolResult,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			IsError:    isError,
			Content: []eventcore.ContentBlock{{
				Type:              eventcore.BlockToolResult,
				ToolCallID:        toolCallID,
				ToolName:          toolName,
				ToolResultContent: content,
				IsError:           isError,
			}},
		},
		EventIDs: []string{resultEvent.ID},
	})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: resultEvent})
	return nil
}

// persistInterrupt writes the interrupted turn's partial delta (only what
// this turn produced) plus a synthetic tool.result per outstanding
// tool_use.
func (o *Orchestrator) persistInterrupt(ctx context.Context, sessionID string, st *sessionState, result *turnResult) error {
	if result != nil && len(result.content) > 0 {
		event, err := o.persistAssistant(ctx, sessionID, result, true)
		if err != nil {
			return err
		}
		st.contextMgr.Append(eventcore.ReconstructedMessage{
			Message:  eventcore.Message{Role: eventcore.RoleAssistant, Content: result.content},
			EventIDs: []string{event.ID},
		})
		o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})

		if err := o.persistToolInterrupts(ctx, sessionID, st, toolUseBlocks(result.content)); err != nil {
			return err
		}
	}
	o.broker.Publish(pubsub.Envelope{Type: pubsub.AgentTurn, SessionID: sessionID, Payload: map[string]any{"phase": "interrupted"}})
	return context.Canceled
}

// persistToolInterrupts records a synthetic interrupted tool.result for
// each outstanding tool_use.
func (o *Orchestrator) persistToolInterrupts(ctx context.Context, sessionID string, st *sessionState, toolUses []eventcore.ContentBlock) error {
	for _, tu := range toolUses {
		if err := o.persistToolResult(ctx, sessionID, st, tu.ToolCallID, tu.ToolName, interruptedResultText, false, true); err != nil {
			return err
		}
	}
	return nil
}

// persistAssistant writes a message.assistant event. Oversized tool_use
// inputs are replaced with a truncation placeholder; the full arguments are
// carried by the matching tool.call event and restored on reconstruction.
func (o *Orchestrator) persistAssistant(ctx context.Context, sessionID string, result *turnResult, interrupted bool) (eventcore.Event, error) {
	return o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventMessageAssistant,
		Payload: eventcore.MessageAssistantPayload{
			Content:     truncateToolUseInputs(result.content),
			Usage:       &result.usage,
			StopReason:  result.stopReason,
			Interrupted: interrupted,
		},
	})
}

// persistProviderError records a stream failure as an error.provider event
// and notifies subscribers; the session stays consistent and can accept the
// next turn.
func (o *Orchestrator) persistProviderError(ctx context.Context, sessionID string, streamErr error, safetyBlock bool) {
	event, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventErrorProvider,
		Payload: eventcore.ErrorProviderPayload{
			Message:     streamErr.Error(),
			SafetyBlock: safetyBlock,
		},
	})
	if err != nil {
		o.logger.Error("persist provider error", zap.Error(err))
		return
	}
	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.AgentEvent, SessionID: sessionID, Payload: map[string]any{
		"kind":  "provider_error",
		"error": streamErr.Error(),
	}})
}

// turnResult is the accumulated outcome of one provider stream.
type turnResult struct {
	content     []eventcore.ContentBlock
	usage       eventcore.Usage
	stopReason  string
	interrupted bool
	safetyBlock bool
}

// streamWithRetry drives one provider stream, retrying with exponential
// backoff (jittered) when the stream fails before producing any content.
// Once content has arrived a failure is surfaced directly so the partial
// turn can follow the interrupt path instead of being silently replayed.
func (o *Orchestrator) streamWithRetry(ctx context.Context, prov provider.Provider, opts provider.StreamOptions, sessionID string) (*turnResult, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(newRetryBackoff(), retryMaxAttempts), ctx)

	var result *turnResult
	operation := func() error {
		var err error
		result, err = o.streamOnce(ctx, prov, opts, sessionID)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		if result != nil && (len(result.content) > 0 || result.safetyBlock) {
			return backoff.Permanent(err)
		}
		o.logger.Warn("provider stream failed, retrying",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return err
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return result, err
	}
	return result, nil
}

func newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return b
}

// streamOnce consumes one full provider stream into a turnResult,
// heartbeating to subscribers while the stream is in flight. A context
// cancellation between deltas returns the partial result with interrupted
// set.
func (o *Orchestrator) streamOnce(ctx context.Context, prov provider.Provider, opts provider.StreamOptions, sessionID string) (*turnResult, error) {
	ch := make(chan provider.StreamEvent, 64)
	streamErr := make(chan error, 1)

	run := func(ctx context.Context) (any, error) {
		return nil, prov.Stream(ctx, opts, ch)
	}
	go func() {
		var err error
		if o.limiter != nil {
			_, err = o.limiter.Do(ctx, run)
		} else {
			_, err = run(ctx)
		}
		streamErr <- err
	}()

	heartbeat := time.NewTicker(o.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	acc := newStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			// Fold in the deltas already delivered before the cancel.
			for buffered := true; buffered; {
				select {
				case ev, open := <-ch:
					if !open {
						buffered = false
					} else {
						acc.consume(ev)
					}
				default:
					buffered = false
				}
			}
			// Drain in the background; the producer closes ch on its way out.
			go func() {
				for range ch { //nolint:revive
				}
			}()
			result := acc.result()
			result.interrupted = true
			return result, ctx.Err()

		case <-heartbeat.C:
			o.broker.Publish(pubsub.Envelope{Type: pubsub.AgentEvent, SessionID: sessionID, Payload: map[string]any{"kind": "heartbeat"}})

		case ev, open := <-ch:
			if !open {
				// Stream closed without a done event: surface the error the
				// producer reported, if any.
				err := <-streamErr
				if err == nil {
					err = fmt.Errorf("orchestrator: provider stream closed without done event")
				}
				return acc.result(), err
			}
			switch ev.Type {
			case provider.StreamDone:
				result := acc.result()
				if ev.Done != nil {
					if len(ev.Done.Content) > 0 {
						result.content = ev.Done.Content
					}
					result.usage = ev.Done.Usage
					result.stopReason = ev.Done.StopReason
				}
				return result, nil

			case provider.StreamError:
				err := ev.Error
				if err == nil {
					err = fmt.Errorf("orchestrator: provider reported an unspecified stream error")
				}
				return acc.result(), err

			case provider.StreamSafetyBlock:
				result := acc.result()
				result.safetyBlock = true
				return result, fmt.Errorf("orchestrator: provider safety block: %s", ev.SafetyInfo)

			default:
				acc.consume(ev)
			}
		}
	}
}

// streamAccumulator folds streaming deltas into content blocks.
type streamAccumulator struct {
	blocks   []eventcore.ContentBlock
	args     map[string]string // toolCallID -> accumulated raw JSON
	argOrder []string
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{args: make(map[string]string)}
}

func (a *streamAccumulator) consume(ev provider.StreamEvent) {
	switch ev.Type {
	case provider.StreamTextStart:
		a.blocks = append(a.blocks, eventcore.ContentBlock{Type: eventcore.BlockText})

	case provider.StreamTextDelta:
		if n := len(a.blocks); n > 0 && a.blocks[n-1].Type == eventcore.BlockText {
			a.blocks[n-1].Text += ev.Delta
		} else {
			a.blocks = append(a.blocks, eventcore.ContentBlock{Type: eventcore.BlockText, Text: ev.Delta})
		}

	case provider.StreamThinkingStart:
		a.blocks = append(a.blocks, eventcore.ContentBlock{Type: eventcore.BlockThinking})

	case provider.StreamThinkingDelta:
		if n := len(a.blocks); n > 0 && a.blocks[n-1].Type == eventcore.BlockThinking {
			a.blocks[n-1].Text += ev.Delta
		} else {
			a.blocks = append(a.blocks, eventcore.ContentBlock{Type: eventcore.BlockThinking, Text: ev.Delta})
		}

	case provider.StreamToolCallStart:
		a.blocks = append(a.blocks, eventcore.ContentBlock{
			Type:       eventcore.BlockToolUse,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
		})
		a.args[ev.ToolCallID] = ""
		a.argOrder = append(a.argOrder, ev.ToolCallID)

	case provider.StreamToolCallDelta:
		a.args[ev.ToolCallID] += ev.ArgsDelta

	case provider.StreamToolCallEnd:
		raw := a.args[ev.ToolCallID]
		var input map[string]any
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				input = map[string]any{"_raw": raw}
			}
		}
		for i := range a.blocks {
			if a.blocks[i].Type == eventcore.BlockToolUse && a.blocks[i].ToolCallID == ev.ToolCallID {
				a.blocks[i].Input = input
			}
		}
	}
}

func (a *streamAccumulator) result() *turnResult {
	blocks := make([]eventcore.ContentBlock, 0, len(a.blocks))
	for _, b := range a.blocks {
		if b.Type == eventcore.BlockText && b.Text == "" {
			continue
		}
		blocks = append(blocks, b)
	}
	return &turnResult{content: blocks}
}

// toolUseBlocks extracts the tool_use blocks from assistant content.
func toolUseBlocks(content []eventcore.ContentBlock) []eventcore.ContentBlock {
	var out []eventcore.ContentBlock
	for _, b := range content {
		if b.Type == eventcore.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// truncateToolUseInputs replaces oversized tool_use inputs with a
// placeholder; reconstruction restores the full arguments from the
// tool.call event.
func truncateToolUseInputs(content []eventcore.ContentBlock) []eventcore.ContentBlock {
	out := make([]eventcore.ContentBlock, len(content))
	copy(out, content)
	for i, b := range out {
		if b.Type != eventcore.BlockToolUse || b.Input == nil {
			continue
		}
		raw, err := json.Marshal(b.Input)
		if err != nil || len(raw) <= truncateArgsThreshold {
			continue
		}
		out[i].Input = map[string]any{"_truncated": true}
	}
	return out
}

// sanitizeTools rewrites tool names for provider compatibility, returning
// the sanitized→original map used to restore names on returned tool_use
// blocks.
func sanitizeTools(tools []provider.ToolDefinition) (map[string]string, []provider.ToolDefinition) {
	if len(tools) == 0 {
		return nil, nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	nameMap := llm.BuildToolNameMap(names)

	out := make([]provider.ToolDefinition, len(tools))
	copy(out, tools)
	for i := range out {
		out[i].Name = llm.SanitizeToolName(out[i].Name)
	}
	return nameMap, out
}

// restoreToolNames maps sanitized tool names on tool_use blocks back to
// their originals in place.
func restoreToolNames(content []eventcore.ContentBlock, nameMap map[string]string) {
	if len(nameMap) == 0 {
		return
	}
	for i, b := range content {
		if b.Type == eventcore.BlockToolUse {
			content[i].ToolName = llm.ReverseToolName(nameMap, b.ToolName)
		}
	}
}
