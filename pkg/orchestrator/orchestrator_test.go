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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralweave/sessioncore/internal/pubsub"
	"github.com/coralweave/sessioncore/pkg/contextmgr"
	"github.com/coralweave/sessioncore/pkg/eventcore"
	"github.com/coralweave/sessioncore/pkg/provider"
)

// scriptedProvider replays a fixed sequence of stream-event turns, one per
// Stream call.
type scriptedProvider struct {
	mu    sync.Mutex
	turns [][]provider.StreamEvent
	calls int
}

func (p *scriptedProvider) Stream(ctx context.Context, _ provider.StreamOptions, ch chan<- provider.StreamEvent) error {
	defer close(ch)

	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	var turn []provider.StreamEvent
	if idx < len(p.turns) {
		turn = p.turns[idx]
	} else {
		turn = textTurn("ok")
	}
	for _, ev := range turn {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// blockingProvider emits its prologue then parks until the context is
// canceled, for interrupt tests.
type blockingProvider struct {
	prologue []provider.StreamEvent
	started  chan struct{}
}

func (p *blockingProvider) Stream(ctx context.Context, _ provider.StreamOptions, ch chan<- provider.StreamEvent) error {
	defer close(ch)
	for _, ev := range p.prologue {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	close(p.started)
	<-ctx.Done()
	return ctx.Err()
}

func textTurn(text string) []provider.StreamEvent {
	return []provider.StreamEvent{
		{Type: provider.StreamStart},
		{Type: provider.StreamTextStart},
		{Type: provider.StreamTextDelta, Delta: text},
		{Type: provider.StreamTextEnd},
		{Type: provider.StreamDone, Done: &provider.DoneInfo{
			Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: text}},
			Usage:   eventcore.Usage{InputTokens: 100, OutputTokens: 20},
		}},
	}
}

func toolTurn(text, toolCallID, toolName string, args map[string]any) []provider.StreamEvent {
	content := []eventcore.ContentBlock{}
	if text != "" {
		content = append(content, eventcore.ContentBlock{Type: eventcore.BlockText, Text: text})
	}
	content = append(content, eventcore.ContentBlock{
		Type:       eventcore.BlockToolUse,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      args,
	})
	return []provider.StreamEvent{
		{Type: provider.StreamStart},
		{Type: provider.StreamDone, Done: &provider.DoneInfo{
			Content: content,
			Usage:   eventcore.Usage{InputTokens: 150, OutputTokens: 30},
		}},
	}
}

// recordingRunner records tool invocations and returns canned output.
type recordingRunner struct {
	mu     sync.Mutex
	calls  []string
	output string
}

func (r *recordingRunner) Run(_ context.Context, name string, _ map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	return r.output, nil
}

func newTestOrchestrator(t *testing.T, prov provider.Provider) (*Orchestrator, *eventcore.EventStore, *pubsub.Broker) {
	t.Helper()

	conn, err := eventcore.Open(context.Background(), eventcore.ConnectionConfig{
		DBPath:    t.TempDir() + "/test.db",
		EnableWAL: true,
		TestMode:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store := eventcore.NewEventStore(conn, nil, nil)
	broker := pubsub.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })

	orch := New(store, broker, map[provider.Name]provider.Provider{
		provider.Anthropic: prov,
	}, nil, Config{
		DefaultModel:    "claude-sonnet-4-20250514",
		DefaultProvider: "anthropic",
	})
	return orch, store, broker
}

func createSession(t *testing.T, orch *Orchestrator) string {
	t.Helper()
	id, err := orch.CreateSession(context.Background(), eventcore.CreateSessionOptions{
		WorkspacePath:    t.TempDir(),
		WorkingDirectory: "/work",
		SystemPrompt:     "You are a coding agent.",
	})
	require.NoError(t, err)
	return id
}

func eventTypes(events []eventcore.Event) []eventcore.EventType {
	out := make([]eventcore.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestSendMessage_SimpleTurn(t *testing.T) {
	prov := &scriptedProvider{turns: [][]provider.StreamEvent{textTurn("hello back")}}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	err := orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
		Content: TextContent("hello"),
	})
	require.NoError(t, err)

	events, err := store.GetEventsBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, []eventcore.EventType{
		eventcore.EventSessionStart,
		eventcore.EventMessageUser,
		eventcore.EventMessageAssistant,
	}, eventTypes(events))

	result, err := store.GetMessagesAtHead(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, eventcore.RoleUser, result.Messages[0].Message.Role)
	assert.Equal(t, eventcore.RoleAssistant, result.Messages[1].Message.Role)
	assert.Equal(t, 100, result.TokenUsage.InputTokens)
}

func TestSendMessage_AgenticToolLoop(t *testing.T) {
	prov := &scriptedProvider{turns: [][]provider.StreamEvent{
		toolTurn("Reading the file.", "tc_1", "Read", map[string]any{"path": "a.go"}),
		textTurn("The file says hello."),
	}}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	runner := &recordingRunner{output: "package main"}
	err := orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
		Content: TextContent("read a.go"),
		Tools:   []provider.ToolDefinition{{Name: "Read"}},
		Runner:  runner,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Read"}, runner.calls)

	events, err := store.GetEventsBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, []eventcore.EventType{
		eventcore.EventSessionStart,
		eventcore.EventMessageUser,
		eventcore.EventMessageAssistant,
		eventcore.EventToolCall,
		eventcore.EventToolResult,
		eventcore.EventMessageAssistant,
	}, eventTypes(events))

	result, err := store.GetMessagesAtHead(context.Background(), sessionID)
	require.NoError(t, err)
	roles := make([]eventcore.Role, len(result.Messages))
	for i, m := range result.Messages {
		roles[i] = m.Message.Role
	}
	assert.Equal(t, []eventcore.Role{
		eventcore.RoleUser,
		eventcore.RoleAssistant,
		eventcore.RoleToolResult,
		eventcore.RoleAssistant,
	}, roles)
}

func TestSendMessage_RefusedAtCritical(t *testing.T) {
	prov := &scriptedProvider{}
	orch, _, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	cm, err := orch.ContextManager(sessionID)
	require.NoError(t, err)
	cm.SetAPIReportedTokens(180000) // 90% of the 200k limit: critical

	err = orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
		Content: TextContent("one more thing"),
	})
	require.ErrorIs(t, err, eventcore.ErrCannotAcceptTurn)
}

func TestSendMessage_Interrupt(t *testing.T) {
	prov := &blockingProvider{
		started: make(chan struct{}),
		prologue: []provider.StreamEvent{
			{Type: provider.StreamStart},
			{Type: provider.StreamTextStart},
			{Type: provider.StreamTextDelta, Delta: "Let me check"},
			{Type: provider.StreamToolCallStart, ToolCallID: "tc_9", ToolName: "Bash"},
			{Type: provider.StreamToolCallDelta, ToolCallID: "tc_9", ArgsDelta: `{"command":"ls"}`},
			{Type: provider.StreamToolCallEnd, ToolCallID: "tc_9"},
		},
	}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-prov.started
		cancel()
	}()

	err := orch.SendMessage(ctx, sessionID, SendMessageOptions{
		Content: TextContent("run ls"),
	})
	require.ErrorIs(t, err, context.Canceled)

	events, err := store.GetEventsBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, []eventcore.EventType{
		eventcore.EventSessionStart,
		eventcore.EventMessageUser,
		eventcore.EventMessageAssistant,
		eventcore.EventToolResult,
	}, eventTypes(events))

	var assistant eventcore.MessageAssistantPayload
	require.NoError(t, events[2].DecodePayload(&assistant))
	assert.True(t, assistant.Interrupted)

	var toolResult eventcore.ToolResultPayload
	require.NoError(t, events[3].DecodePayload(&toolResult))
	assert.Equal(t, "tc_9", toolResult.ToolCallID)
	assert.True(t, toolResult.Interrupted)
	assert.Contains(t, toolResult.Content, "interrupted")
}

func TestPlanMode_BlocksTools(t *testing.T) {
	prov := &scriptedProvider{turns: [][]provider.StreamEvent{
		toolTurn("", "tc_1", "Write", map[string]any{"path": "x"}),
		textTurn("blocked, stopping"),
	}}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	err := orch.EnterPlanMode(context.Background(), sessionID, EnterPlanModeOptions{SkillName: "refactor-plan"})
	require.NoError(t, err)

	blocked, msg := orch.IsToolBlocked(sessionID, "Write")
	assert.True(t, blocked)
	assert.Contains(t, msg, "Write")
	assert.Contains(t, msg, "refactor-plan")

	blocked, _ = orch.IsToolBlocked(sessionID, "Read")
	assert.False(t, blocked)

	runner := &recordingRunner{output: "should not run"}
	err = orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
		Content: TextContent("write the file"),
		Tools:   []provider.ToolDefinition{{Name: "Write"}},
		Runner:  runner,
	})
	require.NoError(t, err)
	assert.Empty(t, runner.calls)

	events, err := store.GetEventsBySession(context.Background(), sessionID)
	require.NoError(t, err)
	var sawBlockedResult bool
	for _, ev := range events {
		if ev.Type != eventcore.EventToolResult {
			continue
		}
		var p eventcore.ToolResultPayload
		require.NoError(t, ev.DecodePayload(&p))
		if p.IsError {
			sawBlockedResult = true
			assert.Contains(t, p.Content, "plan mode")
		}
	}
	assert.True(t, sawBlockedResult)
}

func TestPlanMode_GlobPatterns(t *testing.T) {
	prov := &scriptedProvider{}
	orch, _, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	err := orch.EnterPlanMode(context.Background(), sessionID, EnterPlanModeOptions{
		SkillName:    "mcp-lockdown",
		BlockedTools: []string{"mcp__*__write", "Bash"},
	})
	require.NoError(t, err)

	blocked, _ := orch.IsToolBlocked(sessionID, "mcp__github__write")
	assert.True(t, blocked)
	blocked, _ = orch.IsToolBlocked(sessionID, "mcp__github__read")
	assert.False(t, blocked)
	blocked, _ = orch.IsToolBlocked(sessionID, "Bash")
	assert.True(t, blocked)
}

func TestPlanMode_StateErrors(t *testing.T) {
	prov := &scriptedProvider{}
	orch, _, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	err := orch.ExitPlanMode(context.Background(), sessionID, ExitPlanModeOptions{})
	require.ErrorIs(t, err, eventcore.ErrNotInPlanMode)

	require.NoError(t, orch.EnterPlanMode(context.Background(), sessionID, EnterPlanModeOptions{SkillName: "s"}))
	err = orch.EnterPlanMode(context.Background(), sessionID, EnterPlanModeOptions{SkillName: "s2"})
	require.ErrorIs(t, err, eventcore.ErrAlreadyInPlanMode)

	require.NoError(t, orch.ExitPlanMode(context.Background(), sessionID, ExitPlanModeOptions{Reason: "approved"}))
	blocked, _ := orch.IsToolBlocked(sessionID, "Write")
	assert.False(t, blocked)
}

func TestPlanMode_RecoveredOnResume(t *testing.T) {
	prov := &scriptedProvider{}
	orch, _, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	require.NoError(t, orch.EnterPlanMode(context.Background(), sessionID, EnterPlanModeOptions{SkillName: "migration"}))

	// Drop in-memory state and resume from storage.
	orch.mu.Lock()
	delete(orch.sessions, sessionID)
	orch.mu.Unlock()

	require.NoError(t, orch.ResumeSession(context.Background(), sessionID))
	blocked, msg := orch.IsToolBlocked(sessionID, "Bash")
	assert.True(t, blocked)
	assert.Contains(t, msg, "migration")
}

func TestSwitchModel(t *testing.T) {
	prov := &scriptedProvider{}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	err := orch.SwitchModel(context.Background(), sessionID, "anthropic", "not-a-model")
	require.ErrorIs(t, err, eventcore.ErrUnknownModel)

	require.NoError(t, orch.SwitchModel(context.Background(), sessionID, "anthropic", "claude-opus-4-20250514"))

	sess, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-20250514", sess.Model)

	events, err := store.GetEventsBySession(context.Background(), sessionID)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, eventcore.EventConfigModelSwitch, last.Type)
	var p eventcore.ConfigModelSwitchPayload
	require.NoError(t, last.DecodePayload(&p))
	assert.Equal(t, "claude-sonnet-4-20250514", p.OldModel)
	assert.Equal(t, "claude-opus-4-20250514", p.NewModel)
}

func TestClearContext(t *testing.T) {
	prov := &scriptedProvider{turns: [][]provider.StreamEvent{textTurn("hi")}}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	require.NoError(t, orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
		Content: TextContent("hello"),
	}))
	require.NoError(t, orch.ClearContext(context.Background(), sessionID, "fresh start"))

	cm, err := orch.ContextManager(sessionID)
	require.NoError(t, err)
	assert.Empty(t, cm.Messages())

	result, err := store.GetMessagesAtHead(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, result.Messages)
}

func TestConfirmCompaction_PersistsEvents(t *testing.T) {
	prov := &scriptedProvider{turns: [][]provider.StreamEvent{
		textTurn("one"), textTurn("two"), textTurn("three"), textTurn("four"),
	}}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	for _, text := range []string{"a", "b", "c", "d"} {
		require.NoError(t, orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
			Content: TextContent(text),
		}))
	}

	preview, err := orch.ConfirmCompaction(context.Background(), sessionID, eventcore.NewStaticSummarizer(), contextmgr.ConfirmCompactionOptions{
		PreserveRecentTurns: 1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Summary)

	result, err := store.GetMessagesAtHead(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, result.Messages)
	first := result.Messages[0].Message
	require.Equal(t, eventcore.RoleUser, first.Role)
	assert.Contains(t, first.Content[0].Text, "[Context from earlier in this conversation]")
}

func TestFork_SeedsFromForkPoint(t *testing.T) {
	prov := &scriptedProvider{turns: [][]provider.StreamEvent{textTurn("answer one")}}
	orch, store, _ := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	require.NoError(t, orch.SendMessage(context.Background(), sessionID, SendMessageOptions{
		Content: TextContent("question one"),
	}))

	sess, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)

	forkedID, err := orch.Fork(context.Background(), sess.HeadEventID, eventcore.ForkOptions{Name: "alt"})
	require.NoError(t, err)
	require.NotEqual(t, sessionID, forkedID)

	cm, err := orch.ContextManager(forkedID)
	require.NoError(t, err)
	assert.Len(t, cm.Messages(), 2)
}

func TestEndSession_Broadcasts(t *testing.T) {
	prov := &scriptedProvider{}
	orch, _, broker := newTestOrchestrator(t, prov)
	sessionID := createSession(t, orch)

	endedCh := make(chan pubsub.Envelope, 1)
	unsub := broker.Subscribe(pubsub.SessionEnded, func(e pubsub.Envelope) { endedCh <- e })
	defer unsub()

	require.NoError(t, orch.EndSession(context.Background(), sessionID, "done"))

	select {
	case env := <-endedCh:
		assert.Equal(t, sessionID, env.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("session_ended broadcast not received")
	}

	err := orch.SendMessage(context.Background(), sessionID, SendMessageOptions{Content: TextContent("x")})
	require.Error(t, err)
}
