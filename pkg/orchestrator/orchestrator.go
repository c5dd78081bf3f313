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

// Package orchestrator coordinates session lifecycle on top of the event
// store: create/resume/fork/rewind, driving a provider's streaming turn
// loop, persisting the resulting events, plan-mode tool blocking, and
// fanning broadcast envelopes out to subscribers.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coralweave/sessioncore/internal/pubsub"
	"github.com/coralweave/sessioncore/pkg/contextmgr"
	"github.com/coralweave/sessioncore/pkg/eventcore"
	"github.com/coralweave/sessioncore/pkg/llm"
	"github.com/coralweave/sessioncore/pkg/observability"
	"github.com/coralweave/sessioncore/pkg/provider"
)

// Config carries the orchestrator-level knobs.
type Config struct {
	// DefaultModel / DefaultProvider apply when CreateSession options leave
	// them empty.
	DefaultModel    string
	DefaultProvider string

	// MaxConcurrentSessions caps the number of simultaneously registered
	// (created or resumed) sessions. 0 means unlimited.
	MaxConcurrentSessions int

	// HeartbeatInterval is how often an agent_event heartbeat is broadcast
	// while a provider stream is in flight.
	HeartbeatInterval time.Duration

	// PreserveRecentTurns is handed to each session's context manager.
	PreserveRecentTurns int

	// BlockedTools is the default plan-mode blocked set; entries may be
	// exact tool names or doublestar glob patterns (e.g. "mcp__*__write").
	// A skill can override the set when entering plan mode.
	BlockedTools []string

	// MaxTurnSteps bounds the agentic loop iterations within one
	// SendMessage call.
	MaxTurnSteps int

	Logger *zap.Logger
	Tracer observability.Tracer
}

func (c *Config) applyDefaults() {
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = string(provider.Anthropic)
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PreserveRecentTurns <= 0 {
		c.PreserveRecentTurns = 3
	}
	if len(c.BlockedTools) == 0 {
		c.BlockedTools = []string{"Write", "Edit", "Bash", "NotebookEdit"}
	}
	if c.MaxTurnSteps <= 0 {
		c.MaxTurnSteps = 50
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Tracer == nil {
		c.Tracer = observability.NewNoOpTracer()
	}
}

// ToolRunner executes a tool call on behalf of the orchestrator. Tool
// implementations (file, web, shell) live outside this package; the
// orchestrator only persists their inputs and outputs.
type ToolRunner interface {
	Run(ctx context.Context, name string, args map[string]any) (string, error)
}

// sessionState is the in-memory surface the orchestrator keeps per
// registered session.
type sessionState struct {
	contextMgr *contextmgr.ContextManager
	plan       *planState
	provider   string
	model      string
}

// Orchestrator is the session lifecycle coordinator.
type Orchestrator struct {
	store     *eventcore.EventStore
	broker    *pubsub.Broker
	providers map[provider.Name]provider.Provider
	limiter   *llm.RateLimiter
	cfg       Config
	logger    *zap.Logger
	tracer    observability.Tracer

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New builds an Orchestrator. providers maps each provider family to its
// streaming client; limiter may be nil to disable request rate limiting.
func New(store *eventcore.EventStore, broker *pubsub.Broker, providers map[provider.Name]provider.Provider, limiter *llm.RateLimiter, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		store:     store,
		broker:    broker,
		providers: providers,
		limiter:   limiter,
		cfg:       cfg,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		sessions:  make(map[string]*sessionState),
	}
}

// CreateSession builds a new stored session, initializes its context
// manager, and primes it with the effective system prompt.
func (o *Orchestrator) CreateSession(ctx context.Context, opts eventcore.CreateSessionOptions) (string, error) {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.create_session")
	defer o.tracer.EndSpan(span)

	if opts.Model == "" {
		opts.Model = o.cfg.DefaultModel
	}
	if opts.Provider == "" {
		opts.Provider = o.cfg.DefaultProvider
	}

	o.mu.Lock()
	if o.cfg.MaxConcurrentSessions > 0 && len(o.sessions) >= o.cfg.MaxConcurrentSessions {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator: %d sessions active: %w", o.cfg.MaxConcurrentSessions, eventcore.ErrInvalidOption)
	}
	o.mu.Unlock()

	session, root, err := o.store.CreateSession(ctx, opts)
	if err != nil {
		return "", err
	}

	cm := contextmgr.New(contextmgr.Config{
		Provider:            opts.Provider,
		Model:               opts.Model,
		PreserveRecentTurns: o.cfg.PreserveRecentTurns,
		Logger:              o.logger,
	})
	cm.SetSystemPrompt(opts.SystemPrompt)

	o.mu.Lock()
	o.sessions[session.ID] = &sessionState{
		contextMgr: cm,
		provider:   opts.Provider,
		model:      opts.Model,
	}
	o.mu.Unlock()

	o.broker.Publish(pubsub.Envelope{Type: pubsub.SessionCreated, SessionID: session.ID, Payload: session})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: session.ID, Payload: root})

	o.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("model", opts.Model),
		zap.String("provider", opts.Provider))
	return session.ID, nil
}

// ResumeSession loads a stored session, replays its ancestry through the
// reconstructor, and seeds a fresh context manager. Plan-mode state is
// recovered by scanning for the last plan.mode_entered not followed by a
// plan.mode_exited.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID string) error {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.resume_session")
	defer o.tracer.EndSpan(span)

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	result, err := o.store.GetMessagesAtHead(ctx, sessionID)
	if err != nil {
		return err
	}

	ancestors, err := o.store.GetAncestors(ctx, sess.HeadEventID)
	if err != nil {
		return err
	}

	cm := contextmgr.New(contextmgr.Config{
		Provider:            sess.Provider,
		Model:               sess.Model,
		PreserveRecentTurns: o.cfg.PreserveRecentTurns,
		Logger:              o.logger,
	})
	cm.SetSystemPrompt(result.SystemPrompt)
	cm.SetMessages(result.Messages)
	if result.TokenUsage.InputTokens > 0 {
		cm.SetAPIReportedTokens(result.TokenUsage.InputTokens)
	}

	o.mu.Lock()
	o.sessions[sessionID] = &sessionState{
		contextMgr: cm,
		plan:       recoverPlanState(ancestors),
		provider:   sess.Provider,
		model:      sess.Model,
	}
	o.mu.Unlock()

	o.logger.Info("session resumed",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(result.Messages)),
		zap.Int("turns", result.TurnCount))
	return nil
}

// state returns the registered state for sessionID, or ErrSessionNotFound
// if the session was never created/resumed through this orchestrator.
func (o *Orchestrator) state(sessionID string) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: session %s not registered: %w", sessionID, eventcore.ErrSessionNotFound)
	}
	return st, nil
}

// ContextManager exposes a session's context surface (snapshot, admission,
// compaction preview) to RPC-level callers.
func (o *Orchestrator) ContextManager(sessionID string) (*contextmgr.ContextManager, error) {
	st, err := o.state(sessionID)
	if err != nil {
		return nil, err
	}
	return st.contextMgr, nil
}

// Fork creates a new session rooted at fromEventID and registers it with a
// context manager seeded from the fork point's reconstruction.
func (o *Orchestrator) Fork(ctx context.Context, fromEventID string, opts eventcore.ForkOptions) (string, error) {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.fork")
	defer o.tracer.EndSpan(span)

	session, root, err := o.store.Fork(ctx, fromEventID, opts)
	if err != nil {
		return "", err
	}

	result, err := o.store.GetMessagesAt(ctx, root.ID)
	if err != nil {
		return "", err
	}

	cm := contextmgr.New(contextmgr.Config{
		Provider:            session.Provider,
		Model:               session.Model,
		PreserveRecentTurns: o.cfg.PreserveRecentTurns,
		Logger:              o.logger,
	})
	cm.SetSystemPrompt(result.SystemPrompt)
	cm.SetMessages(result.Messages)

	o.mu.Lock()
	o.sessions[session.ID] = &sessionState{
		contextMgr: cm,
		provider:   session.Provider,
		model:      session.Model,
	}
	o.mu.Unlock()

	o.broker.Publish(pubsub.Envelope{Type: pubsub.SessionForked, SessionID: session.ID, Payload: map[string]any{
		"forkEventId":   fromEventID,
		"parentSession": root.ParentID,
	}})
	return session.ID, nil
}

// Rewind repoints a session's head and re-seeds the in-memory message
// surface from the new head.
func (o *Orchestrator) Rewind(ctx context.Context, sessionID, toEventID string) error {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.rewind")
	defer o.tracer.EndSpan(span)

	if err := o.store.Rewind(ctx, sessionID, toEventID); err != nil {
		return err
	}

	if st, err := o.state(sessionID); err == nil {
		result, err := o.store.GetMessagesAt(ctx, toEventID)
		if err != nil {
			return err
		}
		st.contextMgr.SetMessages(result.Messages)
	}

	o.broker.Publish(pubsub.Envelope{Type: pubsub.SessionRewound, SessionID: sessionID, Payload: map[string]any{
		"toEventId": toEventID,
	}})
	return nil
}

// SwitchModel validates the target model, persists a config.model_switch
// event, and re-derives the provider-appropriate system prompt surface.
func (o *Orchestrator) SwitchModel(ctx context.Context, sessionID, newProvider, newModel string) error {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.switch_model")
	defer o.tracer.EndSpan(span)

	if eventcore.GetModelContextLimits(newModel) == nil {
		return fmt.Errorf("orchestrator: model %q: %w", newModel, eventcore.ErrUnknownModel)
	}
	if _, ok := o.providers[provider.Name(newProvider)]; !ok && len(o.providers) > 0 {
		return fmt.Errorf("orchestrator: provider %q: %w", newProvider, eventcore.ErrUnknownModel)
	}

	event, err := o.store.SwitchModel(ctx, sessionID, newModel, newProvider)
	if err != nil {
		return err
	}

	if st, err := o.state(sessionID); err == nil {
		st.contextMgr.SwitchModel(newProvider, newModel)
		o.mu.Lock()
		st.provider = newProvider
		st.model = newModel
		o.mu.Unlock()
	}

	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})
	return nil
}

// ClearContext persists a context.cleared event and empties the session's
// in-memory message store.
func (o *Orchestrator) ClearContext(ctx context.Context, sessionID, reason string) error {
	st, err := o.state(sessionID)
	if err != nil {
		return err
	}

	event, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventContextCleared,
		Payload:   eventcore.ContextClearedPayload{Reason: reason},
	})
	if err != nil {
		return err
	}

	st.contextMgr.Clear()
	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.ContextCleared, SessionID: sessionID})
	return nil
}

// PreviewCompaction is non-mutating; it reports what ConfirmCompaction
// would do.
func (o *Orchestrator) PreviewCompaction(ctx context.Context, sessionID string, summarizer eventcore.Summarizer) (contextmgr.CompactionPreview, error) {
	st, err := o.state(sessionID)
	if err != nil {
		return contextmgr.CompactionPreview{}, err
	}
	return st.contextMgr.PreviewCompaction(ctx, summarizer)
}

// ConfirmCompaction compacts the in-memory store, then persists the
// compact.boundary + compact.summary event pair that makes the change
// durable for future reconstructions.
func (o *Orchestrator) ConfirmCompaction(ctx context.Context, sessionID string, summarizer eventcore.Summarizer, opts contextmgr.ConfirmCompactionOptions) (contextmgr.CompactionPreview, error) {
	st, err := o.state(sessionID)
	if err != nil {
		return contextmgr.CompactionPreview{}, err
	}

	preview, err := st.contextMgr.ConfirmCompaction(ctx, summarizer, opts)
	if err != nil {
		return contextmgr.CompactionPreview{}, err
	}

	if _, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventCompactBoundary,
		Payload:   eventcore.CompactBoundaryPayload{},
	}); err != nil {
		return contextmgr.CompactionPreview{}, err
	}

	preserved := opts.PreserveRecentTurns
	if preserved <= 0 {
		preserved = o.cfg.PreserveRecentTurns
	}
	event, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventCompactSummary,
		Payload: eventcore.CompactSummaryPayload{
			Summary:        preview.Summary,
			TokensBefore:   preview.TokensBefore,
			TokensAfter:    preview.TokensAfter,
			PreservedTurns: preserved,
		},
	})
	if err != nil {
		return contextmgr.CompactionPreview{}, err
	}

	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})
	o.broker.Publish(pubsub.Envelope{Type: pubsub.CompactionCompleted, SessionID: sessionID, Payload: map[string]any{
		"tokensBefore": preview.TokensBefore,
		"tokensAfter":  preview.TokensAfter,
	}})
	return preview, nil
}

// EndSession marks the session ended, unregisters its in-memory state, and
// notifies subscribers.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID, reason string) error {
	if err := o.store.EndSession(ctx, sessionID, reason); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	o.broker.Publish(pubsub.Envelope{Type: pubsub.SessionEnded, SessionID: sessionID, Payload: map[string]any{
		"reason": reason,
	}})
	return nil
}
