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

// Package contextmgr implements the per-session context surface: a message
// store with a per-message token cache, the utilization threshold
// classifier, compaction preview/execute, and turn admission control.
package contextmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/coralweave/sessioncore/pkg/eventcore"
	"go.uber.org/zap"
)

// ThresholdLevel is the ordinal classification of context utilization.
type ThresholdLevel string

const (
	ThresholdNormal   ThresholdLevel = "normal"
	ThresholdWarning  ThresholdLevel = "warning"
	ThresholdAlert    ThresholdLevel = "alert"
	ThresholdCritical ThresholdLevel = "critical"
	ThresholdExceeded ThresholdLevel = "exceeded"
)

// classify maps a utilization fraction to its band. Band lower bounds are
// inclusive: exactly 50.0% is "warning", not "normal".
func classify(usagePercent float64) ThresholdLevel {
	switch {
	case usagePercent < 0.50:
		return ThresholdNormal
	case usagePercent < 0.70:
		return ThresholdWarning
	case usagePercent < 0.85:
		return ThresholdAlert
	case usagePercent < 0.95:
		return ThresholdCritical
	default:
		return ThresholdExceeded
	}
}

// Codex-family (OpenAI reasoning) models get a short tool-usage
// clarification instead of the full core prompt; their harness carries its
// own instructions and a second long prompt degrades tool-calling.
const codexToolClarification = "You have access to tools. Call them directly; do not narrate that you are about to call a tool."

// Snapshot is the output of ContextManager.GetSnapshot.
type Snapshot struct {
	CurrentTokens  int
	ContextLimit   int
	UsagePercent   float64
	ThresholdLevel ThresholdLevel
	Breakdown      Breakdown
}

// Breakdown attributes CurrentTokens across overhead categories; it sums to
// CurrentTokens. When an API-reported figure is in effect, Messages is that
// figure minus the overhead estimates, floored at zero.
type Breakdown struct {
	SystemPrompt int
	Tools        int
	Rules        int
	Messages     int
}

// Sum returns the total of all breakdown categories.
func (b Breakdown) Sum() int { return b.SystemPrompt + b.Tools + b.Rules + b.Messages }

// AdmissionResult is the output of CanAcceptTurn.
type AdmissionResult struct {
	CanProceed         bool
	NeedsCompaction    bool
	CurrentTokens      int
	EstimatedAfterTurn int
	ContextLimit       int
}

// CompactionPreview is the non-mutating output of PreviewCompaction.
// TokensBefore reports messages-only, excluding system/tools overhead.
type CompactionPreview struct {
	TokensBefore     int
	TokensAfter      int
	CompressionRatio float64
	Summary          string
}

// ConfirmCompactionOptions carries the inputs to ConfirmCompaction.
type ConfirmCompactionOptions struct {
	// EditedSummary overrides the summarizer-produced summary when the
	// caller (e.g. a user reviewing the preview) has edited it.
	EditedSummary string
	// PreserveRecentTurns is the number of most-recent turns (2 messages
	// each: user + assistant) kept verbatim. Defaults to 3.
	PreserveRecentTurns int
}

// Config configures a ContextManager.
type Config struct {
	Provider            string
	Model               string
	ContextLimit        int // overrides the per-model lookup table when non-zero
	PreserveRecentTurns int
	Logger              *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.PreserveRecentTurns <= 0 {
		c.PreserveRecentTurns = 3
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = eventcore.ResolveContextLimits(c.Provider, c.Model).MaxContextTokens
	}
}

// messageEntry pairs a reconstructed message with its cached token count.
// A weak token cache keyed by message identity: here
// MessageId is the slice index at cache time, invalidated wholesale on any
// mutation rather than tracked per-entry across splices, since the store is
// always replaced or appended to as a unit (SetMessages/Append/Clear).
type messageEntry struct {
	message eventcore.ReconstructedMessage
	tokens  int
	cached  bool
}

// ContextManager is the per-session surface wrapping a reconstructed
// message store with token accounting and compaction. It is
// NOT safe to share across sessions/tasks without external synchronization
// at the call-site.
type ContextManager struct {
	mu sync.Mutex

	cfg       Config
	estimator *eventcore.TokenEstimator

	entries []messageEntry

	corePrompt   string // the full, non-Codex core prompt as last set by the caller
	systemPrompt string // effective prompt surface after provider-aware composition
	toolsChars   int
	rulesChars   int

	// apiReportedTokens, when non-zero, overrides the character-heuristic
	// sum for CurrentTokens: the most recent provider response's
	// input_tokens usage is authoritative when available.
	apiReportedTokens int
}

// New constructs a ContextManager for one session.
func New(cfg Config) *ContextManager {
	cfg.applyDefaults()
	return &ContextManager{
		cfg:       cfg,
		estimator: eventcore.NewTokenEstimator(),
	}
}

// SetSystemPrompt composes the provider-aware system prompt surface: Codex
// family models (OpenAI reasoning models driven through a Codex-style CLI
// harness) get the short tool-clarification string instead of the full
// core prompt.
func (cm *ContextManager) SetSystemPrompt(corePrompt string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.corePrompt = corePrompt
	cm.systemPrompt = cm.effectivePromptLocked(corePrompt)
}

func (cm *ContextManager) effectivePromptLocked(corePrompt string) string {
	if isCodexFamily(cm.cfg.Model) {
		return codexToolClarification
	}
	return corePrompt
}

// SwitchModel updates the active model, re-resolves the context limit, and
// re-derives the provider-appropriate system prompt surface for the new
// model family.
func (cm *ContextManager) SwitchModel(provider, model string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cfg.Provider = provider
	cm.cfg.Model = model
	cm.cfg.ContextLimit = eventcore.ResolveContextLimits(provider, model).MaxContextTokens
	cm.systemPrompt = cm.effectivePromptLocked(cm.corePrompt)
}

func isCodexFamily(model string) bool {
	switch model {
	case "o1", "o3", "o3-mini", "o4-mini", "codex", "codex-mini":
		return true
	}
	return len(model) >= 2 && (model[:2] == "o1" || model[:2] == "o3" || model[:2] == "o4")
}

// SystemPrompt returns the effective (provider-composed) system prompt.
func (cm *ContextManager) SystemPrompt() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.systemPrompt
}

// SetToolsOverhead / SetRulesOverhead record the character length of the
// tool-definition and rules text currently in scope, used by the Breakdown
// estimate.
func (cm *ContextManager) SetToolsOverhead(charLen int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.toolsChars = charLen
}

func (cm *ContextManager) SetRulesOverhead(charLen int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.rulesChars = charLen
}

// SetMessages replaces the entire message store; the token cache is
// invalidated for the new set (lazily recomputed on next read).
func (cm *ContextManager) SetMessages(messages []eventcore.ReconstructedMessage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.entries = make([]messageEntry, len(messages))
	for i, m := range messages {
		cm.entries[i] = messageEntry{message: m}
	}
	cm.apiReportedTokens = 0
}

// Append adds one reconstructed message to the store.
func (cm *ContextManager) Append(message eventcore.ReconstructedMessage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.entries = append(cm.entries, messageEntry{message: message})
}

// Clear empties the in-memory store. This method only touches in-memory
// state; the orchestrator is responsible for persisting the matching
// context.cleared event.
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.entries = nil
	cm.apiReportedTokens = 0
}

// Messages returns a snapshot copy of the current message store.
func (cm *ContextManager) Messages() []eventcore.ReconstructedMessage {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]eventcore.ReconstructedMessage, len(cm.entries))
	for i, e := range cm.entries {
		out[i] = e.message
	}
	return out
}

// SetAPIReportedTokens overrides the character-heuristic total with the
// provider's own input_tokens usage figure from the most recent response.
func (cm *ContextManager) SetAPIReportedTokens(tokens int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.apiReportedTokens = tokens
}

// GetCurrentTokens returns the total token estimate for the session: the
// API-reported figure when available, else the cached/char-heuristic sum
// over messages plus system prompt, tools, and rules overhead.
func (cm *ContextManager) GetCurrentTokens() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.currentTokensLocked()
}

func (cm *ContextManager) currentTokensLocked() int {
	if cm.apiReportedTokens > 0 {
		return cm.apiReportedTokens
	}
	return cm.breakdownLocked().Sum()
}

func (cm *ContextManager) messagesTokensLocked() int {
	total := 0
	for i := range cm.entries {
		total += cm.entryTokensLocked(i)
	}
	return total
}

// entryTokensLocked returns (and caches) the token estimate for entry i.
func (cm *ContextManager) entryTokensLocked(i int) int {
	e := &cm.entries[i]
	if e.cached {
		return e.tokens
	}
	tokens := 0
	for _, block := range e.message.Message.Content {
		switch block.Type {
		case eventcore.BlockText:
			tokens += cm.estimator.Estimate(cm.cfg.Provider, block.Text)
		case eventcore.BlockToolResult:
			tokens += cm.estimator.Estimate(cm.cfg.Provider, block.ToolResultContent)
		case eventcore.BlockToolUse:
			tokens += cm.estimator.Estimate(cm.cfg.Provider, block.ToolName)
			for _, v := range block.Input {
				tokens += cm.estimator.Estimate(cm.cfg.Provider, fmt.Sprintf("%v", v))
			}
		case eventcore.BlockThinking:
			tokens += cm.estimator.Estimate(cm.cfg.Provider, block.Text)
		}
	}
	e.tokens = tokens
	e.cached = true
	return tokens
}

func (cm *ContextManager) breakdownLocked() Breakdown {
	return Breakdown{
		SystemPrompt: cm.estimator.Estimate(cm.cfg.Provider, cm.systemPrompt),
		Tools:        charHeuristic(cm.toolsChars),
		Rules:        charHeuristic(cm.rulesChars),
		Messages:     cm.messagesTokensLocked(),
	}
}

func charHeuristic(chars int) int {
	n := chars / 4
	if n == 0 && chars > 0 {
		n = 1
	}
	return n
}

// GetSnapshot returns the full context-utilization snapshot.
func (cm *ContextManager) GetSnapshot() Snapshot {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	breakdown := cm.breakdownLocked()
	current := cm.currentTokensLocked()
	if cm.apiReportedTokens > 0 {
		overhead := breakdown.SystemPrompt + breakdown.Tools + breakdown.Rules
		breakdown.Messages = max(current-overhead, 0)
	}
	limit := cm.cfg.ContextLimit
	var pct float64
	if limit > 0 {
		pct = float64(current) / float64(limit)
	}
	return Snapshot{
		CurrentTokens:  current,
		ContextLimit:   limit,
		UsagePercent:   pct,
		ThresholdLevel: classify(pct),
		Breakdown:      breakdown,
	}
}

// ShouldCompact is true at alert and above.
func (cm *ContextManager) ShouldCompact() bool {
	level := cm.GetSnapshot().ThresholdLevel
	return level == ThresholdAlert || level == ThresholdCritical || level == ThresholdExceeded
}

// CanAcceptTurnOptions carries the input to CanAcceptTurn.
type CanAcceptTurnOptions struct {
	EstimatedResponseTokens int
}

// CanAcceptTurn reports whether the session can accept another turn,
// refusing at critical or exceeded utilization.
func (cm *ContextManager) CanAcceptTurn(opts CanAcceptTurnOptions) AdmissionResult {
	snap := cm.GetSnapshot()
	estimatedAfter := snap.CurrentTokens + opts.EstimatedResponseTokens

	canProceed := snap.ThresholdLevel != ThresholdCritical && snap.ThresholdLevel != ThresholdExceeded
	needsCompaction := snap.ThresholdLevel == ThresholdAlert || snap.ThresholdLevel == ThresholdCritical || snap.ThresholdLevel == ThresholdExceeded

	return AdmissionResult{
		CanProceed:         canProceed,
		NeedsCompaction:    needsCompaction,
		CurrentTokens:      snap.CurrentTokens,
		EstimatedAfterTurn: estimatedAfter,
		ContextLimit:       snap.ContextLimit,
	}
}

// PreviewCompaction is non-mutating: it runs the summarizer over everything
// except the preserved tail and estimates the resulting size, without
// touching the store.
func (cm *ContextManager) PreviewCompaction(ctx context.Context, summarizer eventcore.Summarizer) (CompactionPreview, error) {
	cm.mu.Lock()
	turns := cm.cfg.PreserveRecentTurns
	cm.mu.Unlock()
	return cm.previewCompaction(ctx, summarizer, turns)
}

func (cm *ContextManager) previewCompaction(ctx context.Context, summarizer eventcore.Summarizer, preserveTurns int) (CompactionPreview, error) {
	cm.mu.Lock()
	preserve := preserveTurns * 2
	messages := make([]eventcore.ReconstructedMessage, len(cm.entries))
	for i, e := range cm.entries {
		messages[i] = e.message
	}
	tokensBefore := cm.messagesTokensLocked()
	cm.mu.Unlock()

	toSummarize, _ := splitTail(messages, preserve)

	summary, err := summarizer.Summarize(ctx, toSummarize)
	if err != nil {
		return CompactionPreview{}, fmt.Errorf("contextmgr: preview compaction: %w", err)
	}

	estimator := cm.estimator
	summaryTokens := estimator.Estimate(cm.cfg.Provider, summary) * 2 // summary + synthetic ack
	cm.mu.Lock()
	tailTokens := 0
	n := len(cm.entries)
	start := n - preserve
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		tailTokens += cm.entryTokensLocked(i)
	}
	cm.mu.Unlock()

	tokensAfter := summaryTokens + tailTokens
	ratio := 1.0
	if tokensBefore > 0 {
		ratio = float64(tokensAfter) / float64(tokensBefore)
	}

	return CompactionPreview{
		TokensBefore:     tokensBefore,
		TokensAfter:      tokensAfter,
		CompressionRatio: ratio,
		Summary:          summary,
	}, nil
}

// ConfirmCompaction atomically replaces the prefix of the message stream
// older than PreserveRecentTurns with a synthetic summary + acknowledgement
// pair, keeping the tail verbatim. It
// mutates only the in-memory store; the caller (SessionOrchestrator) is
// responsible for persisting the compact.boundary and compact.summary
// events that make the change durable.
func (cm *ContextManager) ConfirmCompaction(ctx context.Context, summarizer eventcore.Summarizer, opts ConfirmCompactionOptions) (CompactionPreview, error) {
	preserve := opts.PreserveRecentTurns
	if preserve <= 0 {
		preserve = cm.cfg.PreserveRecentTurns
	}

	preview, err := cm.previewCompaction(ctx, summarizer, preserve)
	if err != nil {
		return CompactionPreview{}, err
	}
	summary := preview.Summary
	if opts.EditedSummary != "" {
		summary = opts.EditedSummary
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	n := len(cm.entries)
	keepFrom := n - preserve*2
	if keepFrom < 0 {
		keepFrom = 0
	}
	tail := make([]messageEntry, len(cm.entries[keepFrom:]))
	copy(tail, cm.entries[keepFrom:])

	synthUser := eventcore.ReconstructedMessage{
		Message: eventcore.Message{
			Role:    eventcore.RoleUser,
			Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: "[Context from earlier in this conversation]\n\n" + summary}},
		},
	}
	synthAck := eventcore.ReconstructedMessage{
		Message: eventcore.Message{
			Role:    eventcore.RoleAssistant,
			Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: "Understood, I have the context from our earlier conversation."}},
		},
	}

	cm.entries = append([]messageEntry{{message: synthUser}, {message: synthAck}}, tail...)
	cm.apiReportedTokens = 0

	preview.Summary = summary
	return preview, nil
}

// splitTail divides messages into (headForSummary, preservedTail) where the
// tail holds the last n entries verbatim.
func splitTail(messages []eventcore.ReconstructedMessage, n int) (head, tail []eventcore.ReconstructedMessage) {
	if n >= len(messages) {
		return nil, messages
	}
	if n <= 0 {
		return messages, nil
	}
	split := len(messages) - n
	return messages[:split], messages[split:]
}
