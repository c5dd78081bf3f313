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

// Package eventcore implements the event-sourced session store at the
// heart of the runtime: an append-only, parent-linked DAG of events plus the pure
// reconstruction algorithm that rebuilds a provider-ready message sequence
// from any point in that history.
package eventcore

import "encoding/json"

// EventType is the closed enum of persisted event kinds, grouped by concern.
type EventType string

const (
	// Lifecycle
	EventSessionStart EventType = "session.start"
	EventSessionEnd   EventType = "session.end"
	EventSessionFork  EventType = "session.fork"

	// Conversation
	EventMessageUser      EventType = "message.user"
	EventMessageAssistant EventType = "message.assistant"
	EventMessageSystem    EventType = "message.system"
	EventMessageDeleted   EventType = "message.deleted"

	// Tools
	EventToolCall   EventType = "tool.call"
	EventToolResult EventType = "tool.result"

	// Streaming deltas (optional persistence)
	EventStreamTextDelta     EventType = "stream.text_delta"
	EventStreamThinkingDelta EventType = "stream.thinking_delta"
	EventStreamTurnStart     EventType = "stream.turn_start"
	EventStreamTurnEnd       EventType = "stream.turn_end"

	// Config
	EventConfigModelSwitch    EventType = "config.model_switch"
	EventConfigPromptUpdate   EventType = "config.prompt_update"
	EventConfigReasoningLevel EventType = "config.reasoning_level"

	// Context management
	EventCompactBoundary EventType = "compact.boundary"
	EventCompactSummary  EventType = "compact.summary"
	EventContextCleared  EventType = "context.cleared"

	// Metadata
	EventMetadataUpdate EventType = "metadata.update"
	EventMetadataTag    EventType = "metadata.tag"

	// Files
	EventFileRead  EventType = "file.read"
	EventFileWrite EventType = "file.write"
	EventFileEdit  EventType = "file.edit"

	// Errors
	EventErrorAgent    EventType = "error.agent"
	EventErrorTool     EventType = "error.tool"
	EventErrorProvider EventType = "error.provider"

	// Plan/skill mode
	EventPlanModeEntered      EventType = "plan.mode_entered"
	EventPlanModeExited       EventType = "plan.mode_exited"
	EventRulesLoaded          EventType = "rules.loaded"
	EventSubagentSpawned      EventType = "subagent.spawned"
	EventSubagentStatusUpdate EventType = "subagent.status_update"
	EventSubagentCompleted    EventType = "subagent.completed"
	EventSubagentFailed       EventType = "subagent.failed"

	// Worktree
	EventWorktreeAcquired EventType = "worktree.acquired"
	EventWorktreeCommit   EventType = "worktree.commit"
	EventWorktreeReleased EventType = "worktree.released"
	EventWorktreeMerged   EventType = "worktree.merged"
)

// conversationCounting is the set of event types that advance a session's
// messageCount counter.
var conversationCounting = map[EventType]bool{
	EventMessageUser:      true,
	EventMessageAssistant: true,
	EventMessageSystem:    true,
}

// Event is an immutable record of a state change. Once
// persisted, events are never mutated or deleted; logical deletion is
// recorded by a message.deleted event referencing a targetEventId.
//
// Payload is a tagged-variant value: callers pass the concrete *Payload
// struct matching Type when constructing an Event, and json.Marshal /
// json.Unmarshal move it to/from the `payload JSON` column.
// RawPayload holds the as-stored bytes once an event
// is read back from the store, so unknown/forward-compatible types survive
// a round trip unmodified even though reconstruction ignores them.
type Event struct {
	ID          string
	ParentID    string // empty = root (session.start only)
	SessionID   string
	WorkspaceID string
	Type        EventType
	Timestamp   string
	Sequence    int64
	Payload     any             // concrete payload struct at construction time
	RawPayload  json.RawMessage // as-stored bytes, populated on read
}

// DecodePayload unmarshals RawPayload into dst. Used by reconstruction and
// by callers needing a specific payload shape for a known Type.
func (e Event) DecodePayload(dst any) error {
	if len(e.RawPayload) == 0 {
		return nil
	}
	return json.Unmarshal(e.RawPayload, dst)
}

// --- Event payload shapes ---

// SessionStartPayload is the payload of a session.start event.
type SessionStartPayload struct {
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	WorkingDirectory string `json:"workingDirectory"`
	Title            string `json:"title,omitempty"`
	SystemPrompt     string `json:"systemPrompt,omitempty"`
	ReasoningLevel   string `json:"reasoningLevel,omitempty"`
}

// SessionForkPayload is the payload of a session.fork event.
type SessionForkPayload struct {
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SessionEndPayload is the payload of a session.end event.
type SessionEndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// MessageUserPayload is the payload of a message.user event.
type MessageUserPayload struct {
	Content []ContentBlock `json:"content"`
}

// MessageAssistantPayload is the payload of a message.assistant event.
type MessageAssistantPayload struct {
	Content     []ContentBlock `json:"content"`
	Usage       *Usage         `json:"usage,omitempty"`
	StopReason  string         `json:"stopReason,omitempty"`
	Interrupted bool           `json:"interrupted,omitempty"`
}

// MessageSystemPayload is the payload of a message.system event.
type MessageSystemPayload struct {
	Content string `json:"content"`
}

// MessageDeletedPayload is the payload of a message.deleted event.
type MessageDeletedPayload struct {
	TargetEventID string `json:"targetEventId"`
	Reason        string `json:"reason,omitempty"`
}

// ToolCallPayload is the payload of a tool.call event. Arguments are always
// the full, untruncated set; assistant messages may instead
// carry a truncated placeholder bearing `_truncated:true`, rehydrated from
// this payload during reconstruction.
type ToolCallPayload struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolResultPayload is the payload of a tool.result event.
type ToolResultPayload struct {
	ToolCallID  string `json:"toolCallId"`
	Content     string `json:"content"`
	IsError     bool   `json:"isError"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// ConfigModelSwitchPayload is the payload of a config.model_switch event.
type ConfigModelSwitchPayload struct {
	OldModel    string `json:"oldModel"`
	NewModel    string `json:"newModel"`
	OldProvider string `json:"oldProvider"`
	NewProvider string `json:"newProvider"`
}

// ConfigPromptUpdatePayload is the payload of a config.prompt_update event.
type ConfigPromptUpdatePayload struct {
	SystemPrompt string `json:"systemPrompt"`
}

// ConfigReasoningLevelPayload is the payload of a config.reasoning_level event.
type ConfigReasoningLevelPayload struct {
	Level string `json:"level"`
}

// CompactSummaryPayload is the payload of a compact.summary event.
type CompactSummaryPayload struct {
	Summary        string `json:"summary"`
	TokensBefore   int    `json:"tokensBefore"`
	TokensAfter    int    `json:"tokensAfter"`
	PreservedTurns int    `json:"preservedTurns"`
}

// CompactBoundaryPayload is the payload of a compact.boundary event. It is
// a marker with no semantic fields; reconstruction skips it, and the
// compact.summary event that follows it is what resets the message stream.
type CompactBoundaryPayload struct{}

// ContextClearedPayload is the payload of a context.cleared event.
type ContextClearedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// PlanModeEnteredPayload is the payload of a plan.mode_entered event.
type PlanModeEnteredPayload struct {
	SkillName    string   `json:"skillName"`
	BlockedTools []string `json:"blockedTools"`
}

// PlanModeExitedPayload is the payload of a plan.mode_exited event.
type PlanModeExitedPayload struct {
	Reason   string `json:"reason,omitempty"`
	PlanPath string `json:"planPath,omitempty"`
}

// ErrorProviderPayload is the payload of an error.provider event.
type ErrorProviderPayload struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	SafetyBlock bool   `json:"safetyBlock,omitempty"`
}

// Usage carries token accounting, reported by a provider or accumulated by
// the orchestrator across a turn.
type Usage struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens,omitempty"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens,omitempty"`
}

// Add accumulates u2 into u and returns the result.
func (u Usage) Add(u2 Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + u2.InputTokens,
		OutputTokens:             u.OutputTokens + u2.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + u2.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + u2.CacheReadInputTokens,
	}
}

// --- Reconstructed message surface ---

// Role is the reconstructed message role. toolResult is an internal
// canonical form: providers' message converters translate it to their
// native shapes at the boundary.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"
)

// BlockType enumerates the kinds of content a message can carry.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockDocument   BlockType = "document"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// ContentBlock is a typed content unit within a message. Only the fields
// relevant to Type are populated; the rest are zero.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image / document
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"` // base64 or URL, provider-dependent

	// tool_use
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Truncated  bool           `json:"_truncated,omitempty"`

	// tool_result (as an inline block, e.g. inside a user message)
	ToolResultContent string `json:"toolResultContent,omitempty"`
	IsError           bool   `json:"isError,omitempty"`

	// thinking — Signature is nil for display-only blocks that must not be
	// sent back to providers requiring a signature.
	Signature *string `json:"signature,omitempty"`
}

// Message is one reconstructed turn in the conversation surface.
type Message struct {
	Role    Role
	Content []ContentBlock

	// toolResult-only fields, populated when Role == RoleToolResult.
	// ToolName is the called tool's name, recovered from the matching
	// tool.call event (or the assistant's tool_use block); providers that
	// key function responses by name (Gemini) need it on the way out.
	ToolCallID string
	ToolName   string
	IsError    bool
}

// ReconstructedMessage pairs a Message with the set of event IDs that
// contributed to it, so later deletion operations can recompute membership.
type ReconstructedMessage struct {
	Message  Message
	EventIDs []string
}

// ReconstructionResult is the output of MessageReconstructor.Reconstruct.
type ReconstructionResult struct {
	Messages       []ReconstructedMessage
	TokenUsage     Usage
	TurnCount      int
	ReasoningLevel string
	SystemPrompt   string
}

// --- Storage entities ---

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Workspace is a named scope grouping sessions.
type Workspace struct {
	ID        string
	Path      string
	CreatedAt string
}

// Session is one conversational thread.
type Session struct {
	ID               string
	WorkspaceID      string
	RootEventID      string
	HeadEventID      string
	Status           SessionStatus
	Title            string
	Model            string
	Provider         string
	WorkingDirectory string
	EventCount       int64
	MessageCount     int64
	CreatedAt        string
	LastActivityAt   string
}

// Branch is a named alternative head within a session.
type Branch struct {
	ID             string
	SessionID      string
	Name           string
	ForkEventID    string
	HeadEventID    string
	MessageCount   int64
	CreatedAt      string
	LastActivityAt string
}
