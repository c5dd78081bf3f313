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
package eventcore

// MessageReconstructor turns an ordered ancestor event list into the
// provider-valid message surface. It is pure and
// stateless: the same ancestor slice always yields the same result, and it
// is safe to invoke concurrently (no shared mutable state).
type MessageReconstructor struct{}

// NewMessageReconstructor returns a MessageReconstructor. It carries no
// state.
func NewMessageReconstructor() *MessageReconstructor { return &MessageReconstructor{} }

const truncatedMarkerKey = "_truncated"

// pendingToolResult is one entry of the FIFO queue accumulated from
// tool.result events not yet flushed into the message stream.
type pendingToolResult struct {
	toolCallID  string
	toolName    string
	content     string
	isError     bool
	interrupted bool
}

// Reconstruct runs the two-pass algorithm over ancestors (root → target
// order, as returned by EventStore.GetAncestors).
func (r *MessageReconstructor) Reconstruct(ancestors []Event) ReconstructionResult {
	idx := r.index(ancestors)

	out := make([]ReconstructedMessage, 0, len(ancestors))
	var pending []pendingToolResult
	var usage Usage
	var turnCount int
	reasoningLevel := idx.reasoningLevel
	systemPrompt := idx.systemPrompt

	for _, ev := range ancestors {
		if idx.deleted[ev.ID] {
			continue
		}

		switch ev.Type {
		case EventCompactSummary:
			var p CompactSummaryPayload
			_ = ev.DecodePayload(&p)
			out = nil
			pending = nil
			out = append(out,
				syntheticMessage(RoleUser, "[Context from earlier in this conversation]\n\n"+p.Summary, ev.ID),
				syntheticMessage(RoleAssistant, "Understood, I have the context from our earlier conversation.", ev.ID),
			)
			usage = Usage{}

		case EventContextCleared:
			out = nil
			pending = nil

		case EventToolResult:
			var p ToolResultPayload
			_ = ev.DecodePayload(&p)
			pending = append(pending, pendingToolResult{
				toolCallID:  p.ToolCallID,
				toolName:    idx.toolNames[p.ToolCallID],
				content:     p.Content,
				isError:     p.IsError,
				interrupted: p.Interrupted,
			})

		case EventMessageUser:
			var p MessageUserPayload
			_ = ev.DecodePayload(&p)
			pending = nil // a real user turn supersedes any stray pending results

			if n := len(out); n > 0 && out[n-1].Message.Role == RoleUser {
				out[n-1].Message.Content = append(out[n-1].Message.Content, p.Content...)
				out[n-1].EventIDs = append(out[n-1].EventIDs, ev.ID)
			} else {
				out = append(out, ReconstructedMessage{
					Message:  Message{Role: RoleUser, Content: p.Content},
					EventIDs: []string{ev.ID},
				})
			}
			turnCount++

		case EventMessageAssistant:
			var p MessageAssistantPayload
			_ = ev.DecodePayload(&p)
			content := rehydrateToolUse(p.Content, idx.toolArgs)
			hasToolUse := containsToolUse(content)

			if n := len(out); n > 0 && out[n-1].Message.Role == RoleAssistant {
				out = flushPendingAsToolResults(out, &pending)
			}

			if n := len(out); n > 0 && out[n-1].Message.Role == RoleAssistant {
				out[n-1].Message.Content = append(out[n-1].Message.Content, content...)
				out[n-1].EventIDs = append(out[n-1].EventIDs, ev.ID)
			} else {
				out = append(out, ReconstructedMessage{
					Message:  Message{Role: RoleAssistant, Content: content},
					EventIDs: []string{ev.ID},
				})
			}

			if hasToolUse && len(pending) > 0 {
				out = flushPendingAsToolResults(out, &pending)
			}

			if p.Usage != nil {
				usage = usage.Add(*p.Usage)
			}

		case EventConfigReasoningLevel:
			var p ConfigReasoningLevelPayload
			_ = ev.DecodePayload(&p)
			reasoningLevel = p.Level

		default:
			// All other event types (tool.call, config.*, metadata, files,
			// errors, plan/skill/worktree markers) are informational for the
			// provider message surface and do not themselves emit a message;
			// they were already consumed by the indexing pass if relevant.
		}
	}

	if len(pending) > 0 {
		if n := len(out); n > 0 && out[n-1].Message.Role == RoleAssistant && containsToolUse(out[n-1].Message.Content) {
			out = flushPendingAsToolResults(out, &pending)
		}
		// Otherwise: pending results belong to an unfinished turn awaiting a
		// user reply and are intentionally dropped.
	}

	return ReconstructionResult{
		Messages:       out,
		TokenUsage:     usage,
		TurnCount:      turnCount,
		ReasoningLevel: reasoningLevel,
		SystemPrompt:   systemPrompt,
	}
}

// reconstructionIndex holds the results of pass 1.
type reconstructionIndex struct {
	deleted        map[string]bool
	toolArgs       map[string]map[string]any
	toolNames      map[string]string
	reasoningLevel string
	systemPrompt   string
}

// index runs pass 1: deleted-event set, tool-call argument and name maps,
// latest reasoning level, and effective system prompt.
func (r *MessageReconstructor) index(ancestors []Event) reconstructionIndex {
	idx := reconstructionIndex{
		deleted:   make(map[string]bool),
		toolArgs:  make(map[string]map[string]any),
		toolNames: make(map[string]string),
	}

	for _, ev := range ancestors {
		switch ev.Type {
		case EventMessageDeleted:
			var p MessageDeletedPayload
			if err := ev.DecodePayload(&p); err == nil && p.TargetEventID != "" {
				idx.deleted[p.TargetEventID] = true
			}
		case EventToolCall:
			var p ToolCallPayload
			if err := ev.DecodePayload(&p); err == nil && p.ToolCallID != "" {
				idx.toolArgs[p.ToolCallID] = p.Arguments
				idx.toolNames[p.ToolCallID] = p.ToolName
			}
		case EventMessageAssistant:
			// tool.result events carry no tool name; recover it from the
			// tool_use block when no tool.call event was persisted.
			var p MessageAssistantPayload
			if err := ev.DecodePayload(&p); err == nil {
				for _, b := range p.Content {
					if b.Type == BlockToolUse && b.ToolCallID != "" {
						if _, ok := idx.toolNames[b.ToolCallID]; !ok {
							idx.toolNames[b.ToolCallID] = b.ToolName
						}
					}
				}
			}
		case EventConfigReasoningLevel:
			var p ConfigReasoningLevelPayload
			if err := ev.DecodePayload(&p); err == nil {
				idx.reasoningLevel = p.Level
			}
		case EventSessionStart:
			var p SessionStartPayload
			if err := ev.DecodePayload(&p); err == nil {
				idx.systemPrompt = p.SystemPrompt
				if p.ReasoningLevel != "" {
					idx.reasoningLevel = p.ReasoningLevel
				}
			}
		case EventConfigPromptUpdate:
			var p ConfigPromptUpdatePayload
			if err := ev.DecodePayload(&p); err == nil {
				idx.systemPrompt = p.SystemPrompt
			}
		}
	}
	return idx
}

// rehydrateToolUse replaces any tool_use block's input carrying
// "_truncated":true with the full arguments recorded by the matching
// tool.call event.
func rehydrateToolUse(blocks []ContentBlock, toolArgs map[string]map[string]any) []ContentBlock {
	out := make([]ContentBlock, len(blocks))
	copy(out, blocks)
	for i, b := range out {
		if b.Type != BlockToolUse {
			continue
		}
		if truncated, ok := b.Input[truncatedMarkerKey]; ok {
			if t, _ := truncated.(bool); t {
				if full, ok := toolArgs[b.ToolCallID]; ok {
					out[i].Input = full
				}
			}
		}
	}
	return out
}

func containsToolUse(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// flushPendingAsToolResults appends one toolResult message per queued
// pending result (oldest first) and drains the queue.
func flushPendingAsToolResults(out []ReconstructedMessage, pending *[]pendingToolResult) []ReconstructedMessage {
	for _, p := range *pending {
		out = append(out, ReconstructedMessage{
			Message: Message{
				Role:       RoleToolResult,
				ToolCallID: p.toolCallID,
				ToolName:   p.toolName,
				IsError:    p.isError,
				Content: []ContentBlock{{
					Type:              BlockToolResult,
					ToolCallID:        p.toolCallID,
					ToolName:          p.toolName,
					ToolResultContent: p.content,
					IsError:           p.isError,
				}},
			},
		})
	}
	*pending = nil
	return out
}

func syntheticMessage(role Role, text string, eventID string) ReconstructedMessage {
	return ReconstructedMessage{
		Message:  Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}},
		EventIDs: []string{eventID},
	}
}
