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

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Summarizer produces a compact summary of a run of messages, used by
// ContextManager.previewCompaction / confirmCompaction.
type Summarizer interface {
	// Summarize returns a concise natural-language summary of messages,
	// preserving the facts a resumed conversation would need (decisions
	// made, files touched, open threads).
	Summarize(ctx context.Context, messages []ReconstructedMessage) (string, error)
}

// AnthropicSummarizer implements Summarizer using a small, cheap Claude
// model. It is the production compactor; no other provider is needed here
// because compaction is a core-side concern independent of which provider
// is driving the live conversation.
type AnthropicSummarizer struct {
	client    *sdk.Client
	model     string
	maxTokens int64
}

// NewAnthropicSummarizer builds a Summarizer backed by the Messages API.
// model should be a small, fast Claude model (e.g. claude-3-5-haiku) since
// summaries are capped at maxTokens and cost efficiency matters more than
// frontier quality here.
func NewAnthropicSummarizer(apiKey, model string, maxTokens int64) *AnthropicSummarizer {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicSummarizer{client: &client, model: model, maxTokens: maxTokens}
}

const summarizerSystemPrompt = "Summarize the following conversation between a user and a coding agent in 2-4 sentences. " +
	"Preserve concrete facts: file paths touched, commands run, decisions made, and any open threads the agent still owes the user. " +
	"Do not editorialize or add commentary outside the summary."

// Summarize renders messages to a flat transcript and asks the model for a
// short summary.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, messages []ReconstructedMessage) (string, error) {
	transcript := renderTranscript(messages)
	if transcript == "" {
		return "", nil
	}

	resp, err := s.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(s.model),
		MaxTokens: s.maxTokens,
		System:    []sdk.TextBlockParam{{Text: summarizerSystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("eventcore: summarize conversation: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// renderTranscript flattens reconstructed messages into "[role]: text"
// lines, collapsing tool_use/tool_result blocks to short markers so the
// summarizer prompt stays compact.
func renderTranscript(messages []ReconstructedMessage) string {
	var lines []string
	for _, m := range messages {
		var parts []string
		for _, block := range m.Message.Content {
			switch block.Type {
			case BlockText:
				if block.Text != "" {
					parts = append(parts, block.Text)
				}
			case BlockToolUse:
				parts = append(parts, fmt.Sprintf("[called tool %s]", block.ToolName))
			case BlockToolResult:
				parts = append(parts, "[tool result]")
			case BlockThinking:
				// Thinking blocks are display-only; excluded from the
				// transcript handed to the summarizer.
			}
		}
		if len(parts) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", m.Message.Role, strings.Join(parts, " ")))
	}
	return strings.Join(lines, "\n")
}

// staticSummarizer is a zero-dependency fallback for tests and offline use:
// it extracts a cheap keyword digest instead of calling an LLM.
type staticSummarizer struct{}

// NewStaticSummarizer returns a Summarizer that needs no network access,
// useful in tests and as a degraded-mode fallback.
func NewStaticSummarizer() Summarizer { return staticSummarizer{} }

func (staticSummarizer) Summarize(_ context.Context, messages []ReconstructedMessage) (string, error) {
	var parts []string
	for _, m := range messages {
		switch m.Message.Role {
		case RoleUser:
			parts = append(parts, "User: "+firstText(m.Message.Content))
		case RoleAssistant:
			if containsToolUse(m.Message.Content) {
				parts = append(parts, "Agent executed tools")
			} else if t := firstText(m.Message.Content); t != "" {
				parts = append(parts, "Agent: "+truncate(t, 60))
			}
		case RoleToolResult:
			parts = append(parts, "Tool result received")
		}
	}
	if len(parts) == 0 {
		return "Previous exchanges", nil
	}
	return strings.Join(parts, "; "), nil
}

func firstText(blocks []ContentBlock) string {
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
