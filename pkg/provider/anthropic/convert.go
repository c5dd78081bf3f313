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

// Package anthropic converts the reconstructed message surface of
// pkg/eventcore into Anthropic Messages API wire types, and decodes
// Anthropic responses back into reconstructable content blocks.
package anthropic

import (
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

// ToMessageParams converts reconstructed messages to the Anthropic SDK's
// []MessageParam, folding the internal toolResult role into a `user`
// message carrying tool_result blocks. Adjacent toolResult messages
// coalesce into a single user message, since Anthropic requires all
// tool_result blocks answering a turn to share one user turn.
func ToMessageParams(messages []eventcore.ReconstructedMessage) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	i := 0
	for i < len(messages) {
		m := messages[i].Message
		switch m.Role {
		case eventcore.RoleUser:
			blocks, err := userBlocks(m.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, sdk.NewUserMessage(blocks...))
			i++

		case eventcore.RoleAssistant:
			blocks, err := assistantBlocks(m.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
			i++

		case eventcore.RoleToolResult:
			var blocks []sdk.ContentBlockParamUnion
			for i < len(messages) && messages[i].Message.Role == eventcore.RoleToolResult {
				tr := messages[i].Message
				blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, toolResultText(tr.Content[0].ToolResultContent), tr.IsError))
				i++
			}
			out = append(out, sdk.NewUserMessage(blocks...))

		default:
			return nil, fmt.Errorf("anthropic: unknown message role %q", m.Role)
		}
	}
	return out, nil
}

func userBlocks(content []eventcore.ContentBlock) ([]sdk.ContentBlockParamUnion, error) {
	var out []sdk.ContentBlockParamUnion
	for _, b := range content {
		switch b.Type {
		case eventcore.BlockText:
			if b.Text != "" {
				out = append(out, sdk.NewTextBlock(b.Text))
			}
		case eventcore.BlockImage:
			out = append(out, sdk.NewImageBlockBase64(b.MediaType, b.Data))
		case eventcore.BlockDocument:
			out = append(out, sdk.NewTextBlock(fmt.Sprintf("[document: %s]", b.MediaType)))
		case eventcore.BlockToolResult:
			out = append(out, sdk.NewToolResultBlock(b.ToolCallID, toolResultText(b.ToolResultContent), b.IsError))
		default:
			return nil, fmt.Errorf("anthropic: unsupported user content block %q", b.Type)
		}
	}
	return out, nil
}

func assistantBlocks(content []eventcore.ContentBlock) ([]sdk.ContentBlockParamUnion, error) {
	var out []sdk.ContentBlockParamUnion
	for _, b := range content {
		switch b.Type {
		case eventcore.BlockText:
			if b.Text != "" {
				out = append(out, sdk.NewTextBlock(b.Text))
			}
		case eventcore.BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			out = append(out, sdk.NewToolUseBlock(b.ToolCallID, input, b.ToolName))
		case eventcore.BlockThinking:
			// Unsigned thinking blocks are display-only and must not be sent
			// back; Anthropic rejects thinking blocks without a signature.
			if b.Signature != nil {
				out = append(out, sdk.NewThinkingBlock(*b.Signature, b.Text))
			}
		default:
			return nil, fmt.Errorf("anthropic: unsupported assistant content block %q", b.Type)
		}
	}
	return out, nil
}

func toolResultText(content string) string {
	if content == "" {
		return "(empty)"
	}
	return content
}

// FromResponse decodes an Anthropic Messages API response into reconstructable
// content blocks plus token usage, the inverse of ToMessageParams' assistant
// side. Tool-use IDs are preserved verbatim; the caller persists them as the
// toolCallId of the matching tool.call event.
func FromResponse(resp *sdk.Message) ([]eventcore.ContentBlock, eventcore.Usage, error) {
	if resp == nil {
		return nil, eventcore.Usage{}, fmt.Errorf("anthropic: nil response")
	}
	blocks := make([]eventcore.ContentBlock, 0, len(resp.Content))
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			blocks = append(blocks, eventcore.ContentBlock{Type: eventcore.BlockText, Text: c.Text})
		case "thinking":
			sig := c.Signature
			blocks = append(blocks, eventcore.ContentBlock{Type: eventcore.BlockThinking, Text: c.Thinking, Signature: &sig})
		case "redacted_thinking":
			blocks = append(blocks, eventcore.ContentBlock{Type: eventcore.BlockThinking, Text: "[redacted]"})
		case "tool_use":
			input, err := decodeJSONInput(c.Input)
			if err != nil {
				return nil, eventcore.Usage{}, err
			}
			blocks = append(blocks, eventcore.ContentBlock{
				Type:       eventcore.BlockToolUse,
				ToolCallID: c.ID,
				ToolName:   c.Name,
				Input:      input,
			})
		}
	}
	usage := eventcore.Usage{
		InputTokens:              int(resp.Usage.InputTokens),
		OutputTokens:             int(resp.Usage.OutputTokens),
		CacheCreationInputTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadInputTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	return blocks, usage, nil
}

// decodeJSONInput decodes a tool_use block's raw JSON input payload. The SDK
// surfaces it as json.RawMessage on the content-block union.
func decodeJSONInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("anthropic: decode tool_use input: %w", err)
	}
	return m, nil
}
