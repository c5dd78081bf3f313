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

// Package google converts the reconstructed message surface of
// pkg/eventcore into google.golang.org/genai Content/Part values, folding
// the internal toolResult role into `functionResponse` parts.
package google

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

// ToContents converts reconstructed messages into genai.Content values.
// Adjacent toolResult messages coalesce into a single "user" turn carrying
// one functionResponse part per result, matching Gemini's expectation that
// function responses for one turn travel together.
func ToContents(messages []eventcore.ReconstructedMessage) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	i := 0
	for i < len(messages) {
		m := messages[i].Message
		switch m.Role {
		case eventcore.RoleUser:
			parts, err := userParts(m.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, &genai.Content{Role: "user", Parts: parts})
			i++

		case eventcore.RoleAssistant:
			parts, err := assistantParts(m.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, &genai.Content{Role: "model", Parts: parts})
			i++

		case eventcore.RoleToolResult:
			var parts []*genai.Part
			for i < len(messages) && messages[i].Message.Role == eventcore.RoleToolResult {
				tr := messages[i].Message
				parts = append(parts, functionResponsePart(tr))
				i++
			}
			out = append(out, &genai.Content{Role: "user", Parts: parts})

		default:
			return nil, fmt.Errorf("google: unknown message role %q", m.Role)
		}
	}
	return out, nil
}

func functionResponsePart(m eventcore.Message) *genai.Part {
	response := map[string]any{"output": m.Content[0].ToolResultContent}
	if m.IsError {
		response = map[string]any{"error": m.Content[0].ToolResultContent}
	}
	// Gemini matches a functionResponse to its call by function NAME (the
	// ID alone is not enough), so the reconstructed tool name must ride
	// along here.
	name := m.ToolName
	if name == "" {
		name = m.Content[0].ToolName
	}
	return &genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       m.ToolCallID,
			Name:     name,
			Response: response,
		},
	}
}

func userParts(content []eventcore.ContentBlock) ([]*genai.Part, error) {
	var parts []*genai.Part
	for _, b := range content {
		switch b.Type {
		case eventcore.BlockText:
			if b.Text != "" {
				parts = append(parts, genai.NewPartFromText(b.Text))
			}
		case eventcore.BlockImage:
			parts = append(parts, genai.NewPartFromBytes([]byte(b.Data), b.MediaType))
		case eventcore.BlockToolResult:
			parts = append(parts, functionResponsePart(eventcore.Message{
				ToolCallID: b.ToolCallID,
				ToolName:   b.ToolName,
				IsError:    b.IsError,
				Content:    []eventcore.ContentBlock{b},
			}))
		default:
			return nil, fmt.Errorf("google: unsupported user content block %q", b.Type)
		}
	}
	return parts, nil
}

func assistantParts(content []eventcore.ContentBlock) ([]*genai.Part, error) {
	var parts []*genai.Part
	for _, b := range content {
		switch b.Type {
		case eventcore.BlockText:
			if b.Text != "" {
				parts = append(parts, genai.NewPartFromText(b.Text))
			}
		case eventcore.BlockToolUse:
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   b.ToolCallID,
					Name: b.ToolName,
					Args: b.Input,
				},
			})
		case eventcore.BlockThinking:
			// Google requires a signature (thoughtSignature) on any thinking
			// part sent back; unsigned display-only blocks are dropped. A
			// signed block is sent as a plain text part, without its
			// signature.
			if b.Signature != nil {
				parts = append(parts, genai.NewPartFromText(b.Text))
			}
		default:
			return nil, fmt.Errorf("google: unsupported assistant content block %q", b.Type)
		}
	}
	return parts, nil
}

// FromResponse decodes a genai.GenerateContentResponse's first candidate
// into reconstructable content blocks plus usage.
func FromResponse(resp *genai.GenerateContentResponse) ([]eventcore.ContentBlock, eventcore.Usage, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, eventcore.Usage{}, fmt.Errorf("google: empty response")
	}
	var blocks []eventcore.ContentBlock
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, eventcore.ContentBlock{Type: eventcore.BlockText, Text: part.Text})
		case part.FunctionCall != nil:
			blocks = append(blocks, eventcore.ContentBlock{
				Type:       eventcore.BlockToolUse,
				ToolCallID: part.FunctionCall.ID,
				ToolName:   part.FunctionCall.Name,
				Input:      part.FunctionCall.Args,
			})
		}
	}
	var usage eventcore.Usage
	if resp.UsageMetadata != nil {
		usage = eventcore.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return blocks, usage, nil
}
