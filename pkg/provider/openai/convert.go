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

// Package openai converts the reconstructed message surface of
// pkg/eventcore into OpenAI Responses API input items, folding the internal
// toolResult role into `function_call_output` items with tool-call-id
// remapping.
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

// IDRemapper tracks the mapping between the reconstructor's tool_use IDs
// (which may have originated from a different provider across a fork) and
// the IDs OpenAI's Responses API expects to see echoed back on the
// matching function_call_output item.
type IDRemapper struct {
	toOpenAI map[string]string
	toNative map[string]string
	seq      int
}

// NewIDRemapper returns an empty remapper.
func NewIDRemapper() *IDRemapper {
	return &IDRemapper{toOpenAI: map[string]string{}, toNative: map[string]string{}}
}

// Remap returns the OpenAI-facing call ID for a native tool-use ID,
// allocating a new deterministic one on first sight.
func (r *IDRemapper) Remap(nativeID string) string {
	if id, ok := r.toOpenAI[nativeID]; ok {
		return id
	}
	r.seq++
	id := fmt.Sprintf("call_%d", r.seq)
	r.toOpenAI[nativeID] = id
	r.toNative[id] = nativeID
	return id
}

// Native reverses Remap, used when decoding a response's function_call
// items back into the reconstructor's toolCallId space.
func (r *IDRemapper) Native(openaiID string) string {
	if id, ok := r.toNative[openaiID]; ok {
		return id
	}
	return openaiID
}

// ToInputItems converts reconstructed messages to Responses API input
// items.
func ToInputItems(messages []eventcore.ReconstructedMessage, remap *IDRemapper) ([]responses.ResponseInputItemUnionParam, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, rm := range messages {
		m := rm.Message
		switch m.Role {
		case eventcore.RoleUser:
			item, err := encodeUser(m.Content, remap)
			if err != nil {
				return nil, err
			}
			items = append(items, item...)

		case eventcore.RoleAssistant:
			item, err := encodeAssistant(m.Content, remap)
			if err != nil {
				return nil, err
			}
			items = append(items, item...)

		case eventcore.RoleToolResult:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(remap.Remap(m.ToolCallID), toolResultOutputText(m)))

		default:
			return nil, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}
	return items, nil
}

func encodeUser(content []eventcore.ContentBlock, remap *IDRemapper) ([]responses.ResponseInputItemUnionParam, error) {
	var parts []responses.ResponseInputContentUnionParam
	var toolOutputs []responses.ResponseInputItemUnionParam
	for _, b := range content {
		switch b.Type {
		case eventcore.BlockText:
			if b.Text != "" {
				parts = append(parts, responses.ResponseInputContentParamOfInputText(b.Text))
			}
		case eventcore.BlockImage:
			parts = append(parts, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: openai.String(fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data)),
				},
			})
		case eventcore.BlockToolResult:
			// A tool_result inline inside a user message is emitted as its
			// own item, ahead of the message item, since
			// function_call_output is a top-level input item rather than
			// message content in the Responses API.
			toolOutputs = append(toolOutputs, responses.ResponseInputItemParamOfFunctionCallOutput(remap.Remap(b.ToolCallID), b.ToolResultContent))
		default:
			return nil, fmt.Errorf("openai: unsupported user content block %q", b.Type)
		}
	}
	items := toolOutputs
	if len(parts) > 0 {
		items = append(items, responses.ResponseInputItemParamOfInputMessage(parts, "user"))
	}
	return items, nil
}

func encodeAssistant(content []eventcore.ContentBlock, remap *IDRemapper) ([]responses.ResponseInputItemUnionParam, error) {
	var items []responses.ResponseInputItemUnionParam
	for _, b := range content {
		switch b.Type {
		case eventcore.BlockText:
			if b.Text != "" {
				items = append(items, responses.ResponseInputItemParamOfOutputMessage(
					[]responses.ResponseOutputMessageContentUnionParam{{
						OfOutputText: &responses.ResponseOutputTextParam{Text: b.Text, Type: "output_text"},
					}}, "", ""))
			}
		case eventcore.BlockToolUse:
			argsJSON, err := json.Marshal(b.Input)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal tool_use input: %w", err)
			}
			items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(argsJSON), remap.Remap(b.ToolCallID), b.ToolName))
		case eventcore.BlockThinking:
			if b.Signature == nil {
				// display-only, not signed: never sent back
				continue
			}
			items = append(items, responses.ResponseInputItemUnionParam{
				OfReasoning: &responses.ResponseReasoningItemParam{
					Summary:          []responses.ResponseReasoningItemSummaryParam{{Type: "summary_text", Text: b.Text}},
					EncryptedContent: openai.String(*b.Signature),
				},
			})
		default:
			return nil, fmt.Errorf("openai: unsupported assistant content block %q", b.Type)
		}
	}
	return items, nil
}

// toolResultOutputText renders a toolResult message's content for a
// function_call_output item, prefixing errors the way a failed tool
// invocation should read to the model.
func toolResultOutputText(m eventcore.Message) string {
	text := ""
	for _, b := range m.Content {
		if b.Type == eventcore.BlockToolResult {
			text = b.ToolResultContent
			break
		}
	}
	if m.IsError && text != "" {
		return "Error: " + text
	}
	return text
}
