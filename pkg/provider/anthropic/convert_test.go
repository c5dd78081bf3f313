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
package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

func userMsg(text string) eventcore.ReconstructedMessage {
	return eventcore.ReconstructedMessage{Message: eventcore.Message{
		Role:    eventcore.RoleUser,
		Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: text}},
	}}
}

func assistantMsg(blocks ...eventcore.ContentBlock) eventcore.ReconstructedMessage {
	return eventcore.ReconstructedMessage{Message: eventcore.Message{
		Role:    eventcore.RoleAssistant,
		Content: blocks,
	}}
}

func toolResultMsg(id, content string, isError bool) eventcore.ReconstructedMessage {
	return eventcore.ReconstructedMessage{Message: eventcore.Message{
		Role:       eventcore.RoleToolResult,
		ToolCallID: id,
		IsError:    isError,
		Content: []eventcore.ContentBlock{{
			Type:              eventcore.BlockToolResult,
			ToolCallID:        id,
			ToolResultContent: content,
			IsError:           isError,
		}},
	}}
}

func TestToMessageParams_FoldsToolResultsIntoUser(t *testing.T) {
	messages := []eventcore.ReconstructedMessage{
		userMsg("run both"),
		assistantMsg(
			eventcore.ContentBlock{Type: eventcore.BlockText, Text: "running"},
			eventcore.ContentBlock{Type: eventcore.BlockToolUse, ToolCallID: "tc_1", ToolName: "Bash", Input: map[string]any{"command": "ls"}},
			eventcore.ContentBlock{Type: eventcore.BlockToolUse, ToolCallID: "tc_2", ToolName: "Bash", Input: map[string]any{"command": "pwd"}},
		),
		toolResultMsg("tc_1", "file.txt", false),
		toolResultMsg("tc_2", "/work", false),
		assistantMsg(eventcore.ContentBlock{Type: eventcore.BlockText, Text: "done"}),
	}

	params, err := ToMessageParams(messages)
	require.NoError(t, err)
	// Adjacent toolResult messages coalesce into ONE user message.
	require.Len(t, params, 4)
	assert.Equal(t, sdk.MessageParamRoleUser, params[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, params[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, params[2].Role)
	assert.Len(t, params[2].Content, 2)
	assert.Equal(t, sdk.MessageParamRoleAssistant, params[3].Role)

	// No two adjacent messages share a role.
	for i := 1; i < len(params); i++ {
		assert.NotEqual(t, params[i-1].Role, params[i].Role)
	}
}

func TestToMessageParams_UnsignedThinkingDropped(t *testing.T) {
	sig := "valid-signature"
	messages := []eventcore.ReconstructedMessage{
		userMsg("hi"),
		assistantMsg(
			eventcore.ContentBlock{Type: eventcore.BlockThinking, Text: "unsigned"},
			eventcore.ContentBlock{Type: eventcore.BlockThinking, Text: "signed", Signature: &sig},
			eventcore.ContentBlock{Type: eventcore.BlockText, Text: "answer"},
		),
	}

	params, err := ToMessageParams(messages)
	require.NoError(t, err)
	require.Len(t, params, 2)

	var thinking, textBlocks int
	for _, block := range params[1].Content {
		if block.OfThinking != nil {
			thinking++
		}
		if block.OfText != nil {
			textBlocks++
		}
	}
	assert.Equal(t, 1, thinking, "only the signed thinking block survives")
	assert.Equal(t, 1, textBlocks)
}

func TestFromResponse(t *testing.T) {
	_, _, err := FromResponse(nil)
	require.Error(t, err)
}
