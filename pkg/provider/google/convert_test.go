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
package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

func TestToContents_FoldsToolResultsIntoFunctionResponses(t *testing.T) {
	messages := []eventcore.ReconstructedMessage{
		{Message: eventcore.Message{
			Role:    eventcore.RoleUser,
			Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: "run both"}},
		}},
		{Message: eventcore.Message{
			Role: eventcore.RoleAssistant,
			Content: []eventcore.ContentBlock{
				{Type: eventcore.BlockToolUse, ToolCallID: "tc_1", ToolName: "Bash", Input: map[string]any{"command": "ls"}},
				{Type: eventcore.BlockToolUse, ToolCallID: "tc_2", ToolName: "Bash", Input: map[string]any{"command": "pwd"}},
			},
		}},
		{Message: eventcore.Message{
			Role:       eventcore.RoleToolResult,
			ToolCallID: "tc_1",
			ToolName:   "Bash",
			Content:    []eventcore.ContentBlock{{Type: eventcore.BlockToolResult, ToolCallID: "tc_1", ToolName: "Bash", ToolResultContent: "file.txt"}},
		}},
		{Message: eventcore.Message{
			Role:       eventcore.RoleToolResult,
			ToolCallID: "tc_2",
			ToolName:   "Bash",
			Content:    []eventcore.ContentBlock{{Type: eventcore.BlockToolResult, ToolCallID: "tc_2", ToolName: "Bash", ToolResultContent: "/work"}},
		}},
	}

	contents, err := ToContents(messages)
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "user", contents[2].Role)

	// Both function responses travel in one user turn.
	require.Len(t, contents[2].Parts, 2)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "tc_1", contents[2].Parts[0].FunctionResponse.ID)
	assert.Equal(t, "Bash", contents[2].Parts[0].FunctionResponse.Name, "functionResponse must carry the function name, not the call id")
	assert.Equal(t, map[string]any{"output": "file.txt"}, contents[2].Parts[0].FunctionResponse.Response)
}

func TestToContents_ErrorResultShape(t *testing.T) {
	messages := []eventcore.ReconstructedMessage{
		{Message: eventcore.Message{
			Role:       eventcore.RoleToolResult,
			ToolCallID: "tc_1",
			ToolName:   "Bash",
			IsError:    true,
			Content:    []eventcore.ContentBlock{{Type: eventcore.BlockToolResult, ToolCallID: "tc_1", ToolName: "Bash", ToolResultContent: "exit 1", IsError: true}},
		}},
	}

	contents, err := ToContents(messages)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.NotNil(t, contents[0].Parts[0].FunctionResponse)
	assert.Equal(t, map[string]any{"error": "exit 1"}, contents[0].Parts[0].FunctionResponse.Response)
}

func TestToContents_UnsignedThinkingDropped(t *testing.T) {
	sig := "thought-signature"
	messages := []eventcore.ReconstructedMessage{
		{Message: eventcore.Message{
			Role: eventcore.RoleAssistant,
			Content: []eventcore.ContentBlock{
				{Type: eventcore.BlockThinking, Text: "unsigned"},
				{Type: eventcore.BlockThinking, Text: "signed", Signature: &sig},
				{Type: eventcore.BlockText, Text: "answer"},
			},
		}},
	}

	contents, err := ToContents(messages)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	// unsigned thinking dropped: signed thinking + text remain
	assert.Len(t, contents[0].Parts, 2)
}

func TestFromResponse_Empty(t *testing.T) {
	_, _, err := FromResponse(nil)
	require.Error(t, err)
}
