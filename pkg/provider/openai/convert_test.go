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
package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

func TestIDRemapper_RoundTrip(t *testing.T) {
	r := NewIDRemapper()

	first := r.Remap("toolu_abc123")
	second := r.Remap("toolu_def456")
	assert.NotEqual(t, first, second)

	// Stable on repeat.
	assert.Equal(t, first, r.Remap("toolu_abc123"))

	// Reverses.
	assert.Equal(t, "toolu_abc123", r.Native(first))
	assert.Equal(t, "toolu_def456", r.Native(second))

	// Unknown IDs pass through.
	assert.Equal(t, "call_unknown", r.Native("call_unknown"))
}

func TestToInputItems_RemapsToolCallIDs(t *testing.T) {
	remap := NewIDRemapper()
	messages := []eventcore.ReconstructedMessage{
		{Message: eventcore.Message{
			Role:    eventcore.RoleUser,
			Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: "list files"}},
		}},
		{Message: eventcore.Message{
			Role: eventcore.RoleAssistant,
			Content: []eventcore.ContentBlock{{
				Type:       eventcore.BlockToolUse,
				ToolCallID: "toolu_anthropic_origin",
				ToolName:   "Bash",
				Input:      map[string]any{"command": "ls"},
			}},
		}},
		{Message: eventcore.Message{
			Role:       eventcore.RoleToolResult,
			ToolCallID: "toolu_anthropic_origin",
			Content: []eventcore.ContentBlock{{
				Type:              eventcore.BlockToolResult,
				ToolCallID:        "toolu_anthropic_origin",
				ToolResultContent: "file.txt",
			}},
		}},
	}

	items, err := ToInputItems(messages, remap)
	require.NoError(t, err)
	require.Len(t, items, 3)

	call := items[1].OfFunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "Bash", call.Name)
	assert.NotEqual(t, "toolu_anthropic_origin", call.CallID, "foreign IDs must be remapped")

	output := items[2].OfFunctionCallOutput
	require.NotNil(t, output)
	assert.Equal(t, call.CallID, output.CallID, "call and output must share the remapped ID")
}

func TestToInputItems_ErrorResultPrefixed(t *testing.T) {
	remap := NewIDRemapper()
	messages := []eventcore.ReconstructedMessage{
		{Message: eventcore.Message{
			Role:       eventcore.RoleToolResult,
			ToolCallID: "tc_1",
			IsError:    true,
			Content: []eventcore.ContentBlock{{
				Type:              eventcore.BlockToolResult,
				ToolCallID:        "tc_1",
				ToolResultContent: "command not found",
				IsError:           true,
			}},
		}},
	}

	items, err := ToInputItems(messages, remap)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].OfFunctionCallOutput)
	assert.Contains(t, items[0].OfFunctionCallOutput.Output, "Error:")
}

func TestToInputItems_UnsignedThinkingDropped(t *testing.T) {
	remap := NewIDRemapper()
	messages := []eventcore.ReconstructedMessage{
		{Message: eventcore.Message{
			Role: eventcore.RoleAssistant,
			Content: []eventcore.ContentBlock{
				{Type: eventcore.BlockThinking, Text: "unsigned reasoning"},
				{Type: eventcore.BlockText, Text: "answer"},
			},
		}},
	}

	items, err := ToInputItems(messages, remap)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].OfReasoning)
}
