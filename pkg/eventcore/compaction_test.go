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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstructed(role Role, blocks ...ContentBlock) ReconstructedMessage {
	return ReconstructedMessage{Message: Message{Role: role, Content: blocks}}
}

func TestStaticSummarizer(t *testing.T) {
	s := NewStaticSummarizer()

	summary, err := s.Summarize(context.Background(), []ReconstructedMessage{
		reconstructed(RoleUser, ContentBlock{Type: BlockText, Text: "fix the bug in parser.go"}),
		reconstructed(RoleAssistant, ContentBlock{Type: BlockToolUse, ToolCallID: "tc_1", ToolName: "Read"}),
		reconstructed(RoleToolResult, ContentBlock{Type: BlockToolResult, ToolCallID: "tc_1", ToolResultContent: "source"}),
		reconstructed(RoleAssistant, ContentBlock{Type: BlockText, Text: "Fixed the off-by-one."}),
	})
	require.NoError(t, err)
	assert.Contains(t, summary, "fix the bug in parser.go")
	assert.Contains(t, summary, "Agent executed tools")
	assert.Contains(t, summary, "Tool result received")
}

func TestStaticSummarizer_Empty(t *testing.T) {
	summary, err := NewStaticSummarizer().Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Previous exchanges", summary)
}

func TestRenderTranscript(t *testing.T) {
	sig := "sig"
	out := renderTranscript([]ReconstructedMessage{
		reconstructed(RoleUser, ContentBlock{Type: BlockText, Text: "hello"}),
		reconstructed(RoleAssistant,
			ContentBlock{Type: BlockThinking, Text: "secret", Signature: &sig},
			ContentBlock{Type: BlockText, Text: "hi"},
			ContentBlock{Type: BlockToolUse, ToolName: "Bash"},
		),
		reconstructed(RoleToolResult, ContentBlock{Type: BlockToolResult, ToolResultContent: "out"}),
	})

	assert.Contains(t, out, "[user]: hello")
	assert.Contains(t, out, "[called tool Bash]")
	assert.Contains(t, out, "[tool result]")
	assert.NotContains(t, out, "secret")
}
