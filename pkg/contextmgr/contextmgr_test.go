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
package contextmgr

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

func textMessage(role eventcore.Role, text string) eventcore.ReconstructedMessage {
	return eventcore.ReconstructedMessage{
		Message: eventcore.Message{
			Role:    role,
			Content: []eventcore.ContentBlock{{Type: eventcore.BlockText, Text: text}},
		},
	}
}

func newManager(t *testing.T) *ContextManager {
	t.Helper()
	return New(Config{
		Provider:     "anthropic",
		Model:        "claude-sonnet-4",
		ContextLimit: 200000,
	})
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		tokens int
		want   ThresholdLevel
	}{
		{0, ThresholdNormal},
		{99800, ThresholdNormal},    // 49.9%
		{100000, ThresholdWarning},  // exactly 50.0%
		{139999, ThresholdWarning},  // just under 70%
		{140000, ThresholdAlert},    // exactly 70.0%
		{169999, ThresholdAlert},    // just under 85%
		{170000, ThresholdCritical}, // exactly 85.0%
		{180000, ThresholdCritical}, // 90%
		{190000, ThresholdExceeded}, // exactly 95.0%
		{250000, ThresholdExceeded}, // past the limit
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d", tc.tokens), func(t *testing.T) {
			cm := newManager(t)
			cm.SetAPIReportedTokens(tc.tokens)
			assert.Equal(t, tc.want, cm.GetSnapshot().ThresholdLevel)
		})
	}
}

func TestShouldCompact(t *testing.T) {
	cm := newManager(t)
	cm.SetAPIReportedTokens(100000)
	assert.False(t, cm.ShouldCompact())

	cm.SetAPIReportedTokens(145000)
	assert.True(t, cm.ShouldCompact())

	cm.SetAPIReportedTokens(195000)
	assert.True(t, cm.ShouldCompact())
}

func TestCanAcceptTurn(t *testing.T) {
	cm := newManager(t)

	// Alert: proceed, but flag compaction.
	cm.SetAPIReportedTokens(150000)
	result := cm.CanAcceptTurn(CanAcceptTurnOptions{EstimatedResponseTokens: 4000})
	assert.True(t, result.CanProceed)
	assert.True(t, result.NeedsCompaction)
	assert.Equal(t, 150000, result.CurrentTokens)
	assert.Equal(t, 154000, result.EstimatedAfterTurn)
	assert.Equal(t, 200000, result.ContextLimit)

	// Critical: refuse.
	cm.SetAPIReportedTokens(180000)
	result = cm.CanAcceptTurn(CanAcceptTurnOptions{EstimatedResponseTokens: 4000})
	assert.False(t, result.CanProceed)
	assert.True(t, result.NeedsCompaction)

	// Normal: proceed, no compaction needed.
	cm.SetAPIReportedTokens(50000)
	result = cm.CanAcceptTurn(CanAcceptTurnOptions{EstimatedResponseTokens: 4000})
	assert.True(t, result.CanProceed)
	assert.False(t, result.NeedsCompaction)
}

func TestGetSnapshot_BreakdownSumsToTotal(t *testing.T) {
	cm := newManager(t)
	cm.SetSystemPrompt("You are a helpful coding agent with a long prompt.")
	cm.SetToolsOverhead(400)
	cm.SetRulesOverhead(120)
	cm.SetMessages([]eventcore.ReconstructedMessage{
		textMessage(eventcore.RoleUser, "please fix the failing test"),
		textMessage(eventcore.RoleAssistant, "looking at it now"),
	})

	snap := cm.GetSnapshot()
	assert.Equal(t, snap.CurrentTokens, snap.Breakdown.Sum())
	assert.Greater(t, snap.Breakdown.SystemPrompt, 0)
	assert.Greater(t, snap.Breakdown.Tools, 0)
	assert.Greater(t, snap.Breakdown.Rules, 0)
	assert.Greater(t, snap.Breakdown.Messages, 0)
	assert.Equal(t, ThresholdNormal, snap.ThresholdLevel)
}

func TestAPIReportedTokensOverrideAndInvalidation(t *testing.T) {
	cm := newManager(t)
	cm.SetMessages([]eventcore.ReconstructedMessage{
		textMessage(eventcore.RoleUser, "short"),
	})

	heuristic := cm.GetCurrentTokens()
	cm.SetAPIReportedTokens(12345)
	assert.Equal(t, 12345, cm.GetCurrentTokens())

	// Replacing the store drops the stale API figure.
	cm.SetMessages([]eventcore.ReconstructedMessage{
		textMessage(eventcore.RoleUser, "short"),
	})
	assert.Equal(t, heuristic, cm.GetCurrentTokens())
}

func TestCodexFamilyPromptComposition(t *testing.T) {
	cm := New(Config{Provider: "openai", Model: "o3-mini", ContextLimit: 200000})
	cm.SetSystemPrompt("the full core prompt")
	assert.NotEqual(t, "the full core prompt", cm.SystemPrompt())
	assert.Contains(t, cm.SystemPrompt(), "tools")

	// Switching to a non-Codex model restores the core prompt.
	cm.SwitchModel("anthropic", "claude-sonnet-4")
	assert.Equal(t, "the full core prompt", cm.SystemPrompt())

	// And back.
	cm.SwitchModel("openai", "o4-mini")
	assert.NotEqual(t, "the full core prompt", cm.SystemPrompt())
}

func TestSwitchModel_ReResolvesLimit(t *testing.T) {
	cm := New(Config{Provider: "anthropic", Model: "claude-sonnet-4"})
	assert.Equal(t, 200000, cm.GetSnapshot().ContextLimit)

	cm.SwitchModel("google", "gemini-2.0-flash")
	assert.Equal(t, 1000000, cm.GetSnapshot().ContextLimit)
}

func TestConfirmCompaction_KeepsRecentTurns(t *testing.T) {
	cm := newManager(t)
	var messages []eventcore.ReconstructedMessage
	for i := 0; i < 10; i++ {
		messages = append(messages,
			textMessage(eventcore.RoleUser, fmt.Sprintf("question %d", i)),
			textMessage(eventcore.RoleAssistant, fmt.Sprintf("answer %d", i)),
		)
	}
	cm.SetMessages(messages)

	preview, err := cm.ConfirmCompaction(context.Background(), eventcore.NewStaticSummarizer(), ConfirmCompactionOptions{
		PreserveRecentTurns: 2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Summary)

	after := cm.Messages()
	// summary + ack + 2 preserved turns (4 messages)
	require.Len(t, after, 6)
	assert.Contains(t, after[0].Message.Content[0].Text, "[Context from earlier in this conversation]")
	assert.Equal(t, eventcore.RoleAssistant, after[1].Message.Role)
	assert.Equal(t, "question 8", after[2].Message.Content[0].Text)
	assert.Equal(t, "answer 9", after[5].Message.Content[0].Text)
}

func TestConfirmCompaction_EditedSummaryWins(t *testing.T) {
	cm := newManager(t)
	var messages []eventcore.ReconstructedMessage
	for i := 0; i < 8; i++ {
		messages = append(messages,
			textMessage(eventcore.RoleUser, fmt.Sprintf("q%d", i)),
			textMessage(eventcore.RoleAssistant, fmt.Sprintf("a%d", i)),
		)
	}
	cm.SetMessages(messages)

	preview, err := cm.ConfirmCompaction(context.Background(), eventcore.NewStaticSummarizer(), ConfirmCompactionOptions{
		EditedSummary:       "my hand-edited summary",
		PreserveRecentTurns: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "my hand-edited summary", preview.Summary)
	assert.Contains(t, cm.Messages()[0].Message.Content[0].Text, "my hand-edited summary")
}

func TestPreviewCompaction_NonMutating(t *testing.T) {
	cm := newManager(t)
	var messages []eventcore.ReconstructedMessage
	for i := 0; i < 10; i++ {
		messages = append(messages,
			textMessage(eventcore.RoleUser, fmt.Sprintf("q%d", i)),
			textMessage(eventcore.RoleAssistant, fmt.Sprintf("a%d", i)),
		)
	}
	cm.SetMessages(messages)

	preview, err := cm.PreviewCompaction(context.Background(), eventcore.NewStaticSummarizer())
	require.NoError(t, err)
	assert.Greater(t, preview.TokensBefore, 0)
	assert.Greater(t, preview.TokensAfter, 0)
	assert.Greater(t, preview.CompressionRatio, 0.0)
	assert.NotEmpty(t, preview.Summary)

	assert.Len(t, cm.Messages(), 20)
}

func TestClear(t *testing.T) {
	cm := newManager(t)
	cm.SetMessages([]eventcore.ReconstructedMessage{
		textMessage(eventcore.RoleUser, "something"),
	})
	cm.SetAPIReportedTokens(5000)

	cm.Clear()
	assert.Empty(t, cm.Messages())
	assert.Equal(t, cm.GetSnapshot().Breakdown.Sum(), cm.GetCurrentTokens())
}
