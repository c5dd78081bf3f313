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
package orchestrator

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/coralweave/sessioncore/internal/pubsub"
	"github.com/coralweave/sessioncore/pkg/eventcore"
)

// planState tracks an active plan-mode phase: the skill that entered it and
// the tool set it blocks.
type planState struct {
	skillName    string
	blockedTools []string
}

// EnterPlanModeOptions carries the inputs to EnterPlanMode.
type EnterPlanModeOptions struct {
	SkillName string
	// BlockedTools overrides the configured default blocked set when
	// non-empty. Entries may be exact names or doublestar glob patterns.
	BlockedTools []string
}

// ExitPlanModeOptions carries the inputs to ExitPlanMode.
type ExitPlanModeOptions struct {
	Reason   string
	PlanPath string
}

// EnterPlanMode persists a plan.mode_entered event and activates tool
// blocking for the session.
func (o *Orchestrator) EnterPlanMode(ctx context.Context, sessionID string, opts EnterPlanModeOptions) error {
	st, err := o.state(sessionID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if st.plan != nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: session %s: %w", sessionID, eventcore.ErrAlreadyInPlanMode)
	}
	o.mu.Unlock()

	blocked := opts.BlockedTools
	if len(blocked) == 0 {
		blocked = o.cfg.BlockedTools
	}

	event, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventPlanModeEntered,
		Payload: eventcore.PlanModeEnteredPayload{
			SkillName:    opts.SkillName,
			BlockedTools: blocked,
		},
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	st.plan = &planState{skillName: opts.SkillName, blockedTools: blocked}
	o.mu.Unlock()

	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})
	return nil
}

// ExitPlanMode persists a plan.mode_exited event and lifts tool blocking.
func (o *Orchestrator) ExitPlanMode(ctx context.Context, sessionID string, opts ExitPlanModeOptions) error {
	st, err := o.state(sessionID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if st.plan == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: session %s: %w", sessionID, eventcore.ErrNotInPlanMode)
	}
	o.mu.Unlock()

	event, err := o.store.Append(ctx, eventcore.AppendOptions{
		SessionID: sessionID,
		Type:      eventcore.EventPlanModeExited,
		Payload: eventcore.PlanModeExitedPayload{
			Reason:   opts.Reason,
			PlanPath: opts.PlanPath,
		},
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	st.plan = nil
	o.mu.Unlock()

	o.broker.Publish(pubsub.Envelope{Type: pubsub.EventNew, SessionID: sessionID, Payload: event})
	return nil
}

// IsToolBlocked reports whether plan mode currently blocks toolName for the
// session. The second return value is a caller-facing refusal message
// naming the tool, the skill, and the approval mechanism; it is empty when
// the tool is not blocked.
func (o *Orchestrator) IsToolBlocked(sessionID, toolName string) (bool, string) {
	st, err := o.state(sessionID)
	if err != nil {
		return false, ""
	}

	o.mu.Lock()
	plan := st.plan
	o.mu.Unlock()
	if plan == nil {
		return false, ""
	}

	for _, pattern := range plan.blockedTools {
		if pattern == toolName {
			return true, planBlockMessage(toolName, plan.skillName)
		}
		if matched, err := doublestar.Match(pattern, toolName); err == nil && matched {
			return true, planBlockMessage(toolName, plan.skillName)
		}
	}
	return false, ""
}

func planBlockMessage(toolName, skillName string) string {
	return fmt.Sprintf("Tool %q is blocked while plan mode is active (skill %q). Exit plan mode with an approved plan to run it.", toolName, skillName)
}

// recoverPlanState scans the ancestor chain for the last plan.mode_entered
// not followed by a plan.mode_exited, rebuilding plan-mode state on resume.
func recoverPlanState(ancestors []eventcore.Event) *planState {
	var active *planState
	for _, ev := range ancestors {
		switch ev.Type {
		case eventcore.EventPlanModeEntered:
			var p eventcore.PlanModeEnteredPayload
			if err := ev.DecodePayload(&p); err == nil {
				active = &planState{skillName: p.SkillName, blockedTools: p.BlockedTools}
			}
		case eventcore.EventPlanModeExited:
			active = nil
		}
	}
	return active
}
