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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewEventID(), "evt_"))
	assert.True(t, strings.HasPrefix(NewSessionID(), "sess_"))
	assert.True(t, strings.HasPrefix(NewWorkspaceID(), "ws_"))
	assert.True(t, strings.HasPrefix(NewBranchID(), "br_"))
}

func TestIDUniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestEventFactory(t *testing.T) {
	f := NewEventFactory()

	start := f.NewSessionStart("sess_1", "ws_1", SessionStartPayload{Model: "m"})
	assert.Equal(t, EventSessionStart, start.Type)
	assert.Empty(t, start.ParentID)
	assert.Equal(t, int64(0), start.Sequence)
	assert.NotEmpty(t, start.Timestamp)

	fork := f.NewSessionFork("sess_2", "ws_1", start.ID, SessionForkPayload{Name: "alt"})
	assert.Equal(t, EventSessionFork, fork.Type)
	assert.Equal(t, start.ID, fork.ParentID)
	assert.Equal(t, int64(0), fork.Sequence)

	ev := f.NewEvent(NewEventParams{
		ParentID:  fork.ID,
		SessionID: "sess_2",
		Type:      EventMessageUser,
		Sequence:  1,
		Timestamp: "2026-01-01T00:00:00Z",
	})
	assert.Equal(t, "2026-01-01T00:00:00Z", ev.Timestamp)
	assert.NotEqual(t, fork.ID, ev.ID)
}
