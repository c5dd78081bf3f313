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
	"time"

	"github.com/google/uuid"
)

// ID prefixes. IDs are opaque at the boundary; only
// equality matters semantically, but the prefix makes logs and traces
// readable at a glance.
const (
	prefixEvent     = "evt_"
	prefixSession   = "sess_"
	prefixWorkspace = "ws_"
	prefixBranch    = "br_"
)

// newID returns a branded random ID. Uniqueness is guaranteed per-call;
// UUID v4 collisions are rare enough that the unique constraint on insert,
// not this function, is the backstop.
func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewEventID generates a unique event ID.
func NewEventID() string { return newID(prefixEvent) }

// NewSessionID generates a unique session ID.
func NewSessionID() string { return newID(prefixSession) }

// NewWorkspaceID generates a unique workspace ID.
func NewWorkspaceID() string { return newID(prefixWorkspace) }

// NewBranchID generates a unique branch ID.
func NewBranchID() string { return newID(prefixBranch) }

// nowISO8601 returns the current time as an ISO-8601 string,
// with sub-second precision preserved so
// two events created in the same millisecond still sort by sequence, not
// timestamp collision.
func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// EventFactory deterministically constructs Event records: unique IDs,
// monotone sequence (assigned by the caller, typically EventStore, which
// knows the session's current max), ISO-8601 timestamps, and bound
// session/workspace identifiers.
//
// EventFactory is pure construction — it does not touch the database. The
// factory guarantees per-call ID uniqueness but not cross-process
// uniqueness; EventStore.append relies on the unique constraint on
// events.id as the final backstop (ErrIDCollision).
type EventFactory struct{}

// NewEventFactory returns an EventFactory. It carries no state.
func NewEventFactory() *EventFactory { return &EventFactory{} }

// NewEventParams bundles the inputs to construct a single event record.
type NewEventParams struct {
	ParentID    string // empty only for session.start
	SessionID   string
	WorkspaceID string
	Type        EventType
	Sequence    int64
	Payload     any
	Timestamp   string // optional override, mainly for tests/replay; defaults to now
}

// NewEvent constructs an Event record with a freshly generated ID.
func (f *EventFactory) NewEvent(p NewEventParams) Event {
	ts := p.Timestamp
	if ts == "" {
		ts = nowISO8601()
	}
	return Event{
		ID:          NewEventID(),
		ParentID:    p.ParentID,
		SessionID:   p.SessionID,
		WorkspaceID: p.WorkspaceID,
		Type:        p.Type,
		Timestamp:   ts,
		Sequence:    p.Sequence,
		Payload:     p.Payload,
	}
}

// NewSessionStart builds the root event of a new session: sequence 0,
// parentId empty.
func (f *EventFactory) NewSessionStart(sessionID, workspaceID string, payload SessionStartPayload) Event {
	return f.NewEvent(NewEventParams{
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Type:        EventSessionStart,
		Sequence:    0,
		Payload:     payload,
	})
}

// NewSessionFork builds the root event of a forked session: it chains from
// the fork-point event (which may live in a different session) rather than
// being parentless.
func (f *EventFactory) NewSessionFork(sessionID, workspaceID, forkPointEventID string, payload SessionForkPayload) Event {
	return f.NewEvent(NewEventParams{
		ParentID:    forkPointEventID,
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Type:        EventSessionFork,
		Sequence:    0,
		Payload:     payload,
	})
}
