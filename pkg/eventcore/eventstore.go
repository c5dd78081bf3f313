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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coralweave/sessioncore/pkg/observability"
	"go.uber.org/zap"
)

// EventStore persists events, enforces the parent-chain invariant, and
// exposes append / ancestors / fork / rewind / getMessagesAt / search.
// It owns session head pointers and workspace/branch metadata.
type EventStore struct {
	conn        *Connection
	factory     *EventFactory
	reconstruct *MessageReconstructor
	tracer      observability.Tracer
	logger      *zap.Logger
}

// NewEventStore constructs an EventStore over an already-open Connection.
func NewEventStore(conn *Connection, tracer observability.Tracer, logger *zap.Logger) *EventStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{
		conn:        conn,
		factory:     NewEventFactory(),
		reconstruct: NewMessageReconstructor(),
		tracer:      tracer,
		logger:      logger,
	}
}

// CreateSessionOptions enumerates the inputs to CreateSession.
type CreateSessionOptions struct {
	WorkspacePath         string
	WorkingDirectory      string
	Model                 string
	Provider              string
	Title                 string
	SystemPrompt          string
	InitialReasoningLevel string
}

// CreateSession atomically upserts the workspace, inserts the session row,
// and inserts the root session.start event.
func (s *EventStore) CreateSession(ctx context.Context, opts CreateSessionOptions) (Session, Event, error) {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.create_session")
	defer s.tracer.EndSpan(span)

	var session Session
	var root Event

	err := s.conn.TransactionAsync(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ws, err := s.upsertWorkspace(ctx, tx, opts.WorkspacePath)
		if err != nil {
			return err
		}

		sessionID := NewSessionID()
		root = s.factory.NewSessionStart(sessionID, ws.ID, SessionStartPayload{
			Model:            opts.Model,
			Provider:         opts.Provider,
			WorkingDirectory: opts.WorkingDirectory,
			Title:            opts.Title,
			SystemPrompt:     opts.SystemPrompt,
			ReasoningLevel:   opts.InitialReasoningLevel,
		})

		if err := insertEvent(ctx, tx, root); err != nil {
			return err
		}

		now := nowISO8601()
		session = Session{
			ID:               sessionID,
			WorkspaceID:      ws.ID,
			RootEventID:      root.ID,
			HeadEventID:      root.ID,
			Status:           SessionActive,
			Title:            opts.Title,
			Model:            opts.Model,
			Provider:         opts.Provider,
			WorkingDirectory: opts.WorkingDirectory,
			EventCount:       1,
			MessageCount:     0,
			CreatedAt:        now,
			LastActivityAt:   now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, workspace_id, root_event_id, head_event_id, status, title, model, provider, working_directory, event_count, message_count, created_at, last_activity_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.WorkspaceID, session.RootEventID, session.HeadEventID, string(session.Status),
			session.Title, session.Model, session.Provider, session.WorkingDirectory,
			session.EventCount, session.MessageCount, session.CreatedAt, session.LastActivityAt)
		if err != nil {
			return fmt.Errorf("eventcore: insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, Event{}, err
	}
	return session, root, nil
}

func (s *EventStore) upsertWorkspace(ctx context.Context, tx *sql.Tx, path string) (Workspace, error) {
	var ws Workspace
	err := tx.QueryRowContext(ctx, `SELECT id, path, created_at FROM workspaces WHERE path = ?`, path).
		Scan(&ws.ID, &ws.Path, &ws.CreatedAt)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, fmt.Errorf("eventcore: lookup workspace: %w", err)
	}

	ws = Workspace{ID: NewWorkspaceID(), Path: path, CreatedAt: nowISO8601()}
	_, err = tx.ExecContext(ctx, `INSERT INTO workspaces (id, path, created_at) VALUES (?, ?, ?)`,
		ws.ID, ws.Path, ws.CreatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("eventcore: insert workspace: %w", err)
	}
	return ws, nil
}

// AppendOptions carries the inputs to Append.
type AppendOptions struct {
	SessionID string
	Type      EventType
	Payload   any
	ParentID  string // optional; defaults to session's current head
}

// Append inserts a new event chained from ParentID (or the session's
// current head if omitted), advances the session's head pointer, and bumps
// eventCount / messageCount as appropriate. Atomic.
func (s *EventStore) Append(ctx context.Context, opts AppendOptions) (Event, error) {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.append")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("event.type", string(opts.Type))

	var event Event
	err := s.conn.TransactionAsync(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var sess Session
		if err := loadSessionForUpdate(ctx, tx, opts.SessionID, &sess); err != nil {
			return err
		}
		if sess.Status == SessionEnded {
			return fmt.Errorf("eventcore: append to %s: %w", opts.SessionID, ErrSessionEnded)
		}

		parentID := opts.ParentID
		if parentID == "" {
			parentID = sess.HeadEventID
		}
		if !eventExists(ctx, tx, parentID) {
			return fmt.Errorf("eventcore: append: parent %s: %w", parentID, ErrParentMissing)
		}

		seq, err := nextSequence(ctx, tx, opts.SessionID)
		if err != nil {
			return err
		}

		event = s.factory.NewEvent(NewEventParams{
			ParentID:    parentID,
			SessionID:   opts.SessionID,
			WorkspaceID: sess.WorkspaceID,
			Type:        opts.Type,
			Sequence:    seq,
			Payload:     opts.Payload,
		})
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}

		msgDelta := int64(0)
		if conversationCounting[opts.Type] {
			msgDelta = 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET head_event_id = ?, event_count = event_count + 1, message_count = message_count + ?, last_activity_at = ?
			WHERE id = ?`,
			event.ID, msgDelta, event.Timestamp, opts.SessionID)
		if err != nil {
			return fmt.Errorf("eventcore: advance head: %w", err)
		}
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// ForkOptions carries the inputs to Fork.
type ForkOptions struct {
	Name   string
	Reason string
}

// Fork creates a new session whose root is a session.fork event chained
// from eventID (which may live in a different session). The new session
// inherits workspace/model/provider/workingDirectory from the fork point's
// session. Subsequent appends on the new session chain from the fork
// event; getAncestors transparently walks across the session boundary.
func (s *EventStore) Fork(ctx context.Context, eventID string, opts ForkOptions) (Session, Event, error) {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.fork")
	defer s.tracer.EndSpan(span)

	var newSession Session
	var root Event
	err := s.conn.TransactionAsync(ctx, func(ctx context.Context, tx *sql.Tx) error {
		forkPoint, err := getEventByID(ctx, tx, eventID)
		if err != nil {
			return err
		}

		var parentSession Session
		if err := loadSessionForUpdate(ctx, tx, forkPoint.SessionID, &parentSession); err != nil {
			return err
		}

		sessionID := NewSessionID()
		root = s.factory.NewSessionFork(sessionID, parentSession.WorkspaceID, eventID, SessionForkPayload{
			Name:   opts.Name,
			Reason: opts.Reason,
		})
		if err := insertEvent(ctx, tx, root); err != nil {
			return err
		}

		now := nowISO8601()
		newSession = Session{
			ID:               sessionID,
			WorkspaceID:      parentSession.WorkspaceID,
			RootEventID:      root.ID,
			HeadEventID:      root.ID,
			Status:           SessionActive,
			Title:            opts.Name,
			Model:            parentSession.Model,
			Provider:         parentSession.Provider,
			WorkingDirectory: parentSession.WorkingDirectory,
			EventCount:       1,
			MessageCount:     0,
			CreatedAt:        now,
			LastActivityAt:   now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, workspace_id, root_event_id, head_event_id, status, title, model, provider, working_directory, event_count, message_count, created_at, last_activity_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newSession.ID, newSession.WorkspaceID, newSession.RootEventID, newSession.HeadEventID, string(newSession.Status),
			newSession.Title, newSession.Model, newSession.Provider, newSession.WorkingDirectory,
			newSession.EventCount, newSession.MessageCount, newSession.CreatedAt, newSession.LastActivityAt)
		if err != nil {
			return fmt.Errorf("eventcore: insert forked session: %w", err)
		}

		branchID := NewBranchID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO branches (id, session_id, name, fork_event_id, head_event_id, message_count, created_at, last_activity_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			branchID, parentSession.ID, opts.Name, eventID, root.ID, now, now)
		if err != nil {
			return fmt.Errorf("eventcore: insert branch: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, Event{}, err
	}
	return newSession, root, nil
}

// Rewind sets a session's head to toEventID after verifying reachability
// from the current head via parent links. No events are deleted; future
// appends chain from the new head.
func (s *EventStore) Rewind(ctx context.Context, sessionID, toEventID string) error {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.rewind")
	defer s.tracer.EndSpan(span)

	return s.conn.TransactionAsync(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var sess Session
		if err := loadSessionForUpdate(ctx, tx, sessionID, &sess); err != nil {
			return err
		}

		ancestors, err := ancestorsTx(ctx, tx, sess.HeadEventID)
		if err != nil {
			return err
		}
		reachable := false
		for _, e := range ancestors {
			if e.ID == toEventID {
				reachable = true
				break
			}
		}
		if !reachable {
			return fmt.Errorf("eventcore: rewind %s to %s: %w", sessionID, toEventID, ErrNotReachable)
		}

		_, err = tx.ExecContext(ctx, `UPDATE sessions SET head_event_id = ?, last_activity_at = ? WHERE id = ?`,
			toEventID, nowISO8601(), sessionID)
		if err != nil {
			return fmt.Errorf("eventcore: rewind: %w", err)
		}
		return nil
	})
}

// GetAncestors follows parentId links root-ward from eventID and returns
// events ordered root → target. Complexity O(depth).
func (s *EventStore) GetAncestors(ctx context.Context, eventID string) ([]Event, error) {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.get_ancestors")
	defer s.tracer.EndSpan(span)

	var result []Event
	err := s.conn.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		result, err = ancestorsTx(ctx, tx, eventID)
		return err
	})
	return result, err
}

// ancestorsTx walks parent_id links from eventID to the root, collecting
// events, then reverses the walk order to produce root → target.
func ancestorsTx(ctx context.Context, tx *sql.Tx, eventID string) ([]Event, error) {
	var chain []Event
	current := eventID
	for current != "" {
		ev, err := getEventByID(ctx, tx, current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ev)
		current = ev.ParentID
	}
	// reverse in place: chain was collected target -> root.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// GetEventsBySession returns the chronological events persisted directly in
// sessionID (no cross-session ancestry), ordered by sequence.
func (s *EventStore) GetEventsBySession(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.conn.DB().QueryContext(ctx, `
		SELECT id, parent_id, session_id, workspace_id, type, timestamp, sequence, payload
		FROM events WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventcore: query session events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetMessagesAtHead reconstructs the message surface at a session's current
// head.
func (s *EventStore) GetMessagesAtHead(ctx context.Context, sessionID string) (ReconstructionResult, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return ReconstructionResult{}, err
	}
	return s.GetMessagesAt(ctx, sess.HeadEventID)
}

// GetMessagesAt reconstructs the message surface as of eventID.
func (s *EventStore) GetMessagesAt(ctx context.Context, eventID string) (ReconstructionResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.get_messages_at")
	defer s.tracer.EndSpan(span)

	ancestors, err := s.GetAncestors(ctx, eventID)
	if err != nil {
		return ReconstructionResult{}, err
	}
	return s.reconstruct.Reconstruct(ancestors), nil
}

// DeleteMessage appends a message.deleted event targeting eventID. The
// original row is never removed; reconstruction simply skips it. Targeting
// an event no longer on the active chain is a no-op, not an error.
func (s *EventStore) DeleteMessage(ctx context.Context, sessionID, eventID, reason string) (Event, error) {
	return s.Append(ctx, AppendOptions{
		SessionID: sessionID,
		Type:      EventMessageDeleted,
		Payload:   MessageDeletedPayload{TargetEventID: eventID, Reason: reason},
	})
}

// SearchOptions filters EventStore.Search.
type SearchOptions struct {
	Query     string
	SessionID string
	Type      EventType
	// After / Before bound the match window by event timestamp (ISO-8601,
	// compared lexically); either may be empty.
	After  string
	Before string
	Limit  int
	Offset int
}

// Search runs a full-text query with filters over event payloads, backed by
// the events_fts FTS5 virtual table.
func (s *EventStore) Search(ctx context.Context, opts SearchOptions) ([]Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT e.id, e.parent_id, e.session_id, e.workspace_id, e.type, e.timestamp, e.sequence, e.payload
		FROM events e JOIN events_fts f ON f.rowid = e.rowid
		WHERE events_fts MATCH ?`
	args := []any{opts.Query}
	if opts.SessionID != "" {
		query += " AND e.session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.Type != "" {
		query += " AND e.type = ?"
		args = append(args, string(opts.Type))
	}
	if opts.After != "" {
		query += " AND e.timestamp >= ?"
		args = append(args, opts.After)
	}
	if opts.Before != "" {
		query += " AND e.timestamp <= ?"
		args = append(args, opts.Before)
	}
	query += " ORDER BY e.sequence DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventcore: search: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetBranches returns the one-hop fork branches recorded for sessionID,
// oldest first, with metadata. The session's own main line is not included
// as an entry.
func (s *EventStore) GetBranches(ctx context.Context, sessionID string) ([]Branch, error) {
	rows, err := s.conn.DB().QueryContext(ctx, `
		SELECT id, session_id, name, fork_event_id, head_event_id, message_count, created_at, last_activity_at
		FROM branches WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventcore: query branches: %w", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Name, &b.ForkEventID, &b.HeadEventID, &b.MessageCount, &b.CreatedAt, &b.LastActivityAt); err != nil {
			return nil, fmt.Errorf("eventcore: scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// GetSession loads a session row by ID.
func (s *EventStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	var status string
	err := s.conn.DB().QueryRowContext(ctx, `
		SELECT id, workspace_id, root_event_id, head_event_id, status, title, model, provider, working_directory, event_count, message_count, created_at, last_activity_at
		FROM sessions WHERE id = ?`, sessionID).Scan(
		&sess.ID, &sess.WorkspaceID, &sess.RootEventID, &sess.HeadEventID, &status, &sess.Title,
		&sess.Model, &sess.Provider, &sess.WorkingDirectory, &sess.EventCount, &sess.MessageCount,
		&sess.CreatedAt, &sess.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("eventcore: get session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("eventcore: get session: %w", err)
	}
	sess.Status = SessionStatus(status)
	return sess, nil
}

// ListSessions returns sessions in a workspace, backing the session.list
// RPC method.
func (s *EventStore) ListSessions(ctx context.Context, workspaceID string) ([]Session, error) {
	rows, err := s.conn.DB().QueryContext(ctx, `
		SELECT id, workspace_id, root_event_id, head_event_id, status, title, model, provider, working_directory, event_count, message_count, created_at, last_activity_at
		FROM sessions WHERE workspace_id = ? ORDER BY last_activity_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("eventcore: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.WorkspaceID, &sess.RootEventID, &sess.HeadEventID, &status,
			&sess.Title, &sess.Model, &sess.Provider, &sess.WorkingDirectory, &sess.EventCount,
			&sess.MessageCount, &sess.CreatedAt, &sess.LastActivityAt); err != nil {
			return nil, fmt.Errorf("eventcore: scan session: %w", err)
		}
		sess.Status = SessionStatus(status)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListWorkspaces returns all known workspaces.
func (s *EventStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.conn.DB().QueryContext(ctx, `SELECT id, path, created_at FROM workspaces ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("eventcore: list workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Path, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventcore: scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SwitchModel atomically appends a config.model_switch event and updates
// the session row's model/provider columns so the row mirrors the event
// log's latest state.
func (s *EventStore) SwitchModel(ctx context.Context, sessionID, newModel, newProvider string) (Event, error) {
	ctx, span := s.tracer.StartSpan(ctx, "eventstore.switch_model")
	defer s.tracer.EndSpan(span)

	var event Event
	err := s.conn.TransactionAsync(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var sess Session
		if err := loadSessionForUpdate(ctx, tx, sessionID, &sess); err != nil {
			return err
		}
		var err error
		event, err = s.Append(ctx, AppendOptions{
			SessionID: sessionID,
			Type:      EventConfigModelSwitch,
			Payload: ConfigModelSwitchPayload{
				OldModel:    sess.Model,
				NewModel:    newModel,
				OldProvider: sess.Provider,
				NewProvider: newProvider,
			},
		})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET model = ?, provider = ? WHERE id = ?`,
			newModel, newProvider, sessionID)
		if err != nil {
			return fmt.Errorf("eventcore: update session model: %w", err)
		}
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// EndSession marks a session ended via a session.end event and flips its
// status; subsequent Append calls fail with ErrSessionEnded.
func (s *EventStore) EndSession(ctx context.Context, sessionID, reason string) error {
	return s.conn.TransactionAsync(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var sess Session
		if err := loadSessionForUpdate(ctx, tx, sessionID, &sess); err != nil {
			return err
		}
		seq, err := nextSequence(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		event := NewEventFactory().NewEvent(NewEventParams{
			ParentID:    sess.HeadEventID,
			SessionID:   sessionID,
			WorkspaceID: sess.WorkspaceID,
			Type:        EventSessionEnd,
			Sequence:    seq,
			Payload:     SessionEndPayload{Reason: reason},
		})
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET status = 'ended', head_event_id = ?, event_count = event_count + 1, last_activity_at = ? WHERE id = ?`,
			event.ID, event.Timestamp, sessionID)
		return err
	})
}

// --- low-level helpers shared across the public API ---

func insertEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("eventcore: marshal payload: %w", err)
	}

	var parentID any
	if e.ParentID != "" {
		parentID = e.ParentID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, parent_id, session_id, workspace_id, type, timestamp, sequence, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, parentID, e.SessionID, e.WorkspaceID, string(e.Type), e.Timestamp, e.Sequence, string(payload))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("eventcore: insert event %s: %w", e.ID, ErrIDCollision)
		}
		return fmt.Errorf("eventcore: insert event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite and go-sqlcipher both surface SQLite's standard
	// "UNIQUE constraint failed" text; matching on substring avoids a hard
	// dependency on either driver's specific error type.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func eventExists(ctx context.Context, tx *sql.Tx, id string) bool {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&one)
	return err == nil
}

func getEventByID(ctx context.Context, tx *sql.Tx, id string) (Event, error) {
	var e Event
	var parentID sql.NullString
	var payload string
	var typ string
	err := tx.QueryRowContext(ctx, `
		SELECT id, parent_id, session_id, workspace_id, type, timestamp, sequence, payload
		FROM events WHERE id = ?`, id).
		Scan(&e.ID, &parentID, &e.SessionID, &e.WorkspaceID, &typ, &e.Timestamp, &e.Sequence, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("eventcore: event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return Event{}, fmt.Errorf("eventcore: get event: %w", err)
	}
	e.ParentID = parentID.String
	e.Type = EventType(typ)
	e.RawPayload = json.RawMessage(payload)
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var parentID sql.NullString
		var payload, typ string
		if err := rows.Scan(&e.ID, &parentID, &e.SessionID, &e.WorkspaceID, &typ, &e.Timestamp, &e.Sequence, &payload); err != nil {
			return nil, fmt.Errorf("eventcore: scan event: %w", err)
		}
		e.ParentID = parentID.String
		e.Type = EventType(typ)
		e.RawPayload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nextSequence(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE session_id = ?`, sessionID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("eventcore: compute next sequence: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64 + 1, nil
}

func loadSessionForUpdate(ctx context.Context, tx *sql.Tx, sessionID string, out *Session) error {
	var status string
	err := tx.QueryRowContext(ctx, `
		SELECT id, workspace_id, root_event_id, head_event_id, status, title, model, provider, working_directory, event_count, message_count, created_at, last_activity_at
		FROM sessions WHERE id = ?`, sessionID).Scan(
		&out.ID, &out.WorkspaceID, &out.RootEventID, &out.HeadEventID, &status, &out.Title,
		&out.Model, &out.Provider, &out.WorkingDirectory, &out.EventCount, &out.MessageCount,
		&out.CreatedAt, &out.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("eventcore: session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("eventcore: load session: %w", err)
	}
	out.Status = SessionStatus(status)
	return nil
}
