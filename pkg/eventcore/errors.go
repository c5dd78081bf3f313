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

import "errors"

// Sentinel errors for the closed error-kind taxonomy of this package.
// Callers use errors.Is against these; EventStore never swallows an error,
// it always either returns one of these (wrapped with context) or nil.
var (
	// ErrParentMissing is returned when an event's parentId does not
	// reference an existing event (a consistency error).
	ErrParentMissing = errors.New("eventcore: parent event not found")

	// ErrSessionNotFound is returned when a sessionId does not resolve to
	// an existing session row (a state error).
	ErrSessionNotFound = errors.New("eventcore: session not found")

	// ErrSessionEnded is returned when a mutating call targets a session
	// whose status is "ended".
	ErrSessionEnded = errors.New("eventcore: session has ended")

	// ErrWorkspaceNotFound is returned when a workspaceId does not resolve.
	ErrWorkspaceNotFound = errors.New("eventcore: workspace not found")

	// ErrIDCollision is returned on the rare occasion a generated ID
	// collides with an existing row; callers may retry.
	ErrIDCollision = errors.New("eventcore: id collision, retry")

	// ErrEventNotFound is returned when an eventId does not resolve.
	ErrEventNotFound = errors.New("eventcore: event not found")

	// ErrNotReachable is returned by Rewind when the target event is not
	// reachable from the session's current head via parent links.
	ErrNotReachable = errors.New("eventcore: target event not reachable from current head")

	// ErrInvalidOption is a validation error for malformed call options.
	ErrInvalidOption = errors.New("eventcore: invalid option")

	// ErrAlreadyInPlanMode / ErrNotInPlanMode mirror the RPC error codes
	// for the orchestrator's plan-mode state machine.
	ErrAlreadyInPlanMode = errors.New("eventcore: session already in plan mode")
	ErrNotInPlanMode     = errors.New("eventcore: session not in plan mode")

	// ErrToolBlocked is returned when a tool invocation is attempted while
	// plan mode blocks it.
	ErrToolBlocked = errors.New("eventcore: tool blocked by active plan mode")

	// ErrCannotAcceptTurn is returned by admission control when the context
	// is at critical/exceeded utilization.
	ErrCannotAcceptTurn = errors.New("eventcore: context at or above critical threshold, cannot accept turn")

	// ErrUnknownModel is returned when switching to a model the core has no
	// provider/context-limit mapping for.
	ErrUnknownModel = errors.New("eventcore: unknown model")
)
