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
package observability

// Standard span names for consistency across the session core.
// Use these constants instead of hardcoding strings.
const (
	// Event store spans
	SpanStoreCreateSession = "eventstore.create_session"
	SpanStoreAppend        = "eventstore.append"
	SpanStoreFork          = "eventstore.fork"
	SpanStoreRewind        = "eventstore.rewind"
	SpanStoreAncestors     = "eventstore.get_ancestors"
	SpanStoreMessagesAt    = "eventstore.get_messages_at"
	SpanStoreSearch        = "eventstore.search"
	SpanStoreSwitchModel   = "eventstore.switch_model"

	// Orchestrator spans
	SpanOrchCreateSession = "orchestrator.create_session"
	SpanOrchResumeSession = "orchestrator.resume_session"
	SpanOrchSendMessage   = "orchestrator.send_message"
	SpanOrchFork          = "orchestrator.fork"
	SpanOrchRewind        = "orchestrator.rewind"
	SpanOrchSwitchModel   = "orchestrator.switch_model"

	// Provider spans
	SpanProviderStream = "provider.stream"

	// Tool spans
	SpanToolExecute = "tool.execute"

	// Storage maintenance spans
	SpanMigration = "storage.migration"
	SpanBackup    = "storage.backup"
)

// Standard metric names for consistency.
const (
	MetricEventsAppended   = "events.appended.total"
	MetricSessionsCreated  = "sessions.created.total"
	MetricSessionsForked   = "sessions.forked.total"
	MetricSessionsRewound  = "sessions.rewound.total"
	MetricTurnsCompleted   = "turns.completed.total"
	MetricTurnsInterrupted = "turns.interrupted.total"

	MetricProviderCalls        = "provider.calls.total"
	MetricProviderLatency      = "provider.latency"
	MetricProviderTokensInput  = "provider.tokens.input"  // #nosec G101 -- not a credential, just metric name
	MetricProviderTokensOutput = "provider.tokens.output" // #nosec G101 -- not a credential, just metric name
	MetricProviderErrors       = "provider.errors.total"

	MetricToolExecutions = "tool.executions.total"
	MetricToolDuration   = "tool.duration"
	MetricToolErrors     = "tool.errors.total"

	MetricCompactions        = "context.compactions.total"
	MetricContextUtilization = "context.utilization"
)

// Standard attribute names for consistency.
// Use these constants for span and event attributes.
const (
	// Session/event context
	AttrSessionID   = "session.id"
	AttrWorkspaceID = "workspace.id"
	AttrEventID     = "event.id"
	AttrEventType   = "event.type"
	AttrTraceID     = "trace.id"
	AttrSpanID      = "span.id"

	// Provider attributes
	AttrProvider  = "provider.name"
	AttrModel     = "provider.model"
	AttrMaxTokens = "provider.max_tokens" // #nosec G101 -- not a credential, just attribute name

	// Tool attributes
	AttrToolName   = "tool.name"
	AttrToolCallID = "tool.call_id"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
	AttrErrorStack   = "error.stack"
)
