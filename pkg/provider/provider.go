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

// Package provider declares the streaming interface the core consumes from
// each LLM provider and hosts the per-provider message converters that
// translate the reconstructed toolResult canonical form into each
// provider's native wire shape. Apart from the Anthropic streaming client
// in the anthropic subpackage, the HTTP clients behind Stream are external
// collaborators; this package only defines the boundary.
package provider

import (
	"context"

	"github.com/coralweave/sessioncore/pkg/eventcore"
)

// StreamEventType enumerates the kinds of events a provider stream emits.
type StreamEventType string

const (
	StreamStart         StreamEventType = "start"
	StreamTextStart     StreamEventType = "text_start"
	StreamTextDelta     StreamEventType = "text_delta"
	StreamTextEnd       StreamEventType = "text_end"
	StreamThinkingStart StreamEventType = "thinking_start"
	StreamThinkingDelta StreamEventType = "thinking_delta"
	StreamThinkingEnd   StreamEventType = "thinking_end"
	StreamToolCallStart StreamEventType = "toolcall_start"
	StreamToolCallDelta StreamEventType = "toolcall_delta"
	StreamToolCallEnd   StreamEventType = "toolcall_end"
	StreamDone          StreamEventType = "done"
	StreamError         StreamEventType = "error"
	StreamSafetyBlock   StreamEventType = "safety_block"
)

// StreamEvent is one unit of a provider's streaming response.
// Only the fields relevant to Type are populated.
type StreamEvent struct {
	Type StreamEventType

	// text_delta / thinking_delta
	Delta string

	// toolcall_start / toolcall_delta / toolcall_end
	ToolCallID string
	ToolName   string
	ArgsDelta  string // raw JSON fragment, accumulated by the caller

	// done
	Done       *DoneInfo
	Error      error
	SafetyInfo string
}

// DoneInfo carries the terminal payload of a stream's "done" event.
type DoneInfo struct {
	Content    []eventcore.ContentBlock
	Usage      eventcore.Usage
	StopReason string
}

// StreamOptions carries the inputs to Provider.Stream.
type StreamOptions struct {
	Model          string
	SystemPrompt   string
	Messages       []eventcore.ReconstructedMessage
	Tools          []ToolDefinition
	ReasoningLevel string
	MaxTokens      int
}

// ToolDefinition is a provider-agnostic tool schema, converted to each
// provider's native tool-param shape by the adapters in this package's
// subpackages.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Provider is the interface the core consumes from each LLM backend.
// anthropic.Client implements it in this module; the OpenAI and Google
// subpackages hold converters only, with no Provider implementation.
type Provider interface {
	// Stream drives one assistant turn, emitting StreamEvent values on ch
	// until the turn completes (a "done" event) or fails (an "error"
	// event). Implementations must close ch when finished.
	Stream(ctx context.Context, opts StreamOptions, ch chan<- StreamEvent) error
}

// Name identifies a supported provider family.
type Name string

const (
	Anthropic Name = "anthropic"
	OpenAI    Name = "openai"
	Google    Name = "google"
)
