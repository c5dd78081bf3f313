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

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockTracer captures every ended span so tests can assert which store and
// orchestrator operations were traced, and with which attributes. Safe for
// concurrent use.
type MockTracer struct {
	mu    sync.RWMutex
	spans []*Span
	seq   atomic.Int64
}

// NewMockTracer creates a capturing tracer for tests.
func NewMockTracer() *MockTracer {
	return &MockTracer{
		spans: make([]*Span, 0),
	}
}

// StartSpan creates a new span, linked to any parent already in ctx.
func (m *MockTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	n := m.seq.Add(1)
	span := &Span{
		TraceID:    fmt.Sprintf("trace-%d", n),
		SpanID:     fmt.Sprintf("span-%d", n),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
		Events:     make([]Event, 0),
	}

	for _, opt := range opts {
		opt(span)
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	return ContextWithSpan(ctx, span), span
}

// EndSpan stamps the span's end time and captures it.
func (m *MockTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, span)
}

// RecordMetric is accepted but not captured.
func (m *MockTracer) RecordMetric(name string, value float64, labels map[string]string) {}

// RecordEvent is accepted but not captured.
func (m *MockTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

// Flush is a no-op.
func (m *MockTracer) Flush(ctx context.Context) error {
	return nil
}

// Spans returns a copy of all captured spans.
func (m *MockTracer) Spans() []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()

	spans := make([]*Span, len(m.spans))
	copy(spans, m.spans)
	return spans
}

// Reset clears all captured spans.
func (m *MockTracer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = make([]*Span, 0)
}

// SpanByName finds the first captured span with the given name, or nil.
func (m *MockTracer) SpanByName(name string) *Span {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, span := range m.spans {
		if span.Name == name {
			return span
		}
	}
	return nil
}

// SpansByName finds all captured spans with the given name.
func (m *MockTracer) SpansByName(name string) []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Span, 0)
	for _, span := range m.spans {
		if span.Name == name {
			result = append(result, span)
		}
	}
	return result
}

var _ Tracer = (*MockTracer)(nil)
