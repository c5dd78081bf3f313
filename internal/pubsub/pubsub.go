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

// Package pubsub provides the broadcast channel between the session
// orchestrator and its external subscribers (gateway, TUI, observers).
// Subscribers receive Envelope values for session lifecycle, agent turns,
// context changes, and browser frames. Transport is watermill's in-process
// gochannel pub/sub.
package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// BroadcastType names one kind of broadcast envelope.
type BroadcastType string

const (
	SessionCreated      BroadcastType = "session_created"
	SessionEnded        BroadcastType = "session_ended"
	SessionForked       BroadcastType = "session_forked"
	SessionRewound      BroadcastType = "session_rewound"
	AgentTurn           BroadcastType = "agent_turn"
	AgentEvent          BroadcastType = "agent_event"
	EventNew            BroadcastType = "event_new"
	ContextCleared      BroadcastType = "context_cleared"
	CompactionCompleted BroadcastType = "compaction_completed"
	SkillRemoved        BroadcastType = "skill_removed"
	MemoryUpdated       BroadcastType = "memory_updated"
	TodosUpdated        BroadcastType = "todos_updated"
	BrowserFrame        BroadcastType = "browser.frame"
	BrowserClosed       BroadcastType = "browser.closed"
)

// allTopic is the catch-all topic every envelope is mirrored to, backing
// SubscribeAll.
const allTopic = "__all__"

// Envelope is the unit subscribers receive.
type Envelope struct {
	Type      BroadcastType `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Timestamp string        `json:"timestamp"`
	Payload   any           `json:"payload,omitempty"`
}

// Subscriber is a callback receiving envelopes. It runs on the broker's
// dispatch goroutine for its subscription; slow subscribers should hand off
// to their own queue.
type Subscriber func(Envelope)

// Broker fans broadcast envelopes out to subscribers. Safe for concurrent
// use.
type Broker struct {
	mu     sync.Mutex
	pubsub *gochannel.GoChannel
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
	closed bool
}

// NewBroker returns a running Broker.
func NewBroker() *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish delivers env to subscribers of its type and to SubscribeAll
// subscribers. The envelope's timestamp is stamped here if the caller left
// it empty.
func (b *Broker) Publish(env Envelope) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	for _, topic := range []string{string(env.Type), allTopic} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		_ = b.pubsub.Publish(topic, msg)
	}
}

// Subscribe registers fn for one broadcast type. The returned function
// cancels the subscription.
func (b *Broker) Subscribe(t BroadcastType, fn Subscriber) func() {
	return b.subscribeTopic(string(t), fn)
}

// SubscribeAll registers fn for every broadcast type.
func (b *Broker) SubscribeAll(fn Subscriber) func() {
	return b.subscribeTopic(allTopic, fn)
}

func (b *Broker) subscribeTopic(topic string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	subCtx, subCancel := context.WithCancel(b.ctx)
	ch, err := b.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		subCancel()
		return func() {}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err == nil {
				fn(env)
			}
			msg.Ack()
		}
	}()
	return subCancel
}

// Close shuts the broker down; pending deliveries are dropped and all
// subscriptions end.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
