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
package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, b *Broker, topic BroadcastType) (*[]Envelope, *sync.Mutex, func()) {
	t.Helper()
	var mu sync.Mutex
	got := []Envelope{}
	var unsub func()
	if topic == "" {
		unsub = b.SubscribeAll(func(e Envelope) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	} else {
		unsub = b.Subscribe(topic, func(e Envelope) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	}
	return &got, &mu, unsub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	defer b.Close() //nolint:errcheck

	got, mu, unsub := collect(t, b, SessionCreated)
	defer unsub()

	b.Publish(Envelope{Type: SessionCreated, SessionID: "sess_1"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, SessionCreated, (*got)[0].Type)
	assert.Equal(t, "sess_1", (*got)[0].SessionID)
	assert.NotEmpty(t, (*got)[0].Timestamp)
}

func TestBroker_TypeFiltering(t *testing.T) {
	b := NewBroker()
	defer b.Close() //nolint:errcheck

	created, cmu, unsub1 := collect(t, b, SessionCreated)
	defer unsub1()
	all, amu, unsub2 := collect(t, b, "")
	defer unsub2()

	b.Publish(Envelope{Type: SessionCreated, SessionID: "sess_1"})
	b.Publish(Envelope{Type: EventNew, SessionID: "sess_1"})
	b.Publish(Envelope{Type: SessionEnded, SessionID: "sess_1"})

	waitFor(t, func() bool {
		amu.Lock()
		defer amu.Unlock()
		return len(*all) == 3
	})

	cmu.Lock()
	defer cmu.Unlock()
	require.Len(t, *created, 1)
	assert.Equal(t, SessionCreated, (*created)[0].Type)
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker()
	defer b.Close() //nolint:errcheck

	got, mu, unsub := collect(t, b, EventNew)

	b.Publish(Envelope{Type: EventNew})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 1
	})

	unsub()
	time.Sleep(20 * time.Millisecond)
	b.Publish(Envelope{Type: EventNew})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, *got, 1)
}

func TestBroker_PublishAfterClose(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Close())

	// Must not panic or deadlock.
	b.Publish(Envelope{Type: EventNew})
	unsub := b.Subscribe(EventNew, func(Envelope) {})
	unsub()
}
