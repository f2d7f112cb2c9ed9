// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	b := New[int]()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Publish(7)

	assert.Equal(t, 7, <-s1.C())
	assert.Equal(t, 7, <-s2.C())
	assert.Equal(t, 2, b.Len())
}

func TestPublish_ConflatesToLatest(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	assert.Equal(t, 5, <-sub.C())
	select {
	case v := <-sub.C():
		t.Fatalf("expected no backlog, got %d", v)
	default:
	}
}

func TestPublish_NeverBlocks(t *testing.T) {
	b := New[string]()
	_ = b.Subscribe() // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("state")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on an unread subscription")
	}
}

func TestSubscription_Close(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe()

	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, b.Len())

	b.Publish(1) // must not panic on a closed subscription
}

func TestBroadcaster_Close(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe()

	b.Close()
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing after close yields a closed channel")

	b.Publish(3)
	sub.Close()
}

func TestPublish_ConcurrentSubscribers(t *testing.T) {
	b := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sub := b.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for v := range sub.C() {
				assert.GreaterOrEqual(t, v, last, "values must not go backwards")
				last = v
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		b.Publish(i)
	}
	b.Close()
	wg.Wait()
}
