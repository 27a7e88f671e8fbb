package event

import (
	"context"
	"sync"

	"github.com/louiesdad/datacloak-workbench-sub000/id"
)

// subscriberBuffer is the per-subscriber channel depth. A terminal
// transition is one event; the buffer absorbs the preceding
// running/retry transitions without blocking the publisher.
const subscriberBuffer = 8

// Memory is the in-process Broadcaster used by the memory scheduler:
// direct callback-free channel fan-out, no external store.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
	closed bool
}

// NewMemory creates an in-process broadcaster.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers evt to every subscriber of evt.JobID without
// blocking; a full subscriber channel drops the event.
func (m *Memory) Publish(_ context.Context, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	for _, ch := range m.subs[evt.JobID.String()] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a waiter for one job's events.
func (m *Memory) Subscribe(jobID id.ID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		close(ch)
		return ch, func() {}
	}

	key := jobID.String()
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan Event)
	}
	m.nextID++
	token := m.nextID
	m.subs[key][token] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if chans, ok := m.subs[key]; ok {
			delete(chans, token)
			if len(chans) == 0 {
				delete(m.subs, key)
			}
		}
	}
	return ch, cancel
}

// Close drops all subscriptions. Subsequent publishes are no-ops.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	m.subs = make(map[string]map[int]chan Event)
	return nil
}
