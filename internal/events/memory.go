package events

import (
	"context"
	"sync"
)

// Memory keeps published events in process, for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory constructs an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish implements Sink.
func (m *Memory) Publish(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType filters published events by type.
func (m *Memory) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range m.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// Reset forgets published events.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
