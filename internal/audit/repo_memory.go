package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in append order. Used by tests and local runs without a database.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every event, optionally filtered to the given types.
func (r *MemoryRepo) Events(types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if len(types) == 0 || hasType(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

func hasType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
