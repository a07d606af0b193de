package campaign

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: map[string]Campaign{}}
}

func (r *MemoryRepo) Put(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if c.Status == StatusActive && c.NextSendAt != nil && !c.NextSendAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextSendAt.Before(*out[j].NextSendAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) casDue(id string, prev time.Time) (Campaign, bool) {
	c, ok := r.campaigns[id]
	if !ok || c.Status != StatusActive || c.NextSendAt == nil || !c.NextSendAt.Equal(prev) {
		return Campaign{}, false
	}
	return c, true
}

func (r *MemoryRepo) Advance(ctx context.Context, id string, prev, next time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.casDue(id, prev)
	if !ok {
		return false, nil
	}
	c.NextSendAt = &next
	r.campaigns[id] = c
	return true, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id string, prev time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.casDue(id, prev)
	if !ok {
		return false, nil
	}
	c.Status = StatusCompleted
	c.NextSendAt = nil
	r.campaigns[id] = c
	return true, nil
}

func (r *MemoryRepo) RecordDistribution(ctx context.Context, id string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalDistributions++
	c.LastSentAt = &sentAt
	r.campaigns[id] = c
	return nil
}
