package weeklock

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]LockRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]LockRecord{}} }

func (r *MemoryRepo) Put(rec LockRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[weekKey(rec.WeekStart)] = rec
}

func (r *MemoryRepo) Get(ctx context.Context, weekStart time.Time) (LockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[weekKey(weekStart)]
	if !ok {
		return LockRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) MarkLocked(ctx context.Context, weekStart, lockedAt, graceEndsAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := weekKey(weekStart)
	rec, ok := r.records[k]
	if !ok {
		rec = LockRecord{WeekStart: weekStart}
	}
	rec.InGracePeriod = true
	rec.GracePeriodEndsAt = &graceEndsAt
	if rec.LockedAt == nil {
		rec.LockedAt = &lockedAt
	}
	r.records[k] = rec
	return nil
}

func (r *MemoryRepo) ClaimEmail(ctx context.Context, weekStart time.Time, kind EmailKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := weekKey(weekStart)
	rec, ok := r.records[k]
	if !ok {
		rec = LockRecord{WeekStart: weekStart}
	}
	if rec.emailSent(kind) {
		return false, nil
	}
	if kind == EmailSummary {
		rec.SummaryEmailSent = true
	} else {
		rec.ReminderEmailSent = true
	}
	r.records[k] = rec
	return true, nil
}

func (r *MemoryRepo) EndGrace(ctx context.Context, weekStart time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := weekKey(weekStart)
	rec, ok := r.records[k]
	if !ok || !rec.InGracePeriod {
		return false, nil
	}
	rec.InGracePeriod = false
	r.records[k] = rec
	return true, nil
}
