package contacts

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory contact store for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	contacts map[string]Contact
	members  map[string][]string // population_id -> contact ids
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{contacts: map[string]Contact{}, members: map[string][]string{}}
}

func (r *MemoryRepo) Put(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.ID] = c
}

// AddToPopulation registers contact ids as members; the population is created on first use.
func (r *MemoryRepo) AddToPopulation(populationID string, contactIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[populationID] = append(r.members[populationID], contactIDs...)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindByPhone(ctx context.Context, e164 string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.contacts))
	for id := range r.contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if r.contacts[id].Phone == e164 {
			return r.contacts[id], nil
		}
	}
	return Contact{}, ErrNotFound
}

func (r *MemoryRepo) ListByPopulation(ctx context.Context, populationID string) ([]Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.members[populationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Contact, 0, len(ids))
	for _, id := range ids {
		c, ok := r.contacts[id]
		if !ok || !c.Active || c.Unsubscribed {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) UpdateSMSConsent(ctx context.Context, id string, consent Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return ErrNotFound
	}
	c.SMSOptedOut = consent.OptedOut
	c.SMSOptOutKeyword = consent.Keyword
	if consent.OptedOut {
		at := consent.ChangedAt
		c.SMSOptedOutAt = &at
	} else {
		c.SMSOptedOutAt = nil
	}
	r.contacts[id] = c
	return nil
}
