package distribution

import (
	"context"
	"sync"

	"delivery-engine/internal/contacts"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu            sync.Mutex
	distributions map[string]Distribution
	recipients    map[string][]Recipient // distribution id -> recipients
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{distributions: map[string]Distribution{}, recipients: map[string][]Recipient{}}
}

func (r *MemoryRepo) Create(ctx context.Context, d *Distribution, recipients []Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, existing := range r.distributions {
		sameScope := existing.CampaignID == d.CampaignID
		if d.CampaignID == "" {
			sameScope = existing.CampaignID == "" && existing.PopulationID == d.PopulationID
		}
		if sameScope && existing.Number > n {
			n = existing.Number
		}
	}
	d.Number = n + 1
	r.distributions[d.ID] = *d
	r.recipients[d.ID] = append([]Recipient(nil), recipients...)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.distributions[id]
	if !ok {
		return Distribution{}, ErrNotFound
	}
	return d, nil
}

func (r *MemoryRepo) ListRecipients(ctx context.Context, distributionID string) ([]Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recipient(nil), r.recipients[distributionID]...), nil
}

func (r *MemoryRepo) UpdateRecipientStates(ctx context.Context, ch contacts.Channel, updates []StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		for id, list := range r.recipients {
			for i := range list {
				if list[i].ID == u.RecipientID {
					list[i].setState(ch, u.State)
				}
			}
			r.recipients[id] = list
		}
	}
	return nil
}

func (r *MemoryRepo) SetTotalDelivered(ctx context.Context, id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.distributions[id]
	if !ok {
		return ErrNotFound
	}
	d.TotalDelivered = n
	r.distributions[id] = d
	return nil
}

func (r *MemoryRepo) GetRecipientByToken(ctx context.Context, token string) (Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.recipients {
		for _, rc := range list {
			if rc.Token == token {
				return rc, nil
			}
		}
	}
	return Recipient{}, ErrNotFound
}
