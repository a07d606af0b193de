package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu            sync.Mutex
	messages      map[string]Message
	order         []string
	conversations map[string]Conversation
	byContact     map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		messages:      map[string]Message{},
		conversations: map[string]Conversation{},
		byContact:     map[string]string{},
	}
}

func (r *MemoryRepo) InsertMessage(ctx context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ContactID != "" {
		id, ok := r.byContact[m.ContactID]
		if !ok {
			id = uuid.NewString()
			r.byContact[m.ContactID] = id
		}
		c := r.conversations[id]
		c.ID = id
		c.ContactID = m.ContactID
		c.LastMessageBody = m.Body
		at := m.CreatedAt
		c.LastMessageAt = &at
		c.LastMessageDirection = m.Direction
		if m.Direction == DirectionInbound {
			c.UnreadCount++
		}
		r.conversations[id] = c
		m.ConversationID = id
	}
	r.messages[m.ID] = *m
	r.order = append(r.order, m.ID)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, providerMessageID string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.messages[r.order[i]]
		if providerMessageID != "" && m.ProviderMessageID == providerMessageID {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, c StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[c.MessageID]
	if !ok || m.Status != c.From {
		return false, nil
	}
	c.applyTo(&m)
	r.messages[m.ID] = m
	return true, nil
}

func (r *MemoryRepo) MarkConversationRead(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	c.UnreadCount = 0
	r.conversations[conversationID] = c
	return nil
}

func (r *MemoryRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return c, nil
}

// Messages returns every stored message in insertion order.
func (r *MemoryRepo) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.messages[id])
	}
	return out
}
