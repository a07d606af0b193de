// Package audit keeps the internal, append-only trail of consent changes and operator actions.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"delivery-engine/internal/auth"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. These records are not exposed through the operator API.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	if e.ActorUserID == "" {
		e.ActorUserID, _ = auth.UserID(ctx)
	}
	if e.ActorRole == "" {
		e.ActorRole, _ = auth.Role(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogConsentChange records an SMS consent change made by an inbound keyword.
func (s *Service) LogConsentChange(ctx context.Context, contactID, keyword string, optedOut bool) error {
	if contactID == "" {
		return ErrInvalidEvent
	}
	msg := "sms opt-in"
	if optedOut {
		msg = "sms opt-out"
	}
	meta, _ := json.Marshal(map[string]any{"keyword": keyword, "sms_opted_out": optedOut})
	return s.Append(ctx, Event{
		Type:      EventTypeConsentChanged,
		ContactID: contactID,
		Message:   msg,
		Metadata:  string(meta),
	})
}

// LogOperatorAction records an action taken through the operator API or a job trigger.
// The actor is read from the request context.
func (s *Service) LogOperatorAction(ctx context.Context, typ EventType, target Target, message string, metadata map[string]any) error {
	e := Event{
		Type:           typ,
		ContactID:      target.ContactID,
		DistributionID: target.DistributionID,
		CampaignID:     target.CampaignID,
		MessageID:      target.MessageID,
		Message:        message,
	}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		e.Metadata = string(b)
	}
	return s.Append(ctx, e)
}
