// Package reporting aggregates delivery activity into weekly digests.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/pkg/logger"
)

var (
	ErrInvalidRequest = fmt.Errorf("reporting: invalid request: %w", apperr.ErrInvalidArgument)
	ErrDigestNotFound = fmt.Errorf("reporting: digest: %w", apperr.ErrNotFound)
)

// Repository abstracts data access for reporting.
//
// Count reads the immutable delivery sources (distributions, recipient outcomes, messages,
// consent timestamps) for the half-open range. Digests are keyed by week start.
type Repository interface {
	Count(ctx context.Context, r TimeRange) (Counts, error)
	SaveDigest(ctx context.Context, d WeeklyDigest) error
	GetDigest(ctx context.Context, weekStart time.Time) (WeeklyDigest, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

// Summary aggregates an arbitrary range without storing anything.
func (s *Service) Summary(ctx context.Context, r TimeRange) (Counts, error) {
	if !r.valid() {
		return Counts{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Counts{}, errors.New("reporting: repository not configured")
	}
	return s.repo.Count(ctx, r)
}

// LockWeek computes and stores the provisional digest of the week starting at weekStart.
// A week that was already finalized is returned unchanged.
func (s *Service) LockWeek(ctx context.Context, weekStart time.Time) (WeeklyDigest, error) {
	existing, err := s.existing(ctx, weekStart)
	if err != nil {
		return WeeklyDigest{}, err
	}
	if existing != nil && existing.State == DigestFinal {
		return *existing, nil
	}
	d, err := s.compute(ctx, weekStart, DigestProvisional)
	if err != nil {
		return WeeklyDigest{}, err
	}
	logger.From(ctx).Info("weekly digest locked",
		"week_start", d.WeekStart.Format(time.DateOnly),
		"distributions", d.Counts.Distributions,
		"recipients", d.Counts.RecipientsTargeted,
	)
	return d, nil
}

// EndGracePeriod recomputes the week so late status callbacks are included and stores it
// as final. Finalizing twice is a no-op.
func (s *Service) EndGracePeriod(ctx context.Context, weekStart time.Time) (WeeklyDigest, error) {
	existing, err := s.existing(ctx, weekStart)
	if err != nil {
		return WeeklyDigest{}, err
	}
	if existing != nil && existing.State == DigestFinal {
		return *existing, nil
	}
	d, err := s.compute(ctx, weekStart, DigestFinal)
	if err != nil {
		return WeeklyDigest{}, err
	}
	logger.From(ctx).Info("weekly digest finalized",
		"week_start", d.WeekStart.Format(time.DateOnly),
		"reached", d.Counts.RecipientsReached,
	)
	return d, nil
}

func (s *Service) Digest(ctx context.Context, weekStart time.Time) (WeeklyDigest, error) {
	if weekStart.IsZero() {
		return WeeklyDigest{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return WeeklyDigest{}, errors.New("reporting: repository not configured")
	}
	return s.repo.GetDigest(ctx, weekStart.UTC())
}

func (s *Service) existing(ctx context.Context, weekStart time.Time) (*WeeklyDigest, error) {
	d, err := s.Digest(ctx, weekStart)
	if err != nil {
		if errors.Is(err, ErrDigestNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (s *Service) compute(ctx context.Context, weekStart time.Time, state DigestState) (WeeklyDigest, error) {
	r := WeekRange(weekStart)
	r.From, r.To = r.From.UTC(), r.To.UTC()
	counts, err := s.repo.Count(ctx, r)
	if err != nil {
		return WeeklyDigest{}, fmt.Errorf("reporting: count week: %w", err)
	}
	now := s.clock().UTC()
	d := WeeklyDigest{
		WeekStart:  r.From,
		WeekEnd:    r.To,
		State:      state,
		Counts:     counts,
		ComputedAt: now,
	}
	if state == DigestFinal {
		d.FinalizedAt = &now
	}
	if err := s.repo.SaveDigest(ctx, d); err != nil {
		return WeeklyDigest{}, fmt.Errorf("reporting: save digest: %w", err)
	}
	return d, nil
}
