package distribution

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/fanout"
	"delivery-engine/pkg/logger"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores d and its recipients in one transaction and assigns d.Number.
	Create(ctx context.Context, d *Distribution, recipients []Recipient) error
	Get(ctx context.Context, id string) (Distribution, error)
	ListRecipients(ctx context.Context, distributionID string) ([]Recipient, error)
	UpdateRecipientStates(ctx context.Context, ch contacts.Channel, updates []StateUpdate) error
	SetTotalDelivered(ctx context.Context, id string, n int) error
	GetRecipientByToken(ctx context.Context, token string) (Recipient, error)
}

type PopulationSource interface {
	ListByPopulation(ctx context.Context, populationID string) ([]contacts.Contact, error)
	Get(ctx context.Context, id string) (contacts.Contact, error)
}

type Fanouter interface {
	Fanout(ctx context.Context, req fanout.Request) (fanout.Result, error)
}

type Readiness interface {
	Ready(ch contacts.Channel) error
}

// CampaignRecorder bumps a campaign's distribution counter.
type CampaignRecorder interface {
	RecordDistribution(ctx context.Context, campaignID string, sentAt time.Time) error
}

type Config struct {
	EmailEnabled bool
	LinkTTL      time.Duration
	// ResponseBaseURL prefixes recipient tokens to build {{response_link}}, e.g.
	// "https://engine.example.com/r/".
	ResponseBaseURL string
}

type Manager struct {
	repo      Repository
	people    PopulationSource
	fanout    Fanouter
	ready     Readiness
	campaigns CampaignRecorder
	cfg       Config
	clock     func() time.Time
}

func NewManager(repo Repository, people PopulationSource, f Fanouter, ready Readiness, cfg Config) *Manager {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	return &Manager{repo: repo, people: people, fanout: f, ready: ready, cfg: cfg, clock: time.Now}
}

// WithCampaignRecorder wires the campaign counter update. Direct sends work without it.
func (m *Manager) WithCampaignRecorder(r CampaignRecorder) *Manager {
	m.campaigns = r
	return m
}

// Distribute sends req to every active member of the population on every requested channel.
//
// Nothing is written when the population is empty or a channel is not configured. Recipient
// failures are recorded per channel; the call fails only when every channel failed for every
// recipient.
func (m *Manager) Distribute(ctx context.Context, req Request) (Report, error) {
	channels, err := normalizeChannels(req.Channels)
	if err != nil {
		return Report{}, err
	}
	if req.PopulationID == "" {
		return Report{}, ErrMissingPopulation
	}
	log := logger.From(ctx).With("population_id", req.PopulationID)

	members, err := m.people.ListByPopulation(ctx, req.PopulationID)
	if err != nil {
		return Report{}, fmt.Errorf("distribution: load population: %w", err)
	}
	if len(members) == 0 {
		return Report{}, ErrEmptyPopulation
	}

	active, skipped := m.activeChannels(channels)
	for _, ch := range skipped {
		log.Info("email disabled, channel skipped", "channel", ch)
	}
	if len(active) == 0 {
		return Report{}, ErrEmailDisabled
	}
	for _, ch := range active {
		if err := m.ready.Ready(ch); err != nil {
			log.Error("channel not configured", "channel", ch, "err", err)
			return Report{}, err
		}
	}

	now := m.clock().UTC()
	d := Distribution{
		ID:           uuid.NewString(),
		CampaignID:   req.CampaignID,
		PopulationID: req.PopulationID,
		Subject:      req.Subject,
		Body:         req.Body,
		Channels:     active,
		SentAt:       now,
		ExpiresAt:    now.Add(m.cfg.LinkTTL),
		TotalSent:    len(members),
	}
	recipients := make([]Recipient, 0, len(members))
	byContact := make(map[string]contacts.Contact, len(members))
	for _, c := range members {
		token, err := newToken()
		if err != nil {
			return Report{}, err
		}
		recipients = append(recipients, Recipient{ID: uuid.NewString(), DistributionID: d.ID, ContactID: c.ID, Token: token})
		byContact[c.ID] = c
	}
	if err := m.repo.Create(ctx, &d, recipients); err != nil {
		return Report{}, fmt.Errorf("distribution: create: %w", err)
	}
	log = log.With("distribution_id", d.ID, "distribution_number", d.Number)
	log.Info("distribution created", "recipients", len(recipients), "channels", active)

	report := Report{Distribution: d, Results: map[contacts.Channel]fanout.Result{}, Skipped: skipped}
	allFailed, allDenied := true, true
	var lastErr error
	for _, ch := range active {
		res, err := m.send(logger.With(ctx, log), d, ch, recipients, byContact)
		report.Results[ch] = res
		if err != nil {
			lastErr = err
		}
		if !errors.Is(err, apperr.ErrComplianceDenied) {
			allDenied = false
		}
		if len(res.Succeeded) > 0 {
			allFailed = false
		}
	}

	delivered, err := m.refreshDelivered(ctx, d.ID)
	if err != nil {
		log.Error("total delivered update failed", "err", err)
	} else {
		report.Distribution.TotalDelivered = delivered
	}

	if allFailed {
		switch {
		case allDenied:
			return report, ErrAllRecipientsDenied
		case lastErr != nil && !errors.Is(lastErr, fanout.ErrAllFailed):
			return report, lastErr
		}
		return report, ErrAllChannelsFailed
	}

	// Only an attempt that reached someone counts against the campaign.
	if d.CampaignID != "" && m.campaigns != nil {
		if err := m.campaigns.RecordDistribution(ctx, d.CampaignID, now); err != nil {
			log.Error("campaign distribution counter update failed", "err", err)
		}
	}
	return report, nil
}

// send fans out to recipients on ch and persists every outcome.
func (m *Manager) send(ctx context.Context, d Distribution, ch contacts.Channel, recipients []Recipient, byContact map[string]contacts.Contact) (fanout.Result, error) {
	req := fanout.Request{Channel: ch, Subject: d.Subject, Body: d.Body}
	for _, r := range recipients {
		c, ok := byContact[r.ContactID]
		if !ok {
			continue
		}
		req.Recipients = append(req.Recipients, fanout.Recipient{ID: r.ID, Contact: c, Context: m.linkContext(r)})
	}

	res, fanErr := m.fanout.Fanout(ctx, req)
	if fanErr != nil && !errors.Is(fanErr, fanout.ErrAllFailed) {
		return res, fanErr
	}

	updates := make([]StateUpdate, 0, len(res.Succeeded)+len(res.Failed))
	for _, s := range res.Succeeded {
		at := s.At
		updates = append(updates, StateUpdate{RecipientID: s.RecipientID, State: ChannelState{Status: ChannelSent, ProviderID: s.ProviderID, At: &at}})
	}
	for _, f := range res.Failed {
		at := f.At
		updates = append(updates, StateUpdate{RecipientID: f.RecipientID, State: ChannelState{Status: ChannelFailed, Error: f.Reason, At: &at}})
	}
	if err := m.repo.UpdateRecipientStates(ctx, ch, updates); err != nil {
		logger.From(ctx).Error("persist recipient states failed", "channel", ch, "err", err)
		return res, fmt.Errorf("distribution: persist %s outcomes: %w", ch, err)
	}
	return res, fanErr
}

func (m *Manager) linkContext(r Recipient) map[string]string {
	out := map[string]string{"response_token": r.Token}
	if m.cfg.ResponseBaseURL != "" {
		out["response_link"] = strings.TrimRight(m.cfg.ResponseBaseURL, "/") + "/" + r.Token
	}
	return out
}

func (m *Manager) refreshDelivered(ctx context.Context, id string) (int, error) {
	recipients, err := m.repo.ListRecipients(ctx, id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recipients {
		if r.Delivered() {
			n++
		}
	}
	return n, m.repo.SetTotalDelivered(ctx, id, n)
}

func (m *Manager) activeChannels(channels []contacts.Channel) (active, skipped []contacts.Channel) {
	for _, ch := range channels {
		if ch == contacts.ChannelEmail && !m.cfg.EmailEnabled {
			skipped = append(skipped, ch)
			continue
		}
		active = append(active, ch)
	}
	return active, skipped
}

// Summary returns explicit per-channel counts so partial failures are visible.
func (m *Manager) Summary(ctx context.Context, id string) (Summary, error) {
	d, err := m.repo.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	recipients, err := m.repo.ListRecipients(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{Distribution: d, Channels: map[contacts.Channel]ChannelCounts{}, Recipients: recipients}
	for _, ch := range d.Channels {
		var c ChannelCounts
		for _, r := range recipients {
			switch r.State(ch).Status {
			case ChannelSent:
				c.Succeeded++
			case ChannelFailed:
				c.Failed++
			default:
				c.Pending++
			}
		}
		out.Channels[ch] = c.derive()
	}
	return out, nil
}

// Retry re-sends ch to the recipients whose last attempt on ch failed. It is an explicit
// operator action; nothing retries automatically.
func (m *Manager) Retry(ctx context.Context, id string, ch contacts.Channel) (Report, error) {
	if !ch.Valid() {
		return Report{}, fmt.Errorf("distribution: unknown channel %q: %w", ch, apperr.ErrInvalidArgument)
	}
	d, err := m.repo.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if !m.clock().Before(d.ExpiresAt) {
		return Report{}, ErrDistributionExpired
	}
	if !d.HasChannel(ch) {
		return Report{}, fmt.Errorf("distribution: channel %s was not part of this distribution: %w", ch, apperr.ErrInvalidArgument)
	}
	if ch == contacts.ChannelEmail && !m.cfg.EmailEnabled {
		return Report{}, ErrEmailDisabled
	}
	if err := m.ready.Ready(ch); err != nil {
		return Report{}, err
	}

	all, err := m.repo.ListRecipients(ctx, id)
	if err != nil {
		return Report{}, err
	}
	log := logger.From(ctx).With("distribution_id", id, "channel", ch)

	var failed []Recipient
	byContact := map[string]contacts.Contact{}
	for _, r := range all {
		if r.State(ch).Status != ChannelFailed {
			continue
		}
		c, err := m.people.Get(ctx, r.ContactID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				log.Warn("retry skipped missing contact", "contact_id", r.ContactID)
				continue
			}
			return Report{}, err
		}
		failed = append(failed, r)
		byContact[c.ID] = c
	}
	if len(failed) == 0 {
		return Report{}, ErrNothingToRetry
	}

	log.Info("retrying failed recipients", "recipients", len(failed))
	res, fanErr := m.send(ctx, d, ch, failed, byContact)
	report := Report{Distribution: d, Results: map[contacts.Channel]fanout.Result{ch: res}}
	if delivered, err := m.refreshDelivered(ctx, id); err != nil {
		log.Error("total delivered update failed", "err", err)
	} else {
		report.Distribution.TotalDelivered = delivered
	}
	if fanErr != nil {
		return report, fanErr
	}
	return report, nil
}

// ResolveToken returns the recipient behind a response link.
func (m *Manager) ResolveToken(ctx context.Context, token string) (Recipient, Distribution, error) {
	if token == "" {
		return Recipient{}, Distribution{}, ErrNotFound
	}
	r, err := m.repo.GetRecipientByToken(ctx, token)
	if err != nil {
		return Recipient{}, Distribution{}, err
	}
	d, err := m.repo.Get(ctx, r.DistributionID)
	if err != nil {
		return Recipient{}, Distribution{}, err
	}
	if !m.clock().Before(d.ExpiresAt) {
		return r, d, ErrLinkExpired
	}
	return r, d, nil
}

func normalizeChannels(in []contacts.Channel) ([]contacts.Channel, error) {
	seen := map[contacts.Channel]bool{}
	out := make([]contacts.Channel, 0, len(in))
	for _, ch := range in {
		if !ch.Valid() {
			return nil, fmt.Errorf("distribution: unknown channel %q: %w", ch, apperr.ErrInvalidArgument)
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, ErrNoChannels
	}
	return out, nil
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("distribution: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
