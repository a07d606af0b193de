package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/compliance"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/fanout"
)

// fakeSMSGateway rejects anything that is not E.164, the way the real provider does.
type fakeSMSGateway struct {
	mu   sync.Mutex
	sent []dispatch.SMS
	down bool
}

func (g *fakeSMSGateway) SendSMS(ctx context.Context, msg dispatch.SMS) (dispatch.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return dispatch.Receipt{}, &dispatch.GatewayError{Provider: "twilio", HTTPStatus: 503, Message: "Service Unavailable"}
	}
	if !strings.HasPrefix(msg.To, "+") {
		return dispatch.Receipt{}, &dispatch.GatewayError{Provider: "twilio", HTTPStatus: 400, Code: "21211", Message: fmt.Sprintf("The 'To' number %s is not a valid phone number.", msg.To)}
	}
	g.sent = append(g.sent, msg)
	return dispatch.Receipt{ProviderMessageID: fmt.Sprintf("SM%d", len(g.sent)), Status: "queued"}, nil
}

type fakeCampaigns struct {
	calls map[string]int
}

func (f *fakeCampaigns) RecordDistribution(ctx context.Context, campaignID string, sentAt time.Time) error {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[campaignID]++
	return nil
}

var fixedNow = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)

type fixture struct {
	mgr       *Manager
	repo      *MemoryRepo
	people    *contacts.MemoryRepo
	sms       *fakeSMSGateway
	campaigns *fakeCampaigns
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	people := contacts.NewMemoryRepo()
	people.Put(contacts.Contact{ID: "c1", Name: "Opted Out", Phone: "+15125550001", Active: true, SMSOptedOut: true})
	people.Put(contacts.Contact{ID: "c2", Name: "Valid Phone", Phone: "(512) 555-0002", Email: "valid@example.com", Active: true})
	people.Put(contacts.Contact{ID: "c3", Name: "Bad Phone", Phone: "555-12", Active: true})
	people.AddToPopulation("pop-1", "c1", "c2", "c3")

	sms := &fakeSMSGateway{}
	d := dispatch.New(sms, nil, dispatch.Config{SMSFrom: "+15005550006"}, nil)
	co := fanout.NewCoordinator(compliance.NewGate(people, nil), d, 2, nil)

	repo := NewMemoryRepo()
	campaigns := &fakeCampaigns{}
	mgr := NewManager(repo, people, co, d, cfg).WithCampaignRecorder(campaigns)
	mgr.clock = func() time.Time { return fixedNow }
	return fixture{mgr: mgr, repo: repo, people: people, sms: sms, campaigns: campaigns}
}

func TestDistribute_ThreeContactScenario(t *testing.T) {
	f := newFixture(t, Config{ResponseBaseURL: "https://engine.example.com/r/"})
	ctx := context.Background()

	rep, err := f.mgr.Distribute(ctx, Request{
		CampaignID:   "camp-1",
		PopulationID: "pop-1",
		Body:         "Hi {{contact_first}}, respond: {{response_link}}",
		Channels:     []contacts.Channel{contacts.ChannelSMS},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	d := rep.Distribution
	if d.TotalSent != 3 || d.Number != 1 || d.TotalDelivered != 1 {
		t.Fatalf("unexpected distribution: %+v", d)
	}
	if !d.ExpiresAt.Equal(fixedNow.Add(14 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", d.ExpiresAt)
	}

	res := rep.Results[contacts.ChannelSMS]
	if len(res.Succeeded) != 1 || len(res.Failed) != 2 {
		t.Fatalf("expected 1/2, got %d/%d", len(res.Succeeded), len(res.Failed))
	}
	reasons := map[string]bool{}
	for _, fl := range res.Failed {
		reasons[fl.Reason] = true
	}
	if len(reasons) != 2 {
		t.Fatalf("expected distinct reasons, got %+v", res.Failed)
	}
	if !reasons[compliance.ReasonSMSOptedOut] || !reasons["The 'To' number 55512 is not a valid phone number."] {
		t.Fatalf("unexpected reasons %+v", reasons)
	}

	if len(f.sms.sent) != 1 || f.sms.sent[0].To != "+15125550002" {
		t.Fatalf("expected one normalized send, got %+v", f.sms.sent)
	}
	if !strings.Contains(f.sms.sent[0].Body, "https://engine.example.com/r/") {
		t.Fatalf("expected response link in body: %q", f.sms.sent[0].Body)
	}
	if f.campaigns.calls["camp-1"] != 1 {
		t.Fatalf("expected campaign counter bumped once")
	}

	sum, err := f.mgr.Summary(ctx, d.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	got := sum.Channels[contacts.ChannelSMS]
	if got.Succeeded != 1 || got.Failed != 2 || got.Pending != 0 || got.Status != "sent" {
		t.Fatalf("unexpected counts %+v", got)
	}
}

func TestDistribute_TokensUnique(t *testing.T) {
	f := newFixture(t, Config{})
	rep, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	recipients, _ := f.repo.ListRecipients(context.Background(), rep.Distribution.ID)
	seen := map[string]bool{}
	for _, r := range recipients {
		if len(r.Token) != 48 || seen[r.Token] {
			t.Fatalf("bad token %q", r.Token)
		}
		seen[r.Token] = true
	}
}

func TestDistribute_NumbersIncreasePerCampaign(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := Request{CampaignID: "camp-1", PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}}

	first, _ := f.mgr.Distribute(ctx, req)
	second, _ := f.mgr.Distribute(ctx, req)
	other, _ := f.mgr.Distribute(ctx, Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	if first.Distribution.Number != 1 || second.Distribution.Number != 2 || other.Distribution.Number != 1 {
		t.Fatalf("unexpected numbers %d %d %d", first.Distribution.Number, second.Distribution.Number, other.Distribution.Number)
	}
}

func TestDistribute_EmptyPopulationWritesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.people.AddToPopulation("pop-empty")

	_, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-empty", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	if !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected ErrEmptyPopulation, got %v", err)
	}
	if len(f.repo.distributions) != 0 {
		t.Fatalf("expected no distribution rows")
	}

	_, err = f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-missing", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDistribute_EmailDisabledSkipsChannel(t *testing.T) {
	f := newFixture(t, Config{EmailEnabled: false})

	rep, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS, contacts.ChannelEmail}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0] != contacts.ChannelEmail {
		t.Fatalf("expected email skipped, got %+v", rep.Skipped)
	}
	if _, ok := rep.Results[contacts.ChannelEmail]; ok {
		t.Fatalf("email must not be attempted")
	}

	_, err = f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelEmail}})
	if !errors.Is(err, ErrEmailDisabled) {
		t.Fatalf("expected ErrEmailDisabled, got %v", err)
	}
}

func TestDistribute_EmailNotConfiguredFailsFast(t *testing.T) {
	f := newFixture(t, Config{EmailEnabled: true})

	_, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS, contacts.ChannelEmail}})
	if !errors.Is(err, apperr.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
	if len(f.repo.distributions) != 0 || len(f.sms.sent) != 0 {
		t.Fatalf("expected nothing written or sent")
	}
}

func TestDistribute_AllFailedReturnsError(t *testing.T) {
	f := newFixture(t, Config{})
	f.sms.down = true

	rep, err := f.mgr.Distribute(context.Background(), Request{CampaignID: "camp-1", PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	if !errors.Is(err, ErrAllChannelsFailed) || !errors.Is(err, apperr.ErrProviderDispatchFailed) {
		t.Fatalf("expected all channels failed, got %v", err)
	}
	if rep.Distribution.TotalDelivered != 0 || len(rep.Results[contacts.ChannelSMS].Failed) != 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if n := f.campaigns.calls["camp-1"]; n != 0 {
		t.Fatalf("failed attempt must not touch the campaign, got %d updates", n)
	}
}

func TestDistribute_AllDeniedIsComplianceClass(t *testing.T) {
	f := newFixture(t, Config{})
	f.people.AddToPopulation("pop-out", "c1")

	rep, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-out", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	if !errors.Is(err, ErrAllRecipientsDenied) || !errors.Is(err, apperr.ErrComplianceDenied) {
		t.Fatalf("expected compliance denied, got %v", err)
	}
	if errors.Is(err, apperr.ErrProviderDispatchFailed) {
		t.Fatalf("denials must not look retryable: %v", err)
	}
	if apperr.HTTPStatus(err) != 403 {
		t.Fatalf("expected 403, got %d", apperr.HTTPStatus(err))
	}
	if len(rep.Results[contacts.ChannelSMS].Failed) != 1 || len(f.sms.sent) != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestRetry_ResendsOnlyFailed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.sms.down = true
	rep, _ := f.mgr.Distribute(ctx, Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	f.sms.down = false

	retry, err := f.mgr.Retry(ctx, rep.Distribution.ID, contacts.ChannelSMS)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	res := retry.Results[contacts.ChannelSMS]
	// c1 is still opted out and c3 still malformed.
	if len(res.Succeeded) != 1 || len(res.Failed) != 2 {
		t.Fatalf("expected 1/2 on retry, got %d/%d", len(res.Succeeded), len(res.Failed))
	}
	if retry.Distribution.TotalDelivered != 1 {
		t.Fatalf("expected total delivered 1, got %d", retry.Distribution.TotalDelivered)
	}

	if _, err := f.mgr.Retry(ctx, rep.Distribution.ID, contacts.ChannelEmail); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected channel not in distribution, got %v", err)
	}
}

func TestRetry_RejectedAfterExpiry(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rep, _ := f.mgr.Distribute(ctx, Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})

	f.mgr.clock = func() time.Time { return fixedNow.Add(15 * 24 * time.Hour) }
	if _, err := f.mgr.Retry(ctx, rep.Distribution.ID, contacts.ChannelSMS); !errors.Is(err, ErrDistributionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestResolveToken(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rep, _ := f.mgr.Distribute(ctx, Request{PopulationID: "pop-1", Body: "x", Channels: []contacts.Channel{contacts.ChannelSMS}})
	recipients, _ := f.repo.ListRecipients(ctx, rep.Distribution.ID)

	r, d, err := f.mgr.ResolveToken(ctx, recipients[0].Token)
	if err != nil || r.ID != recipients[0].ID || d.ID != rep.Distribution.ID {
		t.Fatalf("unexpected resolve: %+v %+v %v", r, d, err)
	}

	f.mgr.clock = func() time.Time { return rep.Distribution.ExpiresAt }
	if _, _, err := f.mgr.ResolveToken(ctx, recipients[0].Token); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expected link expired, got %v", err)
	}
	if _, _, err := f.mgr.ResolveToken(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDistribute_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-1"}); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("expected ErrNoChannels, got %v", err)
	}
	if _, err := f.mgr.Distribute(context.Background(), Request{Channels: []contacts.Channel{contacts.ChannelSMS}}); !errors.Is(err, ErrMissingPopulation) {
		t.Fatalf("expected ErrMissingPopulation, got %v", err)
	}
	if _, err := f.mgr.Distribute(context.Background(), Request{PopulationID: "pop-1", Channels: []contacts.Channel{"fax"}}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid channel, got %v", err)
	}
}
