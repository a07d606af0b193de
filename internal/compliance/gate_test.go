package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
)

type stubAudit struct {
	calls int
	err   error
}

func (s *stubAudit) LogConsentChange(ctx context.Context, contactID, keyword string, optedOut bool) error {
	s.calls++
	return s.err
}

func newTestGate(t *testing.T, c contacts.Contact) (*Gate, *contacts.MemoryRepo, *stubAudit) {
	t.Helper()
	repo := contacts.NewMemoryRepo()
	repo.Put(c)
	audit := &stubAudit{}
	g := NewGate(repo, audit)
	g.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return g, repo, audit
}

func TestMayDispatch_DeniesOptedOutSMS(t *testing.T) {
	g := NewGate(nil, nil)
	d := g.MayDispatch(contacts.Contact{ID: "c1", Phone: "+15125550001", SMSOptedOut: true}, contacts.ChannelSMS)
	if d.Allowed {
		t.Fatalf("expected deny")
	}
	if d.Reason != ReasonSMSOptedOut {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
	if !errors.Is(d.Err(), apperr.ErrComplianceDenied) {
		t.Fatalf("expected compliance class error")
	}
}

func TestMayDispatch_OptOutDoesNotAffectEmail(t *testing.T) {
	g := NewGate(nil, nil)
	d := g.MayDispatch(contacts.Contact{ID: "c1", Email: "a@example.com", SMSOptedOut: true}, contacts.ChannelEmail)
	if !d.Allowed {
		t.Fatalf("expected allow, got %q", d.Reason)
	}
}

func TestMayDispatch_MissingAddress(t *testing.T) {
	g := NewGate(nil, nil)
	if d := g.MayDispatch(contacts.Contact{ID: "c1"}, contacts.ChannelSMS); d.Reason != ReasonNoPhone {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
	if d := g.MayDispatch(contacts.Contact{ID: "c1"}, contacts.ChannelEmail); d.Reason != ReasonNoEmail {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestMatchKeyword(t *testing.T) {
	cases := []struct {
		body   string
		action KeywordAction
	}{
		{"STOP", KeywordOptOut},
		{"  stop \n", KeywordOptOut},
		{"Unsubscribe", KeywordOptOut},
		{"cancel", KeywordOptOut},
		{"quit", KeywordOptOut},
		{"start", KeywordOptIn},
		{" Yes", KeywordOptIn},
		{"stop please", KeywordNone},
		{"yes I will be there", KeywordNone},
		{"", KeywordNone},
	}
	for _, tc := range cases {
		if got, _ := MatchKeyword(tc.body); got != tc.action {
			t.Fatalf("MatchKeyword(%q) = %q, want %q", tc.body, got, tc.action)
		}
	}
}

func TestApplyInboundKeyword_OptOutThenOptIn(t *testing.T) {
	g, repo, audit := newTestGate(t, contacts.Contact{ID: "c1", Phone: "+15125550001", Active: true})
	ctx := context.Background()

	res, err := g.ApplyInboundKeyword(ctx, contacts.Contact{ID: "c1"}, " stop ")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Matched || res.Action != KeywordOptOut || res.Reply != OptOutReply {
		t.Fatalf("unexpected result: %+v", res)
	}
	stored, _ := repo.Get(ctx, "c1")
	if !stored.SMSOptedOut || stored.SMSOptOutKeyword != "STOP" || stored.SMSOptedOutAt == nil {
		t.Fatalf("expected opt-out persisted: %+v", stored)
	}
	if d := g.MayDispatch(stored, contacts.ChannelSMS); d.Allowed {
		t.Fatalf("expected opted-out contact to be denied")
	}

	res, err = g.ApplyInboundKeyword(ctx, stored, "START")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Action != KeywordOptIn || res.Reply == OptOutReply || !strings.Contains(res.Reply, "resubscribed") {
		t.Fatalf("unexpected result: %+v", res)
	}
	stored, _ = repo.Get(ctx, "c1")
	if stored.SMSOptedOut || stored.SMSOptedOutAt != nil {
		t.Fatalf("expected opt-in persisted: %+v", stored)
	}
	if audit.calls != 2 {
		t.Fatalf("expected 2 audit calls, got %d", audit.calls)
	}
}

func TestApplyInboundKeyword_NonKeywordDoesNotWrite(t *testing.T) {
	g, repo, audit := newTestGate(t, contacts.Contact{ID: "c1", Phone: "+15125550001"})

	res, err := g.ApplyInboundKeyword(context.Background(), contacts.Contact{ID: "c1"}, "Can you come Tuesday instead?")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Matched || res.Reply != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	stored, _ := repo.Get(context.Background(), "c1")
	if stored.SMSOptedOut {
		t.Fatalf("expected no consent change")
	}
	if audit.calls != 0 {
		t.Fatalf("expected no audit")
	}
}

func TestApplyInboundKeyword_AuditFailureDoesNotBlock(t *testing.T) {
	g, _, audit := newTestGate(t, contacts.Contact{ID: "c1"})
	audit.err = errors.New("audit down")

	if _, err := g.ApplyInboundKeyword(context.Background(), contacts.Contact{ID: "c1"}, "QUIT"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestApplyInboundKeyword_UnknownContact(t *testing.T) {
	g, _, _ := newTestGate(t, contacts.Contact{ID: "c1"})
	_, err := g.ApplyInboundKeyword(context.Background(), contacts.Contact{ID: "nope"}, "STOP")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
