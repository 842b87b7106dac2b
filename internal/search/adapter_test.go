package search

import (
	"context"
	"strings"
	"testing"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/policy"
	"github.com/auctionintel/research-engine/pkg/oracle"
)

// fakeOracle returns queued responses in order, then the final error if set.
type fakeOracle struct {
	responses []*oracle.Response
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeOracle) Research(_ context.Context, req oracle.Request) (*oracle.Response, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &oracle.Response{Text: "{}"}, nil
}

func newTestAdapter(t *testing.T, fo *fakeOracle) *Adapter {
	t.Helper()
	return New(fo, policy.Default(), config.SearchConfig{
		TimeoutSecs:   5,
		MaxAttempts:   2,
		RatePerSecond: 1000,
		Burst:         1000,
	}, config.OracleConfig{Model: "test-model"})
}

func TestRunPhase_ParsesFinding(t *testing.T) {
	fo := &fakeOracle{responses: []*oracle.Response{{
		Text: `Here are the results:
{"event_title": "Spring Gala", "event_date": "2026-04-18", "auction_type": "Live and Silent",
 "event_url": "https://example.org/gala", "contact_email": "events@example.org",
 "evidence_auction": "live and silent auction", "confidence": 0.85, "has_event": true}`,
		SearchCount: 3,
	}}}

	out, err := newTestAdapter(t, fo).RunPhase(context.Background(), "Example Org", model.PhaseQuickScan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.HasEvent || out.Finding == nil {
		t.Fatal("expected a finding")
	}
	if out.Finding.AuctionType != model.AuctionBoth {
		t.Errorf("auction type = %q, want both", out.Finding.AuctionType)
	}
	if out.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", out.Confidence)
	}
	if out.Searches != 3 {
		t.Errorf("searches = %d, want 3", out.Searches)
	}
	if out.Finding.Tier() != model.TierOutreachReady {
		t.Errorf("tier = %q, want outreach_ready", out.Finding.Tier())
	}
}

func TestRunPhase_NoEvent(t *testing.T) {
	fo := &fakeOracle{responses: []*oracle.Response{{
		Text: `{"has_event": false, "confidence": 0.9}`,
	}}}

	out, err := newTestAdapter(t, fo).RunPhase(context.Background(), "Example Org", model.PhaseQuickScan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.HasEvent {
		t.Error("expected no event")
	}
	if out.Confidence != 0.9 {
		t.Errorf("no-event confidence = %v, want 0.9", out.Confidence)
	}
}

func TestRunPhase_RejectsUnknownAuctionType(t *testing.T) {
	fo := &fakeOracle{responses: []*oracle.Response{{
		Text: `{"event_title": "Fun Run", "auction_type": "raffle", "event_url": "https://x.org", "confidence": 0.7, "has_event": true}`,
	}}}

	out, err := newTestAdapter(t, fo).RunPhase(context.Background(), "Example Org", model.PhaseQuickScan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.HasEvent || out.Finding != nil {
		t.Error("a result without a recognized auction type must be dropped")
	}
}

func TestRunPhase_UnparseableOutputIsNotAnError(t *testing.T) {
	fo := &fakeOracle{responses: []*oracle.Response{{Text: "I could not find anything."}}}

	out, err := newTestAdapter(t, fo).RunPhase(context.Background(), "Example Org", model.PhaseDeepResearch)
	if err != nil {
		t.Fatalf("parse failure must not surface as an error: %v", err)
	}
	if out.HasEvent || out.Finding != nil {
		t.Error("expected an empty outcome")
	}
}

func TestRunPhase_RetriesTransientStatus(t *testing.T) {
	fo := &fakeOracle{
		errs: []error{&oracle.APIError{Status: 529, Message: "overloaded"}},
		responses: []*oracle.Response{
			nil,
			{Text: `{"has_event": false, "confidence": 0.6}`},
		},
	}

	out, err := newTestAdapter(t, fo).RunPhase(context.Background(), "Example Org", model.PhaseQuickScan)
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if fo.calls != 2 {
		t.Errorf("expected 2 calls, got %d", fo.calls)
	}
	if out.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", out.Confidence)
	}
}

func TestRunPhase_PermanentStatusFailsFast(t *testing.T) {
	fo := &fakeOracle{errs: []error{
		&oracle.APIError{Status: 401, Message: "bad key"},
		&oracle.APIError{Status: 401, Message: "bad key"},
	}}

	_, err := newTestAdapter(t, fo).RunPhase(context.Background(), "Example Org", model.PhaseQuickScan)
	if err == nil {
		t.Fatal("expected error")
	}
	if fo.calls != 1 {
		t.Errorf("permanent status must not retry, got %d calls", fo.calls)
	}
}

func TestFollowup_ExtractsField(t *testing.T) {
	fo := &fakeOracle{responses: []*oracle.Response{{
		Text: `{"contact_email": "gala@example.org", "source_url": "https://example.org/contact", "confidence": 0.75}`,
	}}}

	out, err := newTestAdapter(t, fo).Followup(context.Background(), "Example Org", "contact_email", model.Finding{
		EventTitle: "Spring Gala",
		EventDate:  "2026-04-18",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != "gala@example.org" {
		t.Errorf("value = %q", out.Value)
	}
	if out.SourceURL != "https://example.org/contact" {
		t.Errorf("source_url = %q", out.SourceURL)
	}
	if out.Confidence != 0.75 {
		t.Errorf("confidence = %v", out.Confidence)
	}

	// The rendered prompt carries the event context, not raw placeholders.
	var prompt string
	if len(fo.prompts) > 0 {
		prompt = fo.prompts[0]
	}
	for _, want := range []string{"Spring Gala", "2026-04-18", "contact_email", "Example Org"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "{field}") || strings.Contains(prompt, "{organization}") {
		t.Error("prompt still contains placeholders")
	}
}
