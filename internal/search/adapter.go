// Package search adapts the raw research oracle into the phase-level calls
// the pipeline needs. It owns the outbound-call discipline: rate limiting,
// retry with backoff, the circuit breaker, per-call timeouts, and parsing
// model output into findings.
package search

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/gate"
	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/policy"
	"github.com/auctionintel/research-engine/internal/resilience"
	"github.com/auctionintel/research-engine/pkg/oracle"
)

// PhaseOutcome is the parsed result of one research phase call.
type PhaseOutcome struct {
	// HasEvent is false when the phase concluded no upcoming auction exists.
	HasEvent bool
	// Confidence scores the finding, or the no-event conclusion when
	// HasEvent is false.
	Confidence float64
	// Finding is nil when HasEvent is false.
	Finding *model.Finding
	// Searches counts web searches the oracle performed for this call.
	Searches int
}

// FieldOutcome is the parsed result of a targeted follow-up for one field.
type FieldOutcome struct {
	Value      string
	SourceURL  string
	Confidence float64
}

// Adapter runs policy-driven research calls against the oracle.
type Adapter struct {
	oracle  oracle.Client
	policy  *policy.Policy
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	timeout time.Duration
	model   string
}

// New builds an adapter from the search and oracle configuration.
func New(client oracle.Client, pol *policy.Policy, searchCfg config.SearchConfig, oracleCfg config.OracleConfig) *Adapter {
	rps := searchCfg.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := searchCfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := searchCfg.Timeout()
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Adapter{
		oracle:  client,
		policy:  pol,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: resilience.NewBreaker(searchCfg.BreakerThreshold, searchCfg.BreakerReset()),
		retry:   resilience.RetryConfig{MaxAttempts: searchCfg.MaxAttempts},
		timeout: timeout,
		model:   oracleCfg.Model,
	}
}

// PolicyVersion exposes the policy version for cache fingerprinting.
func (a *Adapter) PolicyVersion() string { return a.policy.Version }

// phaseResponse is the wire shape the phase prompts request from the model.
type phaseResponse struct {
	model.Finding
	HasEvent *bool `json:"has_event"`
}

// RunPhase executes one research phase for an organization and parses the
// result. A parse failure or gate rejection is not an error: the outcome
// simply carries no finding.
func (a *Adapter) RunPhase(ctx context.Context, org string, phase model.Phase) (*PhaseOutcome, error) {
	prompt, err := a.policy.Render(phase, map[string]string{"organization": org})
	if err != nil {
		return nil, err
	}

	resp, err := a.call(ctx, string(phase), prompt, a.policy.MaxTokens(phase))
	if err != nil {
		return nil, err
	}

	raw, err := oracle.ExtractJSON(resp.Text)
	if err != nil {
		zap.L().Warn("unparseable phase output",
			zap.String("organization", org),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
		return &PhaseOutcome{HasEvent: false, Searches: resp.SearchCount}, nil
	}

	var pr phaseResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return &PhaseOutcome{HasEvent: false, Searches: resp.SearchCount}, nil
	}

	out := &PhaseOutcome{
		HasEvent:   pr.HasEvent == nil || *pr.HasEvent,
		Confidence: clamp01(pr.Confidence),
		Searches:   resp.SearchCount,
	}
	if !out.HasEvent {
		return out, nil
	}

	f := pr.Finding
	f.AuctionType = gate.ParseAuctionType(string(f.AuctionType))
	f.Confidence = out.Confidence
	if !gate.Accept(f) {
		// An event claim without a recognized auction type is unusable.
		out.HasEvent = false
		out.Confidence = 0
		return out, nil
	}
	out.Finding = &f
	return out, nil
}

// Followup asks for a single missing field of a previously found event.
func (a *Adapter) Followup(ctx context.Context, org, field string, base model.Finding) (*FieldOutcome, error) {
	prompt, err := a.policy.Render(model.PhaseTargetedFollowup, map[string]string{
		"organization": org,
		"field":        field,
		"event_title":  base.EventTitle,
		"event_date":   base.EventDate,
	})
	if err != nil {
		return nil, err
	}

	resp, err := a.call(ctx, "followup:"+field, prompt, a.policy.MaxTokens(model.PhaseTargetedFollowup))
	if err != nil {
		return nil, err
	}

	raw, err := oracle.ExtractJSON(resp.Text)
	if err != nil {
		return &FieldOutcome{}, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return &FieldOutcome{}, nil
	}

	out := &FieldOutcome{}
	if v, ok := m[field].(string); ok {
		out.Value = strings.TrimSpace(v)
	}
	if v, ok := m["source_url"].(string); ok {
		out.SourceURL = strings.TrimSpace(v)
	}
	if v, ok := m["confidence"].(float64); ok {
		out.Confidence = clamp01(v)
	}
	return out, nil
}

// call runs one rate-limited, breaker-guarded, retried oracle request.
func (a *Adapter) call(ctx context.Context, op, prompt string, maxTokens int) (*oracle.Response, error) {
	return resilience.Retry(ctx, a.retry, op, func(ctx context.Context) (*oracle.Response, error) {
		if err := a.breaker.Allow(); err != nil {
			return nil, err
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "search: rate limiter")
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		resp, err := a.oracle.Research(callCtx, oracle.Request{
			Model:     a.model,
			Prompt:    prompt,
			MaxTokens: int64(maxTokens),
		})
		if err != nil {
			if status := oracle.StatusOf(err); resilience.RetryableStatus(status) {
				err = resilience.Transient(err, status)
			}
			a.breaker.Record(err)
			return nil, err
		}
		a.breaker.Record(nil)
		return resp, nil
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
