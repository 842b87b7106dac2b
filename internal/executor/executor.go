// Package executor runs the per-organization research state machine:
// quick scan, deep research, then targeted follow-up for missing fields,
// with early stopping and the shared result cache consulted before any
// billable oracle call.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/gate"
	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/search"
)

// Searcher is the slice of the search adapter the executor uses.
type Searcher interface {
	RunPhase(ctx context.Context, org string, phase model.Phase) (*search.PhaseOutcome, error)
	Followup(ctx context.Context, org, field string, base model.Finding) (*search.FieldOutcome, error)
	PolicyVersion() string
}

// Cache is the slice of the store the executor uses.
type Cache interface {
	CacheGet(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	CachePut(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) (*model.CacheEntry, error)
}

// Executor researches one organization at a time. It is stateless across
// calls and safe for concurrent use.
type Executor struct {
	search Searcher
	cache  Cache
	cfg    config.ResearchConfig
	ttl    time.Duration
}

// Follow-up answers below this confidence are discarded.
const followupMinConfidence = 0.5

// New creates an executor.
func New(s Searcher, c Cache, cfg config.ResearchConfig, cacheTTL time.Duration) *Executor {
	if cfg.EarlyStopConfidence <= 0 {
		cfg.EarlyStopConfidence = 0.8
	}
	if cfg.MaxFollowups <= 0 {
		cfg.MaxFollowups = 3
	}
	if cacheTTL <= 0 {
		cacheTTL = 168 * time.Hour
	}
	return &Executor{search: s, cache: c, cfg: cfg, ttl: cacheTTL}
}

// Run researches one organization to a terminal item. Failures are recorded
// on the item rather than returned; the orchestrator treats the item as the
// single source of truth for what happened.
func (e *Executor) Run(ctx context.Context, org string) model.ResearchItem {
	item := model.NewResearchItem(org)
	item.Status = model.ItemInProgress

	log := zap.L().With(zap.String("organization", org))

	for _, phase := range []model.Phase{model.PhaseQuickScan, model.PhaseDeepResearch} {
		if ctx.Err() != nil {
			return failed(item, ctx.Err())
		}
		item.Phase = phase

		outcome, fromCache, err := e.runPhase(ctx, org, phase, log)
		if err != nil {
			return failed(item, err)
		}
		if fromCache {
			item.FromCache = true
		} else {
			item.Attempts++
		}

		if outcome.Finding != nil && outcome.Confidence > item.Confidence {
			f := *outcome.Finding
			item.Best = &f
			item.Confidence = outcome.Confidence
		}

		// Quick-negative: a confident no-event conclusion at quick scan
		// ends the cascade without spending deeper calls.
		if phase == model.PhaseQuickScan && !outcome.HasEvent &&
			outcome.Confidence >= e.cfg.EarlyStopConfidence {
			item.Phase = model.PhaseDone
			item.Status = model.ItemNotFound
			item.Confidence = outcome.Confidence
			return item
		}

		// Quick-positive: a confident gated finding skips deep research
		// and goes straight to follow-up.
		if item.Best != nil && item.Confidence >= e.cfg.EarlyStopConfidence {
			break
		}
	}

	if item.Best == nil {
		item.Phase = model.PhaseDone
		item.Status = model.ItemNotFound
		return item
	}

	e.followUp(ctx, &item, log)

	item.Phase = model.PhaseDone
	item.Status = model.ItemSucceeded
	return item
}

// runPhase consults the cache, falls through to the oracle on a miss, and
// commits the fresh outcome exactly once.
func (e *Executor) runPhase(ctx context.Context, org string, phase model.Phase, log *zap.Logger) (*search.PhaseOutcome, bool, error) {
	fp := search.Fingerprint(org, phase, e.search.PolicyVersion())

	entry, err := e.cache.CacheGet(ctx, fp)
	if err != nil {
		// A cache read failure costs a duplicate oracle call, not the item.
		log.Warn("cache read failed", zap.String("phase", string(phase)), zap.Error(err))
	}
	if entry != nil {
		out := &search.PhaseOutcome{
			HasEvent:   entry.Found,
			Confidence: entry.Confidence,
		}
		if entry.Finding != nil {
			f := *entry.Finding
			out.Finding = &f
			out.Confidence = f.Confidence
		}
		return out, true, nil
	}

	outcome, err := e.search.RunPhase(ctx, org, phase)
	if err != nil {
		return nil, false, err
	}

	put := &model.CacheEntry{
		Fingerprint:  fp,
		Organization: org,
		Phase:        phase,
		Found:        outcome.Finding != nil,
		Finding:      outcome.Finding,
		Confidence:   outcome.Confidence,
	}
	if winner, err := e.cache.CachePut(ctx, put, e.ttl); err != nil {
		log.Warn("cache write failed", zap.String("phase", string(phase)), zap.Error(err))
	} else if winner != put {
		// Another job won the race; adopt its entry wholesale so every
		// caller sees one answer per fingerprint, even when one side
		// concluded not-found.
		outcome.HasEvent = winner.Found
		outcome.Confidence = winner.Confidence
		outcome.Finding = nil
		if winner.Finding != nil {
			f := *winner.Finding
			outcome.Finding = &f
			outcome.Confidence = f.Confidence
		}
	}

	return outcome, false, nil
}

// followUp chases the most valuable missing fields of the best finding.
// Follow-up failures never fail the item; the field just stays empty.
func (e *Executor) followUp(ctx context.Context, item *model.ResearchItem, log *zap.Logger) {
	item.Phase = model.PhaseTargetedFollowup

	missing := item.Best.MissingFields()
	if len(missing) > e.cfg.MaxFollowups {
		missing = missing[:e.cfg.MaxFollowups]
	}

	for _, field := range missing {
		if ctx.Err() != nil {
			return
		}

		out, err := e.search.Followup(ctx, item.Organization, field, *item.Best)
		if err != nil {
			log.Warn("follow-up failed", zap.String("field", field), zap.Error(err))
			continue
		}
		item.Attempts++

		if out.Value == "" || out.Confidence < followupMinConfidence {
			continue
		}
		applyField(item.Best, field, out.Value, out.SourceURL)
	}
}

func applyField(f *model.Finding, field, value, sourceURL string) {
	switch field {
	case "event_url":
		f.EventURL = value
	case "contact_email":
		f.ContactEmail = value
	case "event_date":
		f.EventDate = value
	case "auction_type":
		if at := gate.ParseAuctionType(value); at != model.AuctionUnknown {
			f.AuctionType = at
		}
	case "contact_role":
		f.ContactRole = value
	case "organization_address":
		f.Address = value
	case "organization_phone":
		f.Phone = value
	}
	if f.SourceURL == "" && sourceURL != "" {
		f.SourceURL = sourceURL
	}
}

func failed(item model.ResearchItem, err error) model.ResearchItem {
	item.Phase = model.PhaseDone
	item.Status = model.ItemFailed
	item.Error = err.Error()
	return item
}
