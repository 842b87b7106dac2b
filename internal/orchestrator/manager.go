package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/store"
	"github.com/auctionintel/research-engine/internal/stream"
)

// ErrJobNotFound is returned for lifecycle calls on unknown jobs.
var ErrJobNotFound = eris.New("job not found")

// Manager is the registry of live jobs. One orchestrator and one event log
// exist per job for the life of the process; terminal jobs keep their log
// around for late subscribers until the manager is asked to drop them.
type Manager struct {
	store     store.Store
	runner    Runner
	cfg       config.ResearchConfig
	streamBuf int

	mu    sync.Mutex
	orchs map[string]*Orchestrator
	logs  map[string]*stream.Log
}

// NewManager creates a job manager.
func NewManager(st store.Store, runner Runner, cfg config.ResearchConfig, streamBuffer int) *Manager {
	return &Manager{
		store:     st,
		runner:    runner,
		cfg:       cfg,
		streamBuf: streamBuffer,
		orchs:     make(map[string]*Orchestrator),
		logs:      make(map[string]*stream.Log),
	}
}

// StartJob validates, persists, and launches a new job, returning
// immediately with the queued job.
func (m *Manager) StartJob(ctx context.Context, orgs []string, callerRef string, concurrency int) (*model.Job, error) {
	orgs = dedupe(orgs)
	if len(orgs) == 0 {
		return nil, eris.New("manager: job has no organizations")
	}
	if max := m.cfg.MaxOrganizations; max > 0 && len(orgs) > max {
		return nil, eris.Errorf("manager: job exceeds %d organizations", max)
	}
	if concurrency <= 0 {
		concurrency = m.cfg.DefaultConcurrency
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if max := m.cfg.MaxConcurrency; max > 0 && concurrency > max {
		concurrency = max
	}

	job := &model.Job{
		ID:            uuid.New().String(),
		CallerRef:     callerRef,
		Organizations: orgs,
		Status:        model.JobQueued,
		Concurrency:   concurrency,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	log := stream.NewLog(job.ID, m.streamBuf)
	o, err := newOrchestrator(ctx, job, m.store, log, m.runner, m.cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.logs[job.ID] = log
	m.orchs[job.ID] = o
	m.mu.Unlock()

	o.start()
	zap.L().Info("job started",
		zap.String("job_id", job.ID),
		zap.Int("organizations", len(orgs)),
		zap.Int("concurrency", concurrency),
	)
	return job, nil
}

// Cancel stops a job permanently. It returns once the stop is requested;
// workers drain in the background and the terminal event follows.
func (m *Manager) Cancel(jobID string) error {
	o := m.orchestrator(jobID)
	if o == nil {
		return ErrJobNotFound
	}
	o.stop(false)
	return nil
}

// Pause stops a job's workers but keeps it resumable.
func (m *Manager) Pause(jobID string) error {
	o := m.orchestrator(jobID)
	if o == nil {
		return ErrJobNotFound
	}
	o.stop(true)
	return nil
}

// Resume continues a paused job, or rebuilds an interrupted one from its
// latest checkpoint after a restart.
func (m *Manager) Resume(ctx context.Context, jobID string) error {
	if o := m.orchestrator(jobID); o != nil {
		o.wait() // let a pending pause drain before relaunching
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return eris.Errorf("manager: job %s is %s", jobID, job.Status)
		}
		o.start()
		return nil
	}

	// Crash recovery: no live orchestrator for this job.
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return eris.Errorf("manager: job %s is %s", jobID, job.Status)
	}

	log := stream.NewLog(job.ID, m.streamBuf)
	o, err := newOrchestrator(ctx, job, m.store, log, m.runner, m.cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.logs[job.ID] = log
	m.orchs[job.ID] = o
	m.mu.Unlock()

	o.start()
	zap.L().Info("job resumed", zap.String("job_id", jobID))
	return nil
}

// Log returns the live event log for a job, or nil.
func (m *Manager) Log(jobID string) *stream.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[jobID]
}

// Wait blocks until a job's current run drains. Used by the CLI and tests.
func (m *Manager) Wait(jobID string) {
	if o := m.orchestrator(jobID); o != nil {
		o.wait()
	}
}

// Drop forgets a terminal job's orchestrator and log.
func (m *Manager) Drop(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orchs, jobID)
	delete(m.logs, jobID)
}

func (m *Manager) orchestrator(jobID string) *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orchs[jobID]
}

// dedupe drops repeated organizations, keeping first occurrence order.
func dedupe(orgs []string) []string {
	seen := make(map[string]struct{}, len(orgs))
	out := orgs[:0:0]
	for _, org := range orgs {
		if org == "" {
			continue
		}
		if _, ok := seen[org]; ok {
			continue
		}
		seen[org] = struct{}{}
		out = append(out, org)
	}
	return out
}
