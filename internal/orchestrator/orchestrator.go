// Package orchestrator drives research jobs: a worker pool per job, ordered
// dispatch from the latest checkpoint, periodic durable checkpoints, and the
// cancel/pause/resume lifecycle. The Manager owns the registry of live jobs.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/store"
	"github.com/auctionintel/research-engine/internal/stream"
)

// Runner researches one organization to a terminal item.
type Runner interface {
	Run(ctx context.Context, org string) model.ResearchItem
}

// Orchestrator executes one job. Item state is owned by the worker
// processing it; the collector loop owns the cursor, the state map, and
// checkpoint writes, which serializes checkpoints per job by construction.
type Orchestrator struct {
	job    *model.Job
	store  store.Store
	log    *stream.Log
	runner Runner
	cfg    config.ResearchConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	pausing bool
	running bool

	seq    int64
	cursor int
	states map[string]model.ItemStatus
}

// newOrchestrator builds an orchestrator, restoring progress from the
// latest checkpoint if one exists.
func newOrchestrator(ctx context.Context, job *model.Job, st store.Store, log *stream.Log, runner Runner, cfg config.ResearchConfig) (*Orchestrator, error) {
	o := &Orchestrator{
		job:    job,
		store:  st,
		log:    log,
		runner: runner,
		cfg:    cfg,
		states: make(map[string]model.ItemStatus),
	}

	cp, err := st.LatestCheckpoint(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		o.seq = cp.Seq
		o.cursor = cp.Cursor
		for org, status := range cp.Items {
			// Only terminal states survive a restart; anything that was
			// in flight runs again.
			if status.Terminal() {
				o.states[org] = status
			}
		}
	}
	return o, nil
}

// start launches the job loop. Calls on an already-running orchestrator are
// ignored; this is what makes Resume idempotent.
func (o *Orchestrator) start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.pausing = false
	o.running = true
	o.mu.Unlock()

	go o.run(ctx)
}

// stop cancels the worker pool. pause keeps the job resumable.
func (o *Orchestrator) stop(pause bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.pausing = pause
	o.cancel()
}

// wait blocks until the current run drains.
func (o *Orchestrator) wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer func() {
		o.mu.Lock()
		o.running = false
		close(o.done)
		o.mu.Unlock()
	}()

	log := zap.L().With(zap.String("job_id", o.job.ID))
	total := len(o.job.Organizations)

	if err := o.store.UpdateJobStatus(ctx, o.job.ID, model.JobRunning, ""); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
		o.finalize(model.JobFailed, err.Error(), total)
		return
	}

	// Snapshot the pending items before workers start; o.states is owned by
	// the collector loop from here on.
	var pending []string
	for i := o.cursor; i < total; i++ {
		org := o.job.Organizations[i]
		if !o.states[org].Terminal() {
			pending = append(pending, org)
		}
	}

	results := make(chan model.ResearchItem)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.job.Concurrency)

	go func() {
		for _, org := range pending {
			org := org
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				o.log.Append(model.EventItemStarted, func(ev *model.ProgressEvent) {
					item := model.NewResearchItem(org)
					item.Status = model.ItemInProgress
					ev.Item = &item
				})
				item := o.runner.Run(gctx, org)
				if gctx.Err() != nil && item.Status == model.ItemFailed {
					// A cancellation artifact, not a real failure. The
					// item reruns on resume.
					return nil
				}
				results <- item
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	sinceCheckpoint := 0
	checkpointFailed := false
	for item := range results {
		o.states[item.Organization] = item.Status
		if err := o.store.SaveItem(ctx, o.job.ID, item); err != nil {
			log.Error("failed to persist item",
				zap.String("organization", item.Organization), zap.Error(err))
		}

		kind := model.EventItemCompleted
		if item.Status == model.ItemFailed {
			kind = model.EventItemFailed
		}
		processed := o.terminalCount()
		it := item
		o.log.Append(kind, func(ev *model.ProgressEvent) {
			ev.Item = &it
			ev.Error = item.Error
			ev.Processed = processed
			ev.Total = total
		})

		sinceCheckpoint++
		if sinceCheckpoint >= o.checkpointEvery() {
			if err := o.checkpoint(); err != nil {
				log.Error("checkpoint write failed, aborting job", zap.Error(err))
				checkpointFailed = true
				o.mu.Lock()
				o.pausing = false
				o.mu.Unlock()
				o.cancel()
				// Keep draining; workers exit on the canceled context.
				continue
			}
			sinceCheckpoint = 0
		}
	}

	// Final durable checkpoint regardless of how the run ended.
	if err := o.checkpoint(); err != nil && !checkpointFailed {
		log.Error("final checkpoint write failed", zap.Error(err))
		checkpointFailed = true
	}

	processed := o.terminalCount()
	switch {
	case checkpointFailed:
		o.finalize(model.JobFailed, "checkpoint write failed", total)
	case ctx.Err() != nil && o.isPausing():
		// Paused: no terminal event, the stream stays open for resume.
		if err := o.store.UpdateJobStatus(context.Background(), o.job.ID, model.JobPaused, ""); err != nil {
			log.Error("failed to mark job paused", zap.Error(err))
		}
		log.Info("job paused", zap.Int("processed", processed), zap.Int("total", total))
	case ctx.Err() != nil:
		o.finalize(model.JobCanceled, "", total)
	default:
		o.finalize(model.JobCompleted, "", total)
	}
}

// finalize writes the terminal job status and emits the closing event.
func (o *Orchestrator) finalize(status model.JobStatus, errMsg string, total int) {
	// The run context may already be canceled; terminal writes still run.
	ctx := context.Background()
	if err := o.store.UpdateJobStatus(ctx, o.job.ID, status, errMsg); err != nil {
		zap.L().Error("failed to write terminal job status",
			zap.String("job_id", o.job.ID), zap.Error(err))
	}

	kind := model.EventJobCompleted
	switch status {
	case model.JobFailed:
		kind = model.EventJobFailed
	case model.JobCanceled:
		kind = model.EventJobCanceled
	}
	processed := o.terminalCount()
	o.log.Append(kind, func(ev *model.ProgressEvent) {
		ev.Error = errMsg
		ev.Processed = processed
		ev.Total = total
	})
}

// checkpoint advances the cursor over the terminal prefix and writes a
// durable snapshot. The in-memory cursor moves only after the write lands.
func (o *Orchestrator) checkpoint() error {
	cursor := o.cursor
	for cursor < len(o.job.Organizations) && o.states[o.job.Organizations[cursor]].Terminal() {
		cursor++
	}

	cp := &model.Checkpoint{
		JobID:     o.job.ID,
		Seq:       o.seq + 1,
		Cursor:    cursor,
		Items:     make(map[string]model.ItemStatus, len(o.states)),
		CreatedAt: time.Now().UTC(),
	}
	for org, status := range o.states {
		cp.Items[org] = status
	}

	if err := o.store.SaveCheckpoint(context.Background(), cp); err != nil {
		return err
	}
	o.seq = cp.Seq
	o.cursor = cursor

	o.log.Append(model.EventCheckpointSaved, func(ev *model.ProgressEvent) {
		ev.Checkpoint = cp
	})
	return nil
}

func (o *Orchestrator) checkpointEvery() int {
	if o.cfg.CheckpointEvery > 0 {
		return o.cfg.CheckpointEvery
	}
	return 10
}

func (o *Orchestrator) terminalCount() int {
	n := 0
	for _, st := range o.states {
		if st.Terminal() {
			n++
		}
	}
	return n
}

func (o *Orchestrator) isPausing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pausing
}
