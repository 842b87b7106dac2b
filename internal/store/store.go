// Package store persists jobs, items, checkpoints, and the shared result
// cache. Two backends implement the same interface: SQLite for single-node
// deployments and PostgreSQL for shared ones.
package store

import (
	"context"
	"time"

	"github.com/auctionintel/research-engine/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the research engine.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	// UpdateJobStatus transitions a job, stamping StartedAt on the first
	// move to running and EndedAt on any terminal status.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Items. Rows are created with the job; SaveItem overwrites one.
	SaveItem(ctx context.Context, jobID string, item model.ResearchItem) error
	// ListItems returns items in the job's organization order.
	ListItems(ctx context.Context, jobID string) ([]model.ResearchItem, error)

	// Checkpoints are append-only; the highest Seq is authoritative.
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	LatestCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)

	// Result cache. Get returns nil on miss or expiry. Put is
	// first-writer-wins: the returned entry is the one now in the cache,
	// which may be an earlier writer's.
	CacheGet(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	CachePut(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) (*model.CacheEntry, error)
	DeleteExpiredCache(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
