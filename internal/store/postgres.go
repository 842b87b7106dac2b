package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/auctionintel/research-engine/internal/db"
	"github.com/auctionintel/research-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries to prepare on each new
// connection. Cache reads and item writes dominate traffic.
var preparedStatements = map[string]string{
	"get_job":           `SELECT id, caller_ref, organizations, status, concurrency, error, created_at, started_at, ended_at FROM jobs WHERE id = $1`,
	"save_item":         `UPDATE job_items SET data = $1 WHERE job_id = $2 AND organization = $3`,
	"save_checkpoint":   `INSERT INTO checkpoints (job_id, seq, data, created_at) VALUES ($1, $2, $3, $4)`,
	"latest_checkpoint": `SELECT data FROM checkpoints WHERE job_id = $1 ORDER BY seq DESC LIMIT 1`,
	"cache_get":         `SELECT entry FROM result_cache WHERE fingerprint = $1 AND expires_at > now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	caller_ref    TEXT NOT NULL DEFAULT '',
	organizations JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	concurrency   INTEGER NOT NULL DEFAULT 4,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_items (
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	organization TEXT NOT NULL,
	position     INTEGER NOT NULL,
	data         JSONB NOT NULL,
	PRIMARY KEY (job_id, organization)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	seq        BIGINT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, seq)
);

CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint  TEXT PRIMARY KEY,
	organization TEXT NOT NULL,
	phase        TEXT NOT NULL,
	entry        JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_items_position ON job_items(job_id, position);
CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	orgsJSON, err := json.Marshal(job.Organizations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal organizations")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, caller_ref, organizations, status, concurrency, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.CallerRef, orgsJSON, string(job.Status), job.Concurrency, job.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert job")
	}

	rows := make([][]any, 0, len(job.Organizations))
	for i, org := range job.Organizations {
		item := model.NewResearchItem(org)
		data, err := json.Marshal(item)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal item")
		}
		rows = append(rows, []any{job.ID, org, i, data})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "job_items",
		[]string{"job_id", "organization", "position", "data"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert items for job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, caller_ref, organizations, status, concurrency, error, created_at, started_at, ended_at FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanJobPG(row)
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2,
		        started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $3 ELSE started_at END,
		        ended_at   = CASE WHEN $1 IN ('completed','failed','canceled') THEN $3 ELSE ended_at END
		 WHERE id = $4`,
		string(status), errMsg, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, caller_ref, organizations, status, concurrency, error, created_at, started_at, ended_at FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobPG(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) SaveItem(ctx context.Context, jobID string, item model.ResearchItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal item")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE job_items SET data = $1 WHERE job_id = $2 AND organization = $3`,
		data, jobID, item.Organization,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save item %s", item.Organization)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("item not found: %s", item.Organization)
	}
	return nil
}

func (s *PostgresStore) ListItems(ctx context.Context, jobID string) ([]model.ResearchItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM job_items WHERE job_id = $1 ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items %s", jobID)
	}
	defer rows.Close()

	var items []model.ResearchItem
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		var item model.ResearchItem
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal item")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (job_id, seq, data, created_at) VALUES ($1, $2, $3, $4)`,
		cp.JobID, cp.Seq, data, cp.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s/%d", cp.JobID, cp.Seq)
}

func (s *PostgresStore) LatestCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM checkpoints WHERE job_id = $1 ORDER BY seq DESC LIMIT 1`,
		jobID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest checkpoint %s", jobID)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *PostgresStore) CacheGet(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entry FROM result_cache WHERE fingerprint = $1 AND expires_at > now()`,
		fingerprint,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: cache get")
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cache entry")
	}
	return &entry, nil
}

func (s *PostgresStore) CachePut(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) (*model.CacheEntry, error) {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal cache entry")
	}

	// First writer wins; an expired row is replaceable.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO result_cache (fingerprint, organization, phase, entry, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (fingerprint) DO UPDATE
		 SET organization = excluded.organization, phase = excluded.phase,
		     entry = excluded.entry, created_at = excluded.created_at, expires_at = excluded.expires_at
		 WHERE result_cache.expires_at <= now()`,
		entry.Fingerprint, entry.Organization, string(entry.Phase), data, now, now.Add(ttl),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache put")
	}

	winner, err := s.CacheGet(ctx, entry.Fingerprint)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return entry, nil
	}
	return winner, nil
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM result_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

func scanJobPG(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var orgsJSON []byte

	err := row.Scan(&j.ID, &j.CallerRef, &orgsJSON, &j.Status, &j.Concurrency, &j.Error, &j.CreatedAt, &j.StartedAt, &j.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("job not found")
		}
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	if err := json.Unmarshal(orgsJSON, &j.Organizations); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal organizations")
	}
	return &j, nil
}
