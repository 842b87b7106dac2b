package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/auctionintel/research-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	caller_ref    TEXT NOT NULL DEFAULT '',
	organizations TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	concurrency   INTEGER NOT NULL DEFAULT 4,
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	started_at    DATETIME,
	ended_at      DATETIME
);

CREATE TABLE IF NOT EXISTS job_items (
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	organization TEXT NOT NULL,
	position     INTEGER NOT NULL,
	data         TEXT NOT NULL,
	PRIMARY KEY (job_id, organization)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	seq        INTEGER NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (job_id, seq)
);

CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint  TEXT PRIMARY KEY,
	organization TEXT NOT NULL,
	phase        TEXT NOT NULL,
	entry        TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_items_position ON job_items(job_id, position);
CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	orgsJSON, err := json.Marshal(job.Organizations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal organizations")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, caller_ref, organizations, status, concurrency, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.CallerRef, string(orgsJSON), string(job.Status), job.Concurrency, job.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert job")
	}

	for i, org := range job.Organizations {
		item := model.NewResearchItem(org)
		data, err := json.Marshal(item)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal item")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_items (job_id, organization, position, data) VALUES (?, ?, ?, ?)`,
			job.ID, org, i, string(data),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert item %s", org)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, caller_ref, organizations, status, concurrency, error, created_at, started_at, ended_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?,
		        started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
		        ended_at   = CASE WHEN ? IN ('completed','failed','canceled') THEN ? ELSE ended_at END
		 WHERE id = ?`,
		string(status), errMsg, string(status), now, string(status), now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, caller_ref, organizations, status, concurrency, error, created_at, started_at, ended_at
	          FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) SaveItem(ctx context.Context, jobID string, item model.ResearchItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal item")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_items SET data = ? WHERE job_id = ? AND organization = ?`,
		string(data), jobID, item.Organization,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save item %s", item.Organization)
	}
	return checkRowsAffected(res, "item", item.Organization)
}

func (s *SQLiteStore) ListItems(ctx context.Context, jobID string) ([]model.ResearchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM job_items WHERE job_id = ? ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items %s", jobID)
	}
	defer rows.Close()

	var items []model.ResearchItem
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		var item model.ResearchItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal item")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (job_id, seq, data, created_at) VALUES (?, ?, ?, ?)`,
		cp.JobID, cp.Seq, string(data), cp.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s/%d", cp.JobID, cp.Seq)
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE job_id = ? ORDER BY seq DESC LIMIT 1`,
		jobID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest checkpoint %s", jobID)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *SQLiteStore) CacheGet(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM result_cache WHERE fingerprint = ? AND expires_at > ?`,
		fingerprint, time.Now().UTC(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache get")
	}

	var entry model.CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cache entry")
	}
	return &entry, nil
}

func (s *SQLiteStore) CachePut(ctx context.Context, entry *model.CacheEntry, ttl time.Duration) (*model.CacheEntry, error) {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal cache entry")
	}

	// First writer wins; an expired row is replaceable.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO result_cache (fingerprint, organization, phase, entry, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE
		 SET organization = excluded.organization, phase = excluded.phase,
		     entry = excluded.entry, created_at = excluded.created_at, expires_at = excluded.expires_at
		 WHERE result_cache.expires_at <= ?`,
		entry.Fingerprint, entry.Organization, string(entry.Phase), string(data), now, now.Add(ttl), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache put")
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

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM result_cache WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var orgsJSON string
	var startedAt, endedAt sql.NullTime

	err := row.Scan(&j.ID, &j.CallerRef, &orgsJSON, &j.Status, &j.Concurrency, &j.Error, &j.CreatedAt, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if err := json.Unmarshal([]byte(orgsJSON), &j.Organizations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal organizations")
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		j.EndedAt = &t
	}
	return &j, nil
}
