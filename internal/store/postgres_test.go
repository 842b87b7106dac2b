package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionintel/research-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, caller_ref, organizations, status, concurrency, error, created_at, started_at, ended_at FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_CopiesItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-1", "ref-1", pgxmock.AnyArg(), "queued", 4, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom([]string{"job_items"}, []string{"job_id", "organization", "position", "data"}).
		WillReturnResult(2)

	err := s.CreateJob(context.Background(), &model.Job{
		ID:            "job-1",
		CallerRef:     "ref-1",
		Organizations: []string{"Org A", "Org B"},
		Status:        model.JobQueued,
		Concurrency:   4,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs("running", "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJobStatus(context.Background(), "missing", model.JobRunning, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CacheGet_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT entry FROM result_cache`).
		WithArgs("fp-unknown").
		WillReturnError(pgx.ErrNoRows)

	entry, err := s.CacheGet(context.Background(), "fp-unknown")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CacheGet_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	stored := model.CacheEntry{
		Fingerprint:  "fp-1",
		Organization: "Org A",
		Phase:        model.PhaseQuickScan,
		Found:        true,
		Finding:      &model.Finding{EventTitle: "Gala", AuctionType: model.AuctionSilent, Confidence: 0.9},
	}
	data, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT entry FROM result_cache`).
		WithArgs("fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"entry"}).AddRow(data))

	entry, err := s.CacheGet(context.Background(), "fp-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Gala", entry.Finding.EventTitle)
	assert.True(t, entry.Found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CachePut_FirstWriterWins(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	original := model.CacheEntry{
		Fingerprint: "fp-1",
		Found:       true,
		Finding:     &model.Finding{EventTitle: "Original Gala", AuctionType: model.AuctionLive},
	}
	originalJSON, err := json.Marshal(original)
	require.NoError(t, err)

	// The insert conflicts with a live row; the read-back returns the
	// original writer's entry.
	mock.ExpectExec(`ON CONFLICT \(fingerprint\) DO UPDATE`).
		WithArgs("fp-1", "Org A", "quick_scan", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT entry FROM result_cache`).
		WithArgs("fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"entry"}).AddRow(originalJSON))

	winner, err := s.CachePut(context.Background(), &model.CacheEntry{
		Fingerprint:  "fp-1",
		Organization: "Org A",
		Phase:        model.PhaseQuickScan,
		Found:        true,
		Finding:      &model.Finding{EventTitle: "Conflicting Gala", AuctionType: model.AuctionBoth},
	}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Original Gala", winner.Finding.EventTitle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCheckpoint(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("job-1", int64(3), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveCheckpoint(context.Background(), &model.Checkpoint{
		JobID:     "job-1",
		Seq:       3,
		Cursor:    20,
		Items:     map[string]model.ItemStatus{"Org A": model.ItemSucceeded},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestCheckpoint_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM checkpoints`).
		WithArgs("job-1").
		WillReturnError(pgx.ErrNoRows)

	cp, err := s.LatestCheckpoint(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.NoError(t, mock.ExpectationsWereMet())
}
