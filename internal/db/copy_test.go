package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
)

func TestCopyFrom(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectCopyFrom([]string{"job_items"}, []string{"job_id", "organization", "position"}).
		WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "job_items",
		[]string{"job_id", "organization", "position"},
		[][]any{
			{"job-1", "Org A", 0},
			{"job-1", "Org B", 1},
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("copied %d rows, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCopyFrom_EmptyRowsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	n, err := CopyFrom(context.Background(), mock, "job_items", []string{"job_id"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("copied %d rows, want 0", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
