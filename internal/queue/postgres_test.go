package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStatsAggregation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT state, COUNT\(\*\) FROM relay_jobs GROUP BY state`).
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).
			AddRow("queued", 4).
			AddRow("processing", 2).
			AddRow("completed", 10).
			AddRow("failed", 1).
			AddRow("cancelled", 3))

	s := NewPostgresStore(db)
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 4 || stats.Active != 2 || stats.Completed != 10 || stats.Failed != 1 || stats.Cancelled != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresRetryDistinguishesRejections(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewPostgresStore(db)
	ctx := context.Background()

	// Retryable: the guarded UPDATE hits a row.
	mock.ExpectExec(`UPDATE relay_jobs`).
		WithArgs("job-ok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Retry(ctx, "job-ok"); err != nil {
		t.Errorf("retry: %v", err)
	}

	// Exists but not retryable.
	mock.ExpectExec(`UPDATE relay_jobs`).
		WithArgs("job-done").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("job-done").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := s.Retry(ctx, "job-done"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("exhausted retry: got %v, want ErrNotRetryable", err)
	}

	// Unknown job.
	mock.ExpectExec(`UPDATE relay_jobs`).
		WithArgs("job-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("job-missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := s.Retry(ctx, "job-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing retry: got %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresReleaseLeavesAttemptsAlone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// The release update carries no attempts arithmetic and no budget guard.
	mock.ExpectExec(`UPDATE relay_jobs\s+SET state = 'queued', state_detail = \$2`).
		WithArgs("j1", "waiting", int64(60000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	if err := s.Release(context.Background(), "j1", time.Minute, "waiting"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Zero rows means the job was not claimed.
	mock.ExpectExec(`UPDATE relay_jobs\s+SET state = 'queued', state_detail = \$2`).
		WithArgs("j2", "waiting", int64(60000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.Release(context.Background(), "j2", time.Minute, "waiting"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("release unclaimed: got %v, want ErrNotRetryable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresDequeueEmptyQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`WITH claimed AS`).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows(nil))

	s := NewPostgresStore(db)
	job, err := s.Dequeue(context.Background(), "w1")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job != nil {
		t.Errorf("empty queue returned %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
