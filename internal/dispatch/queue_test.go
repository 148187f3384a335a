package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newQueueMock(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewQueue(db), mock
}

func TestEnqueueIsTransactional(t *testing.T) {
	q, mock := newQueueMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO campaign_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO campaign_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now()
	err := q.Enqueue(context.Background(), []Batch{
		{CampaignID: "camp-1", Seq: 0, RecipientIDs: []string{"a", "b"}, ScheduledAt: now},
		{CampaignID: "camp-1", Seq: 1, RecipientIDs: []string{"c"}, ScheduledAt: now},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnqueueEmptyIsNoop(t *testing.T) {
	q, mock := newQueueMock(t)

	if err := q.Enqueue(context.Background(), nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimDueScansBatches(t *testing.T) {
	q, mock := newQueueMock(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "seq", "recipient_ids", "status", "attempts",
		"scheduled_at", "next_attempt_at", "claimed_at", "worker_id", "last_error",
	}).AddRow("b1", "camp-1", 0, "{r1,r2,r3}", "claimed", 0, now, now, now, "w-1", "")

	mock.ExpectQuery("UPDATE campaign_batches").
		WithArgs("w-1", 1).
		WillReturnRows(rows)

	batches, err := q.ClaimDue(context.Background(), "w-1", 1)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("claimed = %d, want 1", len(batches))
	}
	b := batches[0]
	if b.ID != "b1" || len(b.RecipientIDs) != 3 || b.RecipientIDs[0] != "r1" {
		t.Errorf("batch = %+v", b)
	}
}

func TestClaimDueEmpty(t *testing.T) {
	q, mock := newQueueMock(t)

	mock.ExpectQuery("UPDATE campaign_batches").
		WithArgs("w-1", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "seq", "recipient_ids", "status", "attempts",
			"scheduled_at", "next_attempt_at", "claimed_at", "worker_id", "last_error",
		}))

	batches, err := q.ClaimDue(context.Background(), "w-1", 5)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("claimed = %d, want 0", len(batches))
	}
}

func TestRetrySetsBackoff(t *testing.T) {
	q, mock := newQueueMock(t)

	mock.ExpectExec("UPDATE campaign_batches").
		WithArgs("b1", "db down", 180, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := q.Retry(context.Background(), "b1", "db down", 180*time.Second, 3); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReclaimStale(t *testing.T) {
	q, mock := newQueueMock(t)

	mock.ExpectExec("UPDATE campaign_batches").
		WithArgs(600).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := q.ReclaimStale(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 2 {
		t.Errorf("reclaimed = %d, want 2", n)
	}
}

func TestAbandon(t *testing.T) {
	q, mock := newQueueMock(t)

	mock.ExpectExec("UPDATE campaign_batches").
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := q.Abandon(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if n != 3 {
		t.Errorf("abandoned = %d, want 3", n)
	}
}
