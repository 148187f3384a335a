package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Batch statuses. A batch is queued until a worker claims it, then either
// completed or, after exhausting attempts, failed. Claimed batches whose
// worker died are swept back to queued by the recovery loop.
const (
	BatchQueued    = "queued"
	BatchClaimed   = "claimed"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// Batch is one durable unit of dispatch work: an ordered slice of recipient
// ids belonging to a single campaign. Batches for one dispatch run partition
// the pending set; no recipient id appears in two batches.
type Batch struct {
	ID            string
	CampaignID    string
	Seq           int
	RecipientIDs  []string
	Status        string
	Attempts      int
	ScheduledAt   time.Time
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	WorkerID      string
	LastError     string
}

// Queue is the Postgres-backed batch queue. Claiming uses FOR UPDATE SKIP
// LOCKED so concurrent workers never double-claim a batch.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a batch queue over the given database.
func NewQueue(db *sql.DB) *Queue { return &Queue{db: db} }

// Enqueue persists a dispatch run's batches in one transaction. All-or-
// nothing: a failure leaves no partial run behind.
func (q *Queue) Enqueue(ctx context.Context, batches []Batch) error {
	if len(batches) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	for i := range batches {
		b := &batches[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_batches
				(id, campaign_id, seq, recipient_ids, status, attempts, scheduled_at, next_attempt_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'queued', 0, $5, $5, NOW(), NOW())
		`, b.ID, b.CampaignID, b.Seq, pq.Array(b.RecipientIDs), b.ScheduledAt)
		if err != nil {
			return fmt.Errorf("enqueue batch %d: %w", b.Seq, err)
		}
	}
	return tx.Commit()
}

// ClaimDue atomically claims up to limit due batches for a worker and returns
// them. A batch is due when queued and its next_attempt_at has passed.
func (q *Queue) ClaimDue(ctx context.Context, workerID string, limit int) ([]Batch, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE campaign_batches
		SET status = 'claimed', worker_id = $1, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM campaign_batches
			WHERE status = 'queued' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at, seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, seq, recipient_ids, status, attempts, scheduled_at, next_attempt_at, claimed_at, worker_id, last_error
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		var ids pq.StringArray
		if err := rows.Scan(&b.ID, &b.CampaignID, &b.Seq, &ids, &b.Status, &b.Attempts,
			&b.ScheduledAt, &b.NextAttemptAt, &b.ClaimedAt, &b.WorkerID, &b.LastError); err != nil {
			return nil, fmt.Errorf("scan claimed batch: %w", err)
		}
		b.RecipientIDs = ids
		out = append(out, b)
	}
	return out, rows.Err()
}

// Complete marks a claimed batch done.
func (q *Queue) Complete(ctx context.Context, batchID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE campaign_batches
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, batchID)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return nil
}

// Retry returns a claimed batch to the queue with a backoff delay and an
// incremented attempt counter. When attempts have reached maxAttempts the
// batch is marked failed instead.
func (q *Queue) Retry(ctx context.Context, batchID string, cause string, backoff time.Duration, maxAttempts int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE campaign_batches
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $4 THEN 'failed' ELSE 'queued' END,
		    next_attempt_at = NOW() + $3 * INTERVAL '1 second',
		    worker_id = '',
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, batchID, cause, int(backoff.Seconds()), maxAttempts)
	if err != nil {
		return fmt.Errorf("retry batch: %w", err)
	}
	return nil
}

// Release returns a claimed batch to queued without burning an attempt.
// Used when a worker declines work it claimed, e.g. the campaign was paused
// after dispatch.
func (q *Queue) Release(ctx context.Context, batchID string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE campaign_batches
		SET status = 'queued',
		    next_attempt_at = NOW() + $2 * INTERVAL '1 second',
		    worker_id = '',
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, batchID, int(delay.Seconds()))
	if err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}

// Abandon drops all queued or claimed batches for a campaign. Used by cancel:
// in-flight recipient work finishes, but no further batch starts.
func (q *Queue) Abandon(ctx context.Context, campaignID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE campaign_batches
		SET status = 'failed', last_error = 'campaign cancelled', updated_at = NOW()
		WHERE campaign_id = $1 AND status IN ('queued', 'claimed')
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("abandon batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReclaimStale sweeps batches claimed longer than staleAfter ago back to
// queued. Covers workers that died mid-batch; recipient-level idempotency
// makes re-execution safe.
func (q *Queue) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE campaign_batches
		SET status = 'queued', worker_id = '', claimed_at = NULL,
		    next_attempt_at = NOW(), updated_at = NOW()
		WHERE status = 'claimed' AND claimed_at < NOW() - $1 * INTERVAL '1 second'
	`, int(staleAfter.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PendingForCampaign reports how many batches are still queued or claimed
// for a campaign.
func (q *Queue) PendingForCampaign(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_batches
		WHERE campaign_id = $1 AND status IN ('queued', 'claimed')
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending batches: %w", err)
	}
	return n, nil
}
