package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailblast/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoTransition is returned when a guarded status update matched no row,
// meaning the campaign was missing or not in an allowed source state.
var ErrNoTransition = errors.New("no status transition applied")

const campaignColumns = `id, name, subject, body, status, total_recipients, sent_count, failed_count,
	batch_count, batch_size, dispatched_at, scheduled_at, started_at, sent_at, created_at, updated_at`

// CampaignRepo implements the campaign store against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// Create inserts a new draft campaign and returns its id.
func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, subject, body, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.Body, c.Status, c.ScheduledAt)
	if err != nil {
		return "", fmt.Errorf("insert campaign: %w", err)
	}
	return c.ID, nil
}

// Get loads a single campaign by id.
func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// List returns campaigns newest first, optionally filtered by status.
func (r *CampaignRepo) List(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Update persists editable campaign fields (name, subject, body, schedule).
func (r *CampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, subject = $3, body = $4, scheduled_at = $5, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Name, c.Subject, c.Body, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusFrom atomically moves a campaign to a new status, but only when
// its current status is one of the allowed source states. Returns
// ErrNoTransition when no row matched, so callers can distinguish a lost race
// from success without a prior read.
func (r *CampaignRepo) UpdateStatusFrom(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) error {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}
	var res sql.Result
	var err error
	switch to {
	case domain.CampaignSending:
		res, err = r.db.ExecContext(ctx, `
			UPDATE campaigns
			SET status = 'sending', started_at = COALESCE(started_at, NOW()), updated_at = NOW()
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(sources))
	case domain.CampaignSent:
		res, err = r.db.ExecContext(ctx, `
			UPDATE campaigns
			SET status = 'sent', sent_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(sources))
	default:
		res, err = r.db.ExecContext(ctx, `
			UPDATE campaigns
			SET status = $3, updated_at = NOW()
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(sources), to)
	}
	if err != nil {
		return fmt.Errorf("transition campaign to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoTransition
	}
	return nil
}

// SetCounts overwrites the derived progress counters with freshly computed
// values. Counters are never incremented in place; every write is a full
// recompute so crashes and retries cannot drift them.
func (r *CampaignRepo) SetCounts(ctx context.Context, id string, sent, failed int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET sent_count = $2, failed_count = $3, updated_at = NOW() WHERE id = $1
	`, id, sent, failed)
	if err != nil {
		return fmt.Errorf("set campaign counts: %w", err)
	}
	return nil
}

// SetTotalRecipients overwrites the recipient total after attach or detach.
func (r *CampaignRepo) SetTotalRecipients(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET total_recipients = $2, updated_at = NOW() WHERE id = $1
	`, id, total)
	if err != nil {
		return fmt.Errorf("set campaign total: %w", err)
	}
	return nil
}

// SetDispatchMeta records how many batches of what size were enqueued for a
// dispatch run. Informational only.
func (r *CampaignRepo) SetDispatchMeta(ctx context.Context, id string, batchCount, batchSize int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET batch_count = $2, batch_size = $3, dispatched_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, batchCount, batchSize)
	if err != nil {
		return fmt.Errorf("set dispatch metadata: %w", err)
	}
	return nil
}

// CompleteIfDone promotes a sending campaign to sent when every recipient has
// reached a terminal state, writing the recomputed counters in the same
// statement. The status guard makes the transition idempotent: concurrent
// workers racing on the last batch apply it exactly once.
func (r *CampaignRepo) CompleteIfDone(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns c
		SET status = 'sent',
		    sent_count = agg.sent,
		    failed_count = agg.failed,
		    sent_at = NOW(),
		    updated_at = NOW()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE status IN ('sent', 'opened', 'clicked')) AS sent,
				COUNT(*) FILTER (WHERE status = 'failed') AS failed,
				COUNT(*) FILTER (WHERE status = 'pending') AS pending
			FROM campaign_recipients
			WHERE campaign_id = $1
		) agg
		WHERE c.id = $1 AND c.status = 'sending' AND agg.pending = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Delete removes a campaign and its recipient rows.
func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_batches WHERE campaign_id = $1`, id); err != nil {
		return fmt.Errorf("delete batches: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id = $1`, id); err != nil {
		return fmt.Errorf("delete recipients: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Body, &c.Status,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.BatchCount, &c.BatchSize, &c.DispatchedAt,
		&c.ScheduledAt, &c.StartedAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return &c, nil
}
