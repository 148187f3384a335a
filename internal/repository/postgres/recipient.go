package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/mailblast/internal/domain"
	"github.com/ignite/mailblast/internal/pkg/logger"
)

// InsertChunkSize bounds the number of rows per INSERT when attaching very
// large contact lists, to limit per-statement work and lock duration.
const InsertChunkSize = 1000

// pendingPageSize is the keyset page size used when streaming pending
// recipient ids. Ids are paged rather than loaded as model objects so a
// campaign larger than memory stays dispatchable.
const pendingPageSize = 10000

// RecipientRepo implements the recipient store against PostgreSQL.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

// CreateBatch inserts one pending row per contact id not already attached to
// the campaign. Safe to call repeatedly: an existing (campaign, contact) pair
// is silently skipped, never an error. Returns the number of rows inserted.
func (r *RecipientRepo) CreateBatch(ctx context.Context, campaignID string, contactIDs []string) (int, error) {
	inserted := 0
	for start := 0; start < len(contactIDs); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(contactIDs) {
			end = len(contactIDs)
		}
		n, err := r.insertChunk(ctx, campaignID, contactIDs[start:end])
		if err != nil {
			return inserted, fmt.Errorf("insert recipients chunk at %d: %w", start, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (r *RecipientRepo) insertChunk(ctx context.Context, campaignID string, contactIDs []string) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(contactIDs))
	args := make([]interface{}, 0, len(contactIDs)*2+1)
	args = append(args, campaignID)
	idx := 2
	for _, contactID := range contactIDs {
		values = append(values, fmt.Sprintf("($%d, $1, $%d, 'pending', NOW(), NOW())", idx, idx+1))
		args = append(args, uuid.New().String(), contactID)
		idx += 2
	}

	q := `
		INSERT INTO campaign_recipients (id, campaign_id, contact_id, status, created_at, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (campaign_id, contact_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListPendingIDs returns the ids of all pending recipients for a campaign in
// stable id order, paging through the table with keyset pagination. The id
// column is uuid, so the first page runs without a lower bound; an empty
// string is not a valid uuid parameter.
func (r *RecipientRepo) ListPendingIDs(ctx context.Context, campaignID string) ([]string, error) {
	const firstPage = `
		SELECT id FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY id
		LIMIT $2`
	const nextPage = `
		SELECT id FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'pending' AND id > $2
		ORDER BY id
		LIMIT $3`

	var ids []string
	last := ""
	for {
		var rows *sql.Rows
		var err error
		if last == "" {
			rows, err = r.db.QueryContext(ctx, firstPage, campaignID, pendingPageSize)
		} else {
			rows, err = r.db.QueryContext(ctx, nextPage, campaignID, last, pendingPageSize)
		}
		if err != nil {
			return nil, fmt.Errorf("list pending recipients: %w", err)
		}

		count := 0
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan recipient id: %w", err)
			}
			ids = append(ids, id)
			last = id
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate pending recipients: %w", err)
		}
		rows.Close()

		if count < pendingPageSize {
			return ids, nil
		}
	}
}

// UpdateStatus records the delivery outcome for one recipient. Only pending
// rows transition: re-applying an outcome to an already-terminal recipient is
// a no-op, which makes batch re-execution safe under at-least-once delivery.
// A missing row (campaign deleted mid-flight) is logged and ignored; it must
// never fail the worker's batch loop.
func (r *RecipientRepo) UpdateStatus(ctx context.Context, recipientID string, status domain.RecipientStatus, errMsg string) error {
	var res sql.Result
	var err error
	switch status {
	case domain.RecipientSent:
		res, err = r.db.ExecContext(ctx, `
			UPDATE campaign_recipients
			SET status = 'sent', sent_at = NOW(), error_message = '', updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, recipientID)
	case domain.RecipientFailed:
		res, err = r.db.ExecContext(ctx, `
			UPDATE campaign_recipients
			SET status = 'failed', error_message = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, recipientID, truncateError(errMsg))
	default:
		return fmt.Errorf("unsupported recipient transition to %q", status)
	}
	if err != nil {
		return fmt.Errorf("update recipient %s: %w", recipientID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.Warn("recipient status update skipped", "recipient_id", recipientID, "status", string(status))
	}
	return nil
}

// CountByStatus returns the authoritative per-status counts for a campaign
// in a single aggregate query.
func (r *RecipientRepo) CountByStatus(ctx context.Context, campaignID string) (domain.StatusCounts, error) {
	var counts domain.StatusCounts
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM campaign_recipients
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return counts, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan status count: %w", err)
		}
		switch domain.RecipientStatus(status) {
		case domain.RecipientPending:
			counts.Pending = n
		case domain.RecipientSent:
			counts.Sent = n
		case domain.RecipientFailed:
			counts.Failed = n
		case domain.RecipientOpened:
			counts.Opened = n
		case domain.RecipientClicked:
			counts.Clicked = n
		}
	}
	return counts, rows.Err()
}

// ResetFailed moves all failed recipients back to pending, clearing their
// error, and returns how many rows were reset.
func (r *RecipientRepo) ResetFailed(ctx context.Context, campaignID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'pending', error_message = '', sent_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND status = 'failed'
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("reset failed recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FailPending force-fails every pending recipient with the given reason.
// Used by cancel. Returns the number of rows transitioned.
func (r *RecipientRepo) FailPending(ctx context.Context, campaignID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID, truncateError(reason))
	if err != nil {
		return 0, fmt.Errorf("fail pending recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByContacts detaches the given contacts from a campaign and returns
// how many recipient rows were removed.
func (r *RecipientRepo) DeleteByContacts(ctx context.Context, campaignID string, contactIDs []string) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(contactIDs))
	args := make([]interface{}, 0, len(contactIDs)+1)
	args = append(args, campaignID)
	for i, id := range contactIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaign_recipients
		WHERE campaign_id = $1 AND contact_id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("detach contacts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ContactIDs returns the contact ids currently attached to a campaign.
func (r *RecipientRepo) ContactIDs(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id FROM campaign_recipients WHERE campaign_id = $1 ORDER BY contact_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign contacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func truncateError(msg string) string {
	if len(msg) > 255 {
		return msg[:255]
	}
	return msg
}
