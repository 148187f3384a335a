package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailblast/internal/domain"
)

const contactColumns = `id, email, name, status, created_at, updated_at`

// ContactRepo implements the contact store against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// Create inserts a contact. A duplicate email returns the existing row's id
// so imports can run repeatedly without churning ids.
func (r *ContactRepo) Create(ctx context.Context, c *domain.Contact) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.ContactActive
	}
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, email, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, c.ID, c.Email, c.Name, c.Status).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert contact: %w", err)
	}
	c.ID = id
	return id, nil
}

// Get loads a single contact by id.
func (r *ContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	var c domain.Contact
	err := r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE id = $1
	`, id).Scan(&c.ID, &c.Email, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	return &c, nil
}

// GetByIDs loads the subset of the given contacts that exist, preserving no
// particular order.
func (r *ContactRepo) GetByIDs(ctx context.Context, ids []string) ([]*domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list contacts by id: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// ListActive returns active contacts in email order.
func (r *ContactRepo) ListActive(ctx context.Context, limit, offset int) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE status = 'active'
		ORDER BY email
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list active contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// AddressesByRecipientIDs resolves recipient rows to their contact email and
// name in one join, returning a recipient id to address map for a batch send.
func (r *ContactRepo) AddressesByRecipientIDs(ctx context.Context, recipientIDs []string) (map[string]domain.MailAddress, error) {
	if len(recipientIDs) == 0 {
		return map[string]domain.MailAddress{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT cr.id, c.email, c.name
		FROM campaign_recipients cr
		JOIN contacts c ON c.id = cr.contact_id
		WHERE cr.id = ANY($1)
	`, pq.Array(recipientIDs))
	if err != nil {
		return nil, fmt.Errorf("resolve recipient addresses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.MailAddress, len(recipientIDs))
	for rows.Next() {
		var id string
		var addr domain.MailAddress
		if err := rows.Scan(&id, &addr.Email, &addr.Name); err != nil {
			return nil, fmt.Errorf("scan recipient address: %w", err)
		}
		out[id] = addr
	}
	return out, rows.Err()
}

// BulkImport copies contacts into a temporary staging table, then folds them
// into contacts with ON CONFLICT DO NOTHING. Invalid addresses, addresses
// already on file and repeats within the payload are skipped, never abort
// the import. Returns how many new rows landed.
func (r *ContactRepo) BulkImport(ctx context.Context, contacts []*domain.Contact) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE contacts_import (
			id     UUID,
			email  TEXT,
			name   TEXT,
			status TEXT
		) ON COMMIT DROP
	`); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("contacts_import", "id", "email", "name", "status"))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	for _, c := range contacts {
		email := domain.NormalizeEmail(c.Email)
		if err := domain.ValidateEmail(email); err != nil {
			continue
		}
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := c.Status
		if status == "" {
			status = domain.ContactActive
		}
		if _, err := stmt.ExecContext(ctx, id, email, strings.TrimSpace(c.Name), string(status)); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("stage contact: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (id, email, name, status)
		SELECT DISTINCT ON (email) id, email, name, status
		FROM contacts_import
		ON CONFLICT (email) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("fold staged contacts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func scanContacts(rows *sql.Rows) ([]*domain.Contact, error) {
	var out []*domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
