package contact

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ignite/mailblast/internal/domain"
	"github.com/ignite/mailblast/internal/repository/postgres"
)

type memRepo struct {
	rows map[string]*domain.Contact
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]*domain.Contact{}} }

func (m *memRepo) Create(_ context.Context, c *domain.Contact) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	m.rows[c.ID] = c
	return c.ID, nil
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Contact, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) ListActive(_ context.Context, _, _ int) ([]*domain.Contact, error) {
	var out []*domain.Contact
	for _, c := range m.rows {
		if c.Status == domain.ContactActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRepo) BulkImport(_ context.Context, contacts []*domain.Contact) (int, error) {
	n := 0
	for _, c := range contacts {
		email := domain.NormalizeEmail(c.Email)
		if domain.ValidateEmail(email) != nil {
			continue
		}
		c.Email = email
		if _, err := m.Create(context.Background(), c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func TestCreateNormalizesEmail(t *testing.T) {
	svc := NewService(newMemRepo())

	c, err := svc.Create(context.Background(), "Ada", "  Ada@Example.COM ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Email != "ada@example.com" {
		t.Errorf("email = %q, want normalized", c.Email)
	}
	if c.Status != domain.ContactActive {
		t.Errorf("status = %s, want active", c.Status)
	}
}

func TestCreateRejectsInvalidEmail(t *testing.T) {
	svc := NewService(newMemRepo())

	for _, email := range []string{"", "not-an-email", "a@b", "@example.com"} {
		if _, err := svc.Create(context.Background(), "X", email); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Create(%q) err = %v, want ErrInvalidEmail", email, err)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	svc := NewService(newMemRepo())

	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestImportSkipsInvalid(t *testing.T) {
	svc := NewService(newMemRepo())

	n, err := svc.Import(context.Background(), []*domain.Contact{
		{Email: "good@example.com"},
		{Email: "bad"},
		{Email: "also.good@example.com"},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}
}
