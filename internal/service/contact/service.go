// Package contact manages the address book campaigns draw recipients from.
package contact

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mailblast/internal/domain"
	"github.com/ignite/mailblast/internal/pkg/logger"
	"github.com/ignite/mailblast/internal/repository/postgres"
)

// ErrNotFound is returned when a contact does not exist.
var ErrNotFound = errors.New("contact not found")

// ErrInvalidEmail is returned for addresses that fail validation.
var ErrInvalidEmail = errors.New("invalid email address")

// Repository is the contact persistence the service depends on.
type Repository interface {
	Create(ctx context.Context, c *domain.Contact) (string, error)
	Get(ctx context.Context, id string) (*domain.Contact, error)
	ListActive(ctx context.Context, limit, offset int) ([]*domain.Contact, error)
	BulkImport(ctx context.Context, contacts []*domain.Contact) (int, error)
}

// Service provides contact management.
type Service struct {
	repo Repository
}

// NewService creates a contact service.
func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Create validates, normalizes and stores one contact.
func (s *Service) Create(ctx context.Context, name, email string) (*domain.Contact, error) {
	normalized := domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(normalized); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}

	c := &domain.Contact{
		Name:   name,
		Email:  normalized,
		Status: domain.ContactActive,
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	c.ID = id
	logger.Info("[Contact] created", "contact_id", id, "email", c.Email)
	return c, nil
}

// Get loads one contact.
func (s *Service) Get(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListActive returns a page of active contacts.
func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]*domain.Contact, error) {
	return s.repo.ListActive(ctx, limit, offset)
}

// Import bulk-loads contacts, skipping invalid addresses, and returns how
// many were stored.
func (s *Service) Import(ctx context.Context, contacts []*domain.Contact) (int, error) {
	n, err := s.repo.BulkImport(ctx, contacts)
	if err != nil {
		return 0, fmt.Errorf("import contacts: %w", err)
	}
	logger.Info("[Contact] imported", "count", n, "offered", len(contacts))
	return n, nil
}
