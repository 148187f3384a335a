package campaign

import (
	"context"

	"github.com/ignite/mailblast/internal/domain"
)

// CampaignRepository is the campaign persistence the service depends on.
type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) (string, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
	Update(ctx context.Context, c *domain.Campaign) error
	UpdateStatusFrom(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) error
	SetCounts(ctx context.Context, id string, sent, failed int) error
	SetTotalRecipients(ctx context.Context, id string, total int) error
	Delete(ctx context.Context, id string) error
}

// RecipientRepository is the recipient persistence the service depends on.
type RecipientRepository interface {
	CreateBatch(ctx context.Context, campaignID string, contactIDs []string) (int, error)
	CountByStatus(ctx context.Context, campaignID string) (domain.StatusCounts, error)
	ResetFailed(ctx context.Context, campaignID string) (int, error)
	FailPending(ctx context.Context, campaignID, reason string) (int, error)
	DeleteByContacts(ctx context.Context, campaignID string, contactIDs []string) (int, error)
}

// Dispatcher enqueues a campaign's pending recipients as batches.
type Dispatcher interface {
	DispatchBatches(ctx context.Context, campaignID string) (int, error)
}

// BatchQueue is the slice of the dispatch queue the service touches:
// dropping undone batches on cancel and checking whether any batches are
// still outstanding when a campaign resumes.
type BatchQueue interface {
	Abandon(ctx context.Context, campaignID string) (int, error)
	PendingForCampaign(ctx context.Context, campaignID string) (int, error)
}

// ProgressCache is the snapshot cache surface the service depends on.
// A nil cache is valid; reads then always recompute.
type ProgressCache interface {
	Get(ctx context.Context, campaignID string) (domain.ProgressSnapshot, error)
	Put(ctx context.Context, snap domain.ProgressSnapshot) error
	Invalidate(ctx context.Context, campaignID string) error
}
