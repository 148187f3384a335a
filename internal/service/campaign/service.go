// Package campaign implements the campaign lifecycle: create, attach
// recipients, send, pause, resume, cancel, retry-failed and progress reads.
// State decisions only ever consult Postgres; Redis is a read accelerator.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailblast/internal/domain"
	"github.com/ignite/mailblast/internal/event"
	"github.com/ignite/mailblast/internal/pkg/logger"
	"github.com/ignite/mailblast/internal/progress"
	"github.com/ignite/mailblast/internal/repository/postgres"
)

// Service coordinates campaign state, recipient rows, the batch queue and
// the progress cache.
type Service struct {
	campaigns  CampaignRepository
	recipients RecipientRepository
	dispatcher Dispatcher
	batches    BatchQueue
	cache      ProgressCache
	events     *event.Publisher
}

// NewService wires a campaign service. cache and events may be nil.
func NewService(campaigns CampaignRepository, recipients RecipientRepository,
	dispatcher Dispatcher, batches BatchQueue, cache ProgressCache,
	events *event.Publisher) *Service {
	if events == nil {
		events = event.NewPublisher()
	}
	return &Service{
		campaigns:  campaigns,
		recipients: recipients,
		dispatcher: dispatcher,
		batches:    batches,
		cache:      cache,
		events:     events,
	}
}

// CreateInput carries the fields for a new campaign.
type CreateInput struct {
	Name        string
	Subject     string
	Body        string
	ScheduledAt *time.Time
}

// Create validates and persists a new draft campaign.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, ErrEmptySubject
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, ErrEmptyBody
	}

	c := &domain.Campaign{
		Name:        strings.TrimSpace(in.Name),
		Subject:     in.Subject,
		Body:        in.Body,
		Status:      domain.CampaignDraft,
		ScheduledAt: in.ScheduledAt,
	}
	if in.ScheduledAt != nil {
		c.Status = domain.CampaignScheduled
	}
	id, err := s.campaigns.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	c.ID = id
	logger.Info("[Campaign] created", "campaign_id", id, "name", c.Name)
	return c, nil
}

// Get loads one campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns campaigns, optionally filtered by status.
func (s *Service) List(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	return s.campaigns.List(ctx, status, limit)
}

// UpdateInput carries editable campaign fields. Nil pointers leave the field
// unchanged.
type UpdateInput struct {
	Name        *string
	Subject     *string
	Body        *string
	ScheduledAt *time.Time
}

// Update edits a campaign that has not started sending.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled && c.Status != domain.CampaignPaused {
		return nil, ErrNotEditable
	}

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, ErrEmptyName
		}
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Subject != nil {
		if strings.TrimSpace(*in.Subject) == "" {
			return nil, ErrEmptySubject
		}
		c.Subject = *in.Subject
	}
	if in.Body != nil {
		if strings.TrimSpace(*in.Body) == "" {
			return nil, ErrEmptyBody
		}
		c.Body = *in.Body
	}
	if in.ScheduledAt != nil {
		c.ScheduledAt = in.ScheduledAt
	}

	if err := s.campaigns.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	return c, nil
}

// AttachContacts adds contacts to a campaign as pending recipients and
// refreshes the recipient total. Already-attached contacts are skipped.
// Returns how many recipients were actually added.
func (s *Service) AttachContacts(ctx context.Context, id string, contactIDs []string) (int, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.IsTerminal() {
		return 0, ErrInvalidTransition
	}

	added, err := s.recipients.CreateBatch(ctx, id, contactIDs)
	if err != nil {
		return added, fmt.Errorf("attach contacts: %w", err)
	}
	if err := s.recount(ctx, id); err != nil {
		return added, err
	}
	logger.Info("[Campaign] contacts attached", "campaign_id", id, "added", added)
	return added, nil
}

// DetachContacts removes contacts from a campaign and refreshes the total.
func (s *Service) DetachContacts(ctx context.Context, id string, contactIDs []string) (int, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status == domain.CampaignSending || c.IsTerminal() {
		return 0, ErrInvalidTransition
	}

	removed, err := s.recipients.DeleteByContacts(ctx, id, contactIDs)
	if err != nil {
		return removed, fmt.Errorf("detach contacts: %w", err)
	}
	if err := s.recount(ctx, id); err != nil {
		return removed, err
	}
	return removed, nil
}

// recount refreshes total_recipients and the derived counters from recipient
// rows, then drops the cached snapshot.
func (s *Service) recount(ctx context.Context, id string) error {
	counts, err := s.recipients.CountByStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("recount recipients: %w", err)
	}
	if err := s.campaigns.SetTotalRecipients(ctx, id, counts.Total()); err != nil {
		return fmt.Errorf("write total: %w", err)
	}
	if err := s.campaigns.SetCounts(ctx, id, counts.Delivered(), counts.Failed); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Send starts delivery: validates preconditions, transitions the campaign to
// sending and enqueues its pending recipients as batches.
func (s *Service) Send(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Subject) == "" {
		return ErrEmptySubject
	}
	if strings.TrimSpace(c.Body) == "" {
		return ErrEmptyBody
	}
	counts, err := s.recipients.CountByStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("count recipients: %w", err)
	}
	if counts.Total() == 0 {
		return ErrNoRecipients
	}

	err = s.campaigns.UpdateStatusFrom(ctx, id, domain.CampaignSending,
		domain.CampaignDraft, domain.CampaignScheduled)
	if errors.Is(err, postgres.ErrNoTransition) {
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}

	if _, err := s.dispatcher.DispatchBatches(ctx, id); err != nil {
		// Nothing was enqueued; surface the failure on the campaign so it
		// is not stuck in sending forever.
		if ferr := s.campaigns.UpdateStatusFrom(ctx, id, domain.CampaignFailed, domain.CampaignSending); ferr != nil {
			logger.Error("[Campaign] failed to mark campaign failed", "campaign_id", id, "error", ferr.Error())
		}
		return fmt.Errorf("dispatch: %w", err)
	}

	s.invalidate(ctx, id)
	s.events.Publish(ctx, event.Event{Type: event.TypeCampaignStarted, CampaignID: id})
	logger.Info("[Campaign] sending", "campaign_id", id, "recipients", counts.Total())
	return nil
}

// Pause gates further batch starts. The batch a worker is currently
// processing finishes; everything else waits until Resume.
func (s *Service) Pause(ctx context.Context, id string) error {
	err := s.campaigns.UpdateStatusFrom(ctx, id, domain.CampaignPaused, domain.CampaignSending)
	if errors.Is(err, postgres.ErrNoTransition) {
		return s.transitionError(ctx, id)
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.events.Publish(ctx, event.Event{Type: event.TypeCampaignPaused, CampaignID: id})
	logger.Info("[Campaign] paused", "campaign_id", id)
	return nil
}

// Resume puts a paused or failed campaign back into sending. Batches that
// survived the pause become eligible again on their next poll; a fresh
// dispatch run happens only when no batches are outstanding, which covers
// recipients attached while paused and batches lost to retry exhaustion.
func (s *Service) Resume(ctx context.Context, id string) error {
	err := s.campaigns.UpdateStatusFrom(ctx, id, domain.CampaignSending,
		domain.CampaignPaused, domain.CampaignFailed)
	if errors.Is(err, postgres.ErrNoTransition) {
		return s.transitionError(ctx, id)
	}
	if err != nil {
		return err
	}
	if s.dispatcher != nil && s.outstandingBatches(ctx, id) == 0 {
		if _, err := s.dispatcher.DispatchBatches(ctx, id); err != nil {
			logger.Warn("[Campaign] resume dispatch failed", "campaign_id", id, "error", err.Error())
		}
	}
	s.invalidate(ctx, id)
	s.events.Publish(ctx, event.Event{Type: event.TypeCampaignResumed, CampaignID: id})
	logger.Info("[Campaign] resumed", "campaign_id", id)
	return nil
}

// outstandingBatches reports queued or claimed batches for the campaign.
// Without a queue handle it reports a nonzero sentinel so Resume does not
// double-enqueue recipients it cannot account for.
func (s *Service) outstandingBatches(ctx context.Context, id string) int {
	if s.batches == nil {
		return -1
	}
	n, err := s.batches.PendingForCampaign(ctx, id)
	if err != nil {
		logger.Warn("[Campaign] batch lookup failed", "campaign_id", id, "error", err.Error())
		return -1
	}
	return n
}

// Cancel permanently stops a campaign: undone batches are dropped, every
// still-pending recipient is force-failed, and the counters are recomputed so
// the final numbers add up. Recipients already sent stay sent.
func (s *Service) Cancel(ctx context.Context, id string) error {
	err := s.campaigns.UpdateStatusFrom(ctx, id, domain.CampaignCancelled,
		domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignSending, domain.CampaignPaused)
	if errors.Is(err, postgres.ErrNoTransition) {
		return s.transitionError(ctx, id)
	}
	if err != nil {
		return err
	}

	if s.batches != nil {
		if _, err := s.batches.Abandon(ctx, id); err != nil {
			logger.Error("[Campaign] failed to abandon batches", "campaign_id", id, "error", err.Error())
		}
	}
	failed, err := s.recipients.FailPending(ctx, id, "campaign cancelled")
	if err != nil {
		return fmt.Errorf("fail pending recipients: %w", err)
	}

	counts, err := s.recipients.CountByStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("recount after cancel: %w", err)
	}
	if err := s.campaigns.SetCounts(ctx, id, counts.Delivered(), counts.Failed); err != nil {
		return fmt.Errorf("write counters after cancel: %w", err)
	}

	s.invalidate(ctx, id)
	s.events.Publish(ctx, event.Event{
		Type:       event.TypeCampaignCancelled,
		CampaignID: id,
		Payload:    map[string]interface{}{"failed_pending": failed},
	})
	logger.Info("[Campaign] cancelled", "campaign_id", id, "failed_pending", failed)
	return nil
}

// RetryFailed re-queues a finished campaign's failed recipients: they return
// to pending, the campaign goes back to sending and a fresh dispatch run
// covers exactly those recipients.
//
// Only sent and failed campaigns are accepted; a sending or paused campaign
// returns ErrInvalidTransition, because a fresh dispatch run while batches
// are still queued could enqueue the same pending recipient twice. Let the
// campaign settle (or cancel it) before retrying.
func (s *Service) RetryFailed(ctx context.Context, id string) (int, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignSent && c.Status != domain.CampaignFailed {
		return 0, ErrInvalidTransition
	}

	reset, err := s.recipients.ResetFailed(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("reset failed recipients: %w", err)
	}
	if reset == 0 {
		return 0, ErrNoFailedRecipients
	}

	err = s.campaigns.UpdateStatusFrom(ctx, id, domain.CampaignSending,
		domain.CampaignSent, domain.CampaignFailed)
	if errors.Is(err, postgres.ErrNoTransition) {
		return 0, ErrInvalidTransition
	}
	if err != nil {
		return 0, err
	}

	counts, err := s.recipients.CountByStatus(ctx, id)
	if err == nil {
		if cerr := s.campaigns.SetCounts(ctx, id, counts.Delivered(), counts.Failed); cerr != nil {
			logger.Warn("[Campaign] counter refresh failed", "campaign_id", id, "error", cerr.Error())
		}
	}

	if _, err := s.dispatcher.DispatchBatches(ctx, id); err != nil {
		return reset, fmt.Errorf("dispatch retry: %w", err)
	}

	s.invalidate(ctx, id)
	s.events.Publish(ctx, event.Event{
		Type:       event.TypeCampaignStarted,
		CampaignID: id,
		Payload:    map[string]interface{}{"retried": reset},
	})
	logger.Info("[Campaign] retrying failed recipients", "campaign_id", id, "count", reset)
	return reset, nil
}

// Progress returns the campaign's delivery snapshot, serving from cache when
// fresh and recomputing from recipient rows on a miss.
func (s *Service) Progress(ctx context.Context, id string) (domain.ProgressSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, id)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, progress.ErrMiss) {
			logger.Warn("[Campaign] progress cache read failed", "campaign_id", id, "error", err.Error())
		}
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	counts, err := s.recipients.CountByStatus(ctx, id)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("count recipients: %w", err)
	}

	snap := domain.NewProgressSnapshot(c, counts)
	snap.EstimateCompletion(time.Now().UTC())

	if s.cache != nil {
		if err := s.cache.Put(ctx, snap); err != nil {
			logger.Warn("[Campaign] progress cache write failed", "campaign_id", id, "error", err.Error())
		}
	}
	return snap, nil
}

// Statistics summarizes a campaign's final (or current) numbers.
type Statistics struct {
	CampaignID  string                `json:"campaign_id"`
	Status      domain.CampaignStatus `json:"status"`
	Total       int                   `json:"total"`
	Sent        int                   `json:"sent"`
	Failed      int                   `json:"failed"`
	Pending     int                   `json:"pending"`
	Opened      int                   `json:"opened"`
	Clicked     int                   `json:"clicked"`
	SuccessRate float64               `json:"success_rate"`
	Duration    string                `json:"duration,omitempty"`
}

// Stats computes delivery statistics from recipient rows.
func (s *Service) Stats(ctx context.Context, id string) (*Statistics, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.recipients.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}

	stats := &Statistics{
		CampaignID:  c.ID,
		Status:      c.Status,
		Total:       counts.Total(),
		Sent:        counts.Delivered(),
		Failed:      counts.Failed,
		Pending:     counts.Pending,
		Opened:      counts.Opened,
		Clicked:     counts.Clicked,
		SuccessRate: successRate(counts.Delivered(), counts.Total()),
	}
	if c.StartedAt != nil && c.SentAt != nil {
		stats.Duration = c.SentAt.Sub(*c.StartedAt).Round(time.Second).String()
	}
	return stats, nil
}

// Delete removes a campaign that is not mid-send.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignSending {
		return ErrInvalidTransition
	}
	if err := s.campaigns.Delete(ctx, id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warn("[Campaign] cache invalidation failed", "campaign_id", id, "error", err.Error())
	}
}

// transitionError distinguishes a missing campaign from a disallowed state
// after a guarded UPDATE matched nothing.
func (s *Service) transitionError(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func successRate(sent, total int) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(sent) / float64(total) * 100
	return float64(int(rate*100+0.5)) / 100
}
