package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailblast/internal/config"
	"github.com/ignite/mailblast/internal/domain"
	"github.com/ignite/mailblast/internal/event"
	"github.com/ignite/mailblast/internal/pkg/logger"
	"github.com/ignite/mailblast/internal/transport"
)

// CampaignStore is the slice of campaign persistence the worker needs.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	SetCounts(ctx context.Context, id string, sent, failed int) error
	CompleteIfDone(ctx context.Context, id string) (bool, error)
}

// RecipientStore is the slice of recipient persistence the worker needs.
type RecipientStore interface {
	UpdateStatus(ctx context.Context, recipientID string, status domain.RecipientStatus, errMsg string) error
	CountByStatus(ctx context.Context, campaignID string) (domain.StatusCounts, error)
}

// AddressResolver maps recipient ids to contact mail addresses.
type AddressResolver interface {
	AddressesByRecipientIDs(ctx context.Context, recipientIDs []string) (map[string]domain.MailAddress, error)
}

// ProgressWriter refreshes the cached progress snapshot.
type ProgressWriter interface {
	Put(ctx context.Context, snap domain.ProgressSnapshot) error
}

// BatchQueue is the queue surface the worker consumes.
type BatchQueue interface {
	ClaimDue(ctx context.Context, workerID string, limit int) ([]Batch, error)
	Complete(ctx context.Context, batchID string) error
	Retry(ctx context.Context, batchID string, cause string, backoff time.Duration, maxAttempts int) error
	Release(ctx context.Context, batchID string, delay time.Duration) error
}

// pauseRecheckDelay is how long a batch waits in the queue after being
// declined because its campaign was paused.
const pauseRecheckDelay = 15 * time.Second

// Worker runs a pool of goroutines that claim due batches and deliver their
// recipients sequentially. Batches run concurrently; recipients within a
// batch do not.
type Worker struct {
	queue      BatchQueue
	campaigns  CampaignStore
	recipients RecipientStore
	contacts   AddressResolver
	mail       transport.MailTransport
	cache      ProgressWriter
	events     *event.Publisher
	cfg        config.DispatchConfig

	id        string
	processed int64
	delivered int64
	failed    int64

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewWorker wires a batch worker pool. cache and events may be nil.
func NewWorker(queue BatchQueue, campaigns CampaignStore, recipients RecipientStore,
	contacts AddressResolver, mail transport.MailTransport, cache ProgressWriter,
	events *event.Publisher, cfg config.DispatchConfig) *Worker {
	if events == nil {
		events = event.NewPublisher()
	}
	return &Worker{
		queue:      queue,
		campaigns:  campaigns,
		recipients: recipients,
		contacts:   contacts,
		mail:       mail,
		cache:      cache,
		events:     events,
		cfg:        cfg,
		id:         "worker-" + uuid.New().String()[:8],
		stop:       make(chan struct{}),
	}
}

// Start launches the worker goroutines. They poll until ctx is cancelled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) {
	n := w.cfg.NumWorkers
	if n <= 0 {
		n = 1
	}
	logger.Info("[Worker] starting batch workers", "workers", n, "worker_id", w.id)
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop signals the pool to drain and blocks until in-flight batches finish.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	logger.Info("[Worker] stopped",
		"worker_id", w.id,
		"batches_processed", atomic.LoadInt64(&w.processed),
		"delivered", atomic.LoadInt64(&w.delivered),
		"failed", atomic.LoadInt64(&w.failed))
}

func (w *Worker) run(ctx context.Context, slot int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}

		batches, err := w.queue.ClaimDue(ctx, fmt.Sprintf("%s-%d", w.id, slot), 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("[Worker] claim failed", "error", err.Error())
			continue
		}
		for _, b := range batches {
			w.processBatch(ctx, b)
		}
	}
}

// processBatch delivers one batch. Per-recipient failures are recorded and
// never abort the loop; only infrastructure errors (store unreachable, email
// resolution failed) send the batch back for retry.
func (w *Worker) processBatch(ctx context.Context, b Batch) {
	campaign, err := w.campaigns.Get(ctx, b.CampaignID)
	if err != nil {
		w.retry(ctx, b, fmt.Sprintf("load campaign: %v", err))
		return
	}

	switch campaign.Status {
	case domain.CampaignPaused:
		// Pause is a gate between batches, not within one. Put it back
		// without burning an attempt and look again later.
		if err := w.queue.Release(ctx, b.ID, pauseRecheckDelay); err != nil {
			logger.Error("[Worker] release failed", "batch_id", b.ID, "error", err.Error())
		}
		return
	case domain.CampaignCancelled, domain.CampaignSent, domain.CampaignFailed:
		// Terminal campaign: the batch has nothing left to do. Recipients
		// were already force-failed by cancel or are terminal themselves.
		if err := w.queue.Complete(ctx, b.ID); err != nil {
			logger.Error("[Worker] complete failed", "batch_id", b.ID, "error", err.Error())
		}
		return
	}

	addrs, err := w.contacts.AddressesByRecipientIDs(ctx, b.RecipientIDs)
	if err != nil {
		w.retry(ctx, b, fmt.Sprintf("resolve addresses: %v", err))
		return
	}

	for _, recipientID := range b.RecipientIDs {
		select {
		case <-ctx.Done():
			// Shutdown mid-batch: release so another worker resumes it
			// without burning an attempt. Already-terminal recipients are
			// skipped on re-execution.
			if err := w.queue.Release(context.Background(), b.ID, 0); err != nil {
				logger.Error("[Worker] release failed", "batch_id", b.ID, "error", err.Error())
			}
			return
		default:
		}
		w.deliver(ctx, campaign, recipientID, addrs[recipientID])
	}

	if err := w.finishBatch(ctx, b); err != nil {
		w.retry(ctx, b, fmt.Sprintf("finish batch: %v", err))
		return
	}
	atomic.AddInt64(&w.processed, 1)
}

// deliver sends to one recipient and records the outcome. Every path writes
// a terminal recipient status; delivery failure is data, not an error.
func (w *Worker) deliver(ctx context.Context, campaign *domain.Campaign, recipientID string, addr domain.MailAddress) {
	if addr.Email == "" {
		w.recordOutcome(ctx, campaign.ID, recipientID, domain.RecipientFailed, "no contact email")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.DeliveryTimeout())
	err := w.mail.Send(sendCtx, transport.Message{
		To:      addr.Email,
		ToName:  addr.Name,
		Subject: campaign.Subject,
		Body:    campaign.Body,
	})
	cancel()

	if err != nil {
		w.recordOutcome(ctx, campaign.ID, recipientID, domain.RecipientFailed, err.Error())
		return
	}
	w.recordOutcome(ctx, campaign.ID, recipientID, domain.RecipientSent, "")
}

func (w *Worker) recordOutcome(ctx context.Context, campaignID, recipientID string, status domain.RecipientStatus, errMsg string) {
	if err := w.recipients.UpdateStatus(ctx, recipientID, status, errMsg); err != nil {
		logger.Error("[Worker] status update failed",
			"recipient_id", recipientID, "status", string(status), "error", err.Error())
		return
	}
	if status == domain.RecipientSent {
		atomic.AddInt64(&w.delivered, 1)
	} else {
		atomic.AddInt64(&w.failed, 1)
	}
	w.events.Publish(ctx, event.Event{
		Type:       event.TypeEmailStatusUpdated,
		CampaignID: campaignID,
		Payload: map[string]interface{}{
			"recipient_id": recipientID,
			"status":       string(status),
		},
	})
}

// finishBatch recomputes counters from recipient rows, refreshes the cached
// snapshot and applies the completion transition if every recipient is
// terminal. Counter writes overwrite; they never increment.
func (w *Worker) finishBatch(ctx context.Context, b Batch) error {
	counts, err := w.recipients.CountByStatus(ctx, b.CampaignID)
	if err != nil {
		return fmt.Errorf("recount recipients: %w", err)
	}
	if err := w.campaigns.SetCounts(ctx, b.CampaignID, counts.Delivered(), counts.Failed); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}

	completed, err := w.campaigns.CompleteIfDone(ctx, b.CampaignID)
	if err != nil {
		return fmt.Errorf("completion check: %w", err)
	}

	if w.cache != nil {
		campaign, err := w.campaigns.Get(ctx, b.CampaignID)
		if err == nil {
			snap := domain.NewProgressSnapshot(campaign, counts)
			snap.EstimateCompletion(time.Now().UTC())
			if err := w.cache.Put(ctx, snap); err != nil {
				logger.Warn("[Worker] snapshot refresh failed",
					"campaign_id", b.CampaignID, "error", err.Error())
			}
		}
	}

	if err := w.queue.Complete(ctx, b.ID); err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}

	if completed {
		logger.Info("[Worker] campaign completed",
			"campaign_id", b.CampaignID,
			"sent", counts.Delivered(), "failed", counts.Failed)
		w.events.Publish(ctx, event.Event{
			Type:       event.TypeCampaignCompleted,
			CampaignID: b.CampaignID,
			Payload: map[string]interface{}{
				"sent":   counts.Delivered(),
				"failed": counts.Failed,
			},
		})
	}
	return nil
}

// retry sends a batch back to the queue with the backoff for its current
// attempt count.
func (w *Worker) retry(ctx context.Context, b Batch, cause string) {
	backoff := backoffFor(b.Attempts, w.cfg.Backoff())
	logger.Warn("[Worker] batch retry",
		"batch_id", b.ID, "campaign_id", b.CampaignID,
		"attempt", b.Attempts+1, "backoff", backoff.String(), "cause", cause)
	if err := w.queue.Retry(ctx, b.ID, cause, backoff, w.cfg.MaxAttempts); err != nil {
		logger.Error("[Worker] retry enqueue failed", "batch_id", b.ID, "error", err.Error())
	}
}

// backoffFor picks the delay for the given completed-attempt count, clamping
// to the last schedule entry.
func backoffFor(attempts int, schedule []time.Duration) time.Duration {
	if len(schedule) == 0 {
		return time.Minute
	}
	if attempts >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	if attempts < 0 {
		return schedule[0]
	}
	return schedule[attempts]
}
