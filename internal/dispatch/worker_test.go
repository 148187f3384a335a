package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailblast/internal/config"
	"github.com/ignite/mailblast/internal/domain"
	"github.com/ignite/mailblast/internal/event"
	"github.com/ignite/mailblast/internal/transport"
)

// ---- fakes ----

type memCampaigns struct {
	mu       sync.Mutex
	campaign *domain.Campaign
	sent     int
	failed   int
	done     bool
	err      error
}

func (m *memCampaigns) Get(_ context.Context, _ string) (*domain.Campaign, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := *m.campaign
	return &c, nil
}

func (m *memCampaigns) SetCounts(_ context.Context, _ string, sent, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent, m.failed = sent, failed
	return nil
}

func (m *memCampaigns) CompleteIfDone(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.campaign.Status != domain.CampaignSending {
		return false, nil
	}
	if m.sent+m.failed >= m.campaign.TotalRecipients {
		m.campaign.Status = domain.CampaignSent
		m.done = true
		return true, nil
	}
	return false, nil
}

type memRecipients struct {
	mu       sync.Mutex
	statuses map[string]domain.RecipientStatus
	errs     map[string]string
	countErr error
}

func newMemRecipients(ids []string) *memRecipients {
	m := &memRecipients{statuses: map[string]domain.RecipientStatus{}, errs: map[string]string{}}
	for _, id := range ids {
		m.statuses[id] = domain.RecipientPending
	}
	return m
}

func (m *memRecipients) UpdateStatus(_ context.Context, id string, status domain.RecipientStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.statuses[id]; !ok || current != domain.RecipientPending {
		return nil
	}
	m.statuses[id] = status
	m.errs[id] = errMsg
	return nil
}

func (m *memRecipients) CountByStatus(_ context.Context, _ string) (domain.StatusCounts, error) {
	if m.countErr != nil {
		return domain.StatusCounts{}, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var c domain.StatusCounts
	for _, s := range m.statuses {
		switch s {
		case domain.RecipientPending:
			c.Pending++
		case domain.RecipientSent:
			c.Sent++
		case domain.RecipientFailed:
			c.Failed++
		}
	}
	return c, nil
}

type memResolver struct {
	emails map[string]string
	err    error
}

func (m *memResolver) AddressesByRecipientIDs(_ context.Context, ids []string) (map[string]domain.MailAddress, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]domain.MailAddress{}
	for _, id := range ids {
		if e, ok := m.emails[id]; ok {
			out[id] = domain.MailAddress{Email: e, Name: "Recipient " + id}
		}
	}
	return out, nil
}

type memQueue struct {
	mu        sync.Mutex
	completed []string
	retried   []string
	released  []string
	backoffs  []time.Duration
}

func (m *memQueue) ClaimDue(_ context.Context, _ string, _ int) ([]Batch, error) { return nil, nil }

func (m *memQueue) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *memQueue) Retry(_ context.Context, id, _ string, backoff time.Duration, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried = append(m.retried, id)
	m.backoffs = append(m.backoffs, backoff)
	return nil
}

func (m *memQueue) Release(_ context.Context, id string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, id)
	return nil
}

// failFor fails sends to the listed addresses and succeeds otherwise,
// recording every message it saw.
type failFor struct {
	mu    sync.Mutex
	addrs map[string]bool
	sent  []transport.Message
}

func (f *failFor) Name() string { return "test" }

func (f *failFor) Send(_ context.Context, msg transport.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.addrs[msg.To] {
		return &transport.SendError{Reason: "mailbox unavailable"}
	}
	return nil
}

func workerConfig() config.DispatchConfig {
	return config.DispatchConfig{
		BatchSize:              100,
		Parallelism:            10,
		NumWorkers:             1,
		PollIntervalMillis:     10,
		DeliveryTimeoutSeconds: 1,
		MaxAttempts:            3,
		BackoffSeconds:         []int{60, 180, 300},
	}
}

func testWorker(campaigns *memCampaigns, recipients *memRecipients, resolver *memResolver,
	queue *memQueue, mail transport.MailTransport, events *event.Publisher) *Worker {
	return NewWorker(queue, campaigns, recipients, resolver, mail, nil, events, workerConfig())
}

func emailsFor(ids []string) map[string]string {
	out := map[string]string{}
	for _, id := range ids {
		out[id] = id + "@example.com"
	}
	return out
}

// ---- tests ----

func TestProcessBatchDeliversAndCompletes(t *testing.T) {
	ids := makeIDs(10)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 10,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}

	var completedEvent bool
	events := event.NewPublisher()
	events.Subscribe(event.ObserverFunc(func(_ context.Context, ev event.Event) {
		if ev.Type == event.TypeCampaignCompleted {
			completedEvent = true
		}
	}))

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)},
		queue, &failFor{}, events)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	counts, _ := recipients.CountByStatus(context.Background(), "camp-1")
	if counts.Sent != 10 || counts.Pending != 0 {
		t.Errorf("counts = %+v", counts)
	}
	if campaigns.sent != 10 || campaigns.failed != 0 {
		t.Errorf("campaign counters = %d/%d", campaigns.sent, campaigns.failed)
	}
	if !campaigns.done {
		t.Error("campaign not completed")
	}
	if !completedEvent {
		t.Error("completion event not published")
	}
	if len(queue.completed) != 1 || queue.completed[0] != "b1" {
		t.Errorf("completed = %v", queue.completed)
	}
}

func TestProcessBatchIsolatesRecipientFailures(t *testing.T) {
	ids := makeIDs(10)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 10,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}

	// Three addresses bounce; the batch must still complete with the other
	// seven delivered and the campaign marked sent.
	bad := map[string]bool{
		ids[1] + "@example.com": true,
		ids[4] + "@example.com": true,
		ids[7] + "@example.com": true,
	}

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)},
		queue, &failFor{addrs: bad}, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	counts, _ := recipients.CountByStatus(context.Background(), "camp-1")
	if counts.Sent != 7 || counts.Failed != 3 {
		t.Errorf("counts = %+v, want 7 sent / 3 failed", counts)
	}
	if !campaigns.done {
		t.Error("campaign with failures not completed")
	}
	if campaigns.sent+campaigns.failed != campaigns.campaign.TotalRecipients {
		t.Errorf("counters %d+%d do not cover total %d",
			campaigns.sent, campaigns.failed, campaigns.campaign.TotalRecipients)
	}
	if len(queue.retried) != 0 {
		t.Errorf("recipient failures must not retry the batch, retried = %v", queue.retried)
	}
	if recipients.errs[ids[4]] == "" {
		t.Error("failure reason not recorded")
	}
}

func TestProcessBatchMissingEmailFailsRecipient(t *testing.T) {
	ids := makeIDs(3)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 3,
	}}
	recipients := newMemRecipients(ids)
	resolver := &memResolver{emails: emailsFor(ids[:2])} // third has no contact

	w := testWorker(campaigns, recipients, resolver, &memQueue{}, &failFor{}, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	if recipients.statuses[ids[2]] != domain.RecipientFailed {
		t.Errorf("status = %s, want failed", recipients.statuses[ids[2]])
	}
	if !strings.Contains(recipients.errs[ids[2]], "no contact email") {
		t.Errorf("error = %q", recipients.errs[ids[2]])
	}
}

func TestProcessBatchPausedReleasesWithoutAttempt(t *testing.T) {
	ids := makeIDs(5)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignPaused, TotalRecipients: 5,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)},
		queue, &failFor{}, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	if len(queue.released) != 1 {
		t.Fatalf("released = %v, want [b1]", queue.released)
	}
	if len(queue.retried) != 0 {
		t.Error("pause must not burn an attempt")
	}
	counts, _ := recipients.CountByStatus(context.Background(), "camp-1")
	if counts.Pending != 5 {
		t.Errorf("recipients touched while paused: %+v", counts)
	}
}

func TestDeliverAddressesRecipientByName(t *testing.T) {
	ids := makeIDs(1)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 1,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}
	mail := &failFor{}

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)}, queue, mail, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	if len(mail.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(mail.sent))
	}
	msg := mail.sent[0]
	if msg.To != ids[0]+"@example.com" {
		t.Errorf("to = %s", msg.To)
	}
	if msg.ToName != "Recipient "+ids[0] {
		t.Errorf("to name = %q, want contact name", msg.ToName)
	}
}

func TestProcessBatchShutdownReleasesWithoutAttempt(t *testing.T) {
	ids := makeIDs(5)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 5,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)},
		queue, &failFor{}, nil)
	w.processBatch(ctx, Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids, Attempts: 2})

	if len(queue.released) != 1 {
		t.Fatalf("released = %v, want [b1]", queue.released)
	}
	// A batch caught by a restart is healthy; another worker must pick it
	// up with its attempt count intact.
	if len(queue.retried) != 0 {
		t.Errorf("shutdown must not burn an attempt, retried = %v", queue.retried)
	}
}

func TestProcessBatchCancelledCompletesWithoutSending(t *testing.T) {
	ids := makeIDs(5)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignCancelled, TotalRecipients: 5,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)},
		queue, &failFor{}, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	if len(queue.completed) != 1 {
		t.Errorf("completed = %v", queue.completed)
	}
	counts, _ := recipients.CountByStatus(context.Background(), "camp-1")
	if counts.Pending != 5 {
		t.Errorf("cancelled campaign still sent: %+v", counts)
	}
}

func TestProcessBatchInfrastructureErrorRetries(t *testing.T) {
	ids := makeIDs(5)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 5,
	}}
	recipients := newMemRecipients(ids)
	queue := &memQueue{}
	resolver := &memResolver{err: errors.New("db down")}

	w := testWorker(campaigns, recipients, resolver, queue, &failFor{}, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids, Attempts: 0})

	if len(queue.retried) != 1 {
		t.Fatalf("retried = %v, want [b1]", queue.retried)
	}
	if queue.backoffs[0] != 60*time.Second {
		t.Errorf("first backoff = %v, want 60s", queue.backoffs[0])
	}
}

func TestProcessBatchReexecutionSkipsTerminalRecipients(t *testing.T) {
	ids := makeIDs(4)
	campaigns := &memCampaigns{campaign: &domain.Campaign{
		ID: "camp-1", Status: domain.CampaignSending, TotalRecipients: 4,
	}}
	recipients := newMemRecipients(ids)
	// Two already delivered by the crashed first execution.
	recipients.statuses[ids[0]] = domain.RecipientSent
	recipients.statuses[ids[1]] = domain.RecipientFailed

	w := testWorker(campaigns, recipients, &memResolver{emails: emailsFor(ids)},
		&memQueue{}, &failFor{}, nil)
	w.processBatch(context.Background(), Batch{ID: "b1", CampaignID: "camp-1", RecipientIDs: ids})

	// The failed outcome from the first run survives re-execution even
	// though the retry delivered successfully this time.
	if recipients.statuses[ids[1]] != domain.RecipientFailed {
		t.Errorf("terminal status overwritten to %s", recipients.statuses[ids[1]])
	}
	counts, _ := recipients.CountByStatus(context.Background(), "camp-1")
	if counts.Sent != 3 || counts.Failed != 1 {
		t.Errorf("counts = %+v, want 3 sent / 1 failed", counts)
	}
}

func TestBackoffForClampsToSchedule(t *testing.T) {
	schedule := []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 60 * time.Second},
		{1, 180 * time.Second},
		{2, 300 * time.Second},
		{7, 300 * time.Second},
		{-1, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffFor(tc.attempts, schedule); got != tc.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
	if got := backoffFor(0, nil); got != time.Minute {
		t.Errorf("empty schedule = %v, want 1m", got)
	}
}

func TestWorkerStartStop(t *testing.T) {
	campaigns := &memCampaigns{campaign: &domain.Campaign{ID: "camp-1", Status: domain.CampaignSending}}
	w := testWorker(campaigns, newMemRecipients(nil), &memResolver{}, &memQueue{}, &failFor{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() { w.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not drain")
	}
}
