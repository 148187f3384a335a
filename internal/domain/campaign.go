package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Valid reports whether s is one of the enumerated campaign states.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignSent,
		CampaignPaused, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// Campaign represents a bulk-send unit with its content and progress counters.
//
// SentCount and FailedCount are derived values: they are recomputed from
// recipient rows on every completion check (recompute-and-overwrite), never
// incremented in place. sent_count + failed_count <= total_recipients holds
// at all times; equality marks completion.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Subject         string         `json:"subject" db:"subject"`
	Body            string         `json:"body" db:"body"`
	Status          CampaignStatus `json:"status" db:"status"`
	TotalRecipients int            `json:"total_recipients" db:"total_recipients"`
	SentCount       int            `json:"sent_count" db:"sent_count"`
	FailedCount     int            `json:"failed_count" db:"failed_count"`

	// Dispatch metadata, informational only. Written by the batcher for
	// observability and never read back for correctness decisions.
	BatchCount   int        `json:"batch_count" db:"batch_count"`
	BatchSize    int        `json:"batch_size" db:"batch_size"`
	DispatchedAt *time.Time `json:"dispatched_at" db:"dispatched_at"`

	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// SuccessRate returns the percentage of recipients successfully sent,
// rounded to two decimals. Zero-recipient campaigns report 0.
func (c *Campaign) SuccessRate() float64 {
	if c.TotalRecipients == 0 {
		return 0
	}
	rate := float64(c.SentCount) / float64(c.TotalRecipients) * 100
	return float64(int(rate*100+0.5)) / 100
}
