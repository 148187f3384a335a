package domain

import "time"

// RecipientStatus enumerates the delivery states of a single recipient row.
//
// Sent and Failed are terminal for automated passes: once written they are
// never overwritten by a later send attempt. Failed rows become Pending again
// only through an explicit RetryFailed. Opened and Clicked are set by
// engagement tracking on top of Sent.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientOpened  RecipientStatus = "opened"
	RecipientClicked RecipientStatus = "clicked"
)

// Valid reports whether s is one of the enumerated recipient states.
func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientPending, RecipientSent, RecipientFailed, RecipientOpened, RecipientClicked:
		return true
	}
	return false
}

// Terminal reports whether s is a final delivery outcome.
func (s RecipientStatus) Terminal() bool {
	return s != RecipientPending
}

// Recipient is the per-contact delivery record for one campaign.
// (campaign_id, contact_id) is unique: a contact appears at most once per
// campaign. Rows are created in bulk at campaign creation or attach time,
// always Pending.
type Recipient struct {
	ID           string          `json:"id" db:"id"`
	CampaignID   string          `json:"campaign_id" db:"campaign_id"`
	ContactID    string          `json:"contact_id" db:"contact_id"`
	Status       RecipientStatus `json:"status" db:"status"`
	SentAt       *time.Time      `json:"sent_at" db:"sent_at"`
	ErrorMessage string          `json:"error_message" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// StatusCounts is the authoritative per-status aggregate for one campaign,
// recomputed from recipient rows.
type StatusCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Opened  int `json:"opened"`
	Clicked int `json:"clicked"`
}

// Total returns the total number of recipient rows.
func (c StatusCounts) Total() int {
	return c.Pending + c.Sent + c.Failed + c.Opened + c.Clicked
}

// Processed returns the number of recipients with a terminal outcome.
// Opened/Clicked imply a prior successful send.
func (c StatusCounts) Processed() int {
	return c.Sent + c.Failed + c.Opened + c.Clicked
}

// Delivered returns the number of successful sends, including recipients
// that have since opened or clicked.
func (c StatusCounts) Delivered() int {
	return c.Sent + c.Opened + c.Clicked
}
