package domain

import "time"

// ProgressSnapshot is the cached, ephemeral view of a campaign's delivery
// progress. It is derived from recipient counts and can be recomputed at any
// time; a stale or missing snapshot never causes an incorrect state decision,
// only a slower read.
type ProgressSnapshot struct {
	CampaignID          string         `json:"campaign_id"`
	Status              CampaignStatus `json:"status"`
	Total               int            `json:"total"`
	Sent                int            `json:"sent"`
	Failed              int            `json:"failed"`
	Pending             int            `json:"pending"`
	ProgressPercentage  float64        `json:"progress_percentage"`
	StartedAt           *time.Time     `json:"started_at"`
	EstimatedCompletion *time.Time     `json:"estimated_completion"`
	ComputedAt          time.Time      `json:"computed_at"`
}

// NewProgressSnapshot derives a snapshot from authoritative counts.
// The estimate is left nil; callers with timing information fill it in via
// EstimateCompletion.
func NewProgressSnapshot(c *Campaign, counts StatusCounts) ProgressSnapshot {
	snap := ProgressSnapshot{
		CampaignID: c.ID,
		Status:     c.Status,
		Total:      c.TotalRecipients,
		Sent:       counts.Delivered(),
		Failed:     counts.Failed,
		Pending:    counts.Pending,
		StartedAt:  c.StartedAt,
		ComputedAt: time.Now().UTC(),
	}
	if snap.Total > 0 {
		snap.ProgressPercentage = float64(counts.Processed()) / float64(snap.Total) * 100
	}
	return snap
}

// EstimateCompletion projects when the remaining pending recipients will be
// processed, extrapolating from throughput since StartedAt. Returns false
// when no estimate is possible: nothing processed yet, no start time, or
// zero elapsed time (guards the division).
func (p *ProgressSnapshot) EstimateCompletion(now time.Time) bool {
	processed := p.Sent + p.Failed
	if p.StartedAt == nil || processed == 0 || p.Pending == 0 {
		return false
	}
	elapsed := now.Sub(*p.StartedAt)
	if elapsed <= 0 {
		return false
	}
	perItem := elapsed / time.Duration(processed)
	eta := now.Add(perItem * time.Duration(p.Pending))
	p.EstimatedCompletion = &eta
	return true
}
