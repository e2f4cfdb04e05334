// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "pending"
	CampaignProcessing CampaignStatus = "processing"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

type ServiceLevel string

const (
	StreetViewStandard  ServiceLevel = "streetview_standard"
	StreetViewPremium   ServiceLevel = "streetview_premium"
	FullScoringStandard ServiceLevel = "full_scoring_standard"
	FullScoringPremium  ServiceLevel = "full_scoring_premium"
)

func (l ServiceLevel) Valid() bool {
	switch l {
	case StreetViewStandard, StreetViewPremium, FullScoringStandard, FullScoringPremium:
		return true
	}
	return false
}

// MultiAngle is true for premium tiers: four cardinal images instead of one.
func (l ServiceLevel) MultiAngle() bool {
	return l == StreetViewPremium || l == FullScoringPremium
}

// NeedsScoring is true for tiers that send imagery to the vision model.
func (l ServiceLevel) NeedsScoring() bool {
	return l == FullScoringStandard || l == FullScoringPremium
}

type Campaign struct {
	ID               string         `db:"id" json:"campaign_id"`
	UploadSessionID  string         `db:"upload_session_id" json:"session_id"`
	PaymentReference string         `db:"payment_reference" json:"payment_reference"`
	ServiceLevel     ServiceLevel   `db:"service_level" json:"service_level"`
	Email            string         `db:"email" json:"email,omitempty"`
	Status           CampaignStatus `db:"status" json:"status"`
	TotalCount       int            `db:"total_count" json:"total_count"`
	SuccessCount     int            `db:"success_count" json:"success_count"`
	FailedCount      int            `db:"failed_count" json:"failed_count"`
	AttemptCount     int            `db:"attempt_count" json:"attempt_count,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// ProcessedCount is the number of properties finalized either way.
func (c *Campaign) ProcessedCount() int {
	return c.SuccessCount + c.FailedCount
}

func (c *Campaign) ProgressPercent() float64 {
	if c.TotalCount == 0 {
		return 0
	}
	return float64(c.ProcessedCount()) / float64(c.TotalCount) * 100
}
