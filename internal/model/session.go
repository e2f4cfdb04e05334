// internal/model/session.go
package model

import "time"

// UploadSession holds a validated batch of addresses waiting for payment.
// Sessions expire after 24h and are consumed by exactly one campaign.
type UploadSession struct {
	ID         string       `json:"session_id"`
	Addresses  []RawAddress `json:"addresses"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	ConsumedBy string       `json:"consumed_by,omitempty"` // campaign id, empty until consumed
}

func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
