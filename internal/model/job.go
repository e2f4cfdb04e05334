// internal/model/job.go
package model

import "time"

// Job is the dispatch unit carried on the queue: "process this campaign".
// Attempt is tracked in a message header so redeliveries keep their count.
type Job struct {
	CampaignID string    `json:"campaign_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
}
