// internal/service/reconciler.go
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/queue"
	"github.com/prospectgrid/prospectgrid-backend/internal/repository"
)

// requeueAfter is the floor on how long a pending campaign may sit with
// no write before we assume its enqueue was lost and publish a fresh job.
// The effective window stretches to the sweep interval so a backlogged
// queue is not flooded with one duplicate per sweep.
const requeueAfter = time.Minute

// Reconciler repairs the two gaps at-least-once delivery leaves open:
// campaigns persisted whose enqueue failed, and campaigns orphaned in
// processing by a dead worker. Safe to run in every worker process since
// duplicate jobs are dropped at claim time.
type Reconciler struct {
	Campaigns repository.CampaignRepositoryInterface
	Sessions  repository.SessionRepositoryInterface
	Queue     queue.JobQueue
	// GracePeriod is how long a processing campaign may show no progress
	// before it is re-enqueued; after a second full grace window with no
	// progress it is failed outright.
	GracePeriod time.Duration
	Interval    time.Duration
	Log         *slog.Logger
}

// Start sweeps on a ticker until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.SweepOnce(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(time.Now())
		}
	}
}

// SweepOnce runs one reconciliation pass.
func (r *Reconciler) SweepOnce(now time.Time) {
	r.requeueUnstarted(now)
	r.recoverStalled(now)

	if n, err := r.Sessions.DeleteExpired(); err != nil {
		r.Log.Warn("expired session cleanup failed", "error", err)
	} else if n > 0 {
		r.Log.Info("deleted expired upload sessions", "count", n)
	}
}

func (r *Reconciler) requeueUnstarted(now time.Time) {
	window := requeueAfter
	if r.Interval > window {
		window = r.Interval
	}
	campaigns, err := r.Campaigns.ListUnstarted(now.Add(-window))
	if err != nil {
		r.Log.Warn("unstarted sweep failed", "error", err)
		return
	}
	for _, c := range campaigns {
		// The row's attempt count rides along so a recovered campaign
		// keeps its retry budget.
		job := model.Job{CampaignID: c.ID, EnqueuedAt: now, Attempt: c.AttemptCount}
		if err := r.Queue.Publish(job); err != nil {
			r.Log.Warn("re-enqueue failed", "campaign_id", c.ID, "error", err)
			continue
		}
		if err := r.Campaigns.MarkEnqueued(c.ID); err != nil {
			r.Log.Warn("failed to record re-enqueue", "campaign_id", c.ID, "error", err)
		}
		r.Log.Info("re-enqueued pending campaign with no live job", "campaign_id", c.ID)
	}
}

func (r *Reconciler) recoverStalled(now time.Time) {
	campaigns, err := r.Campaigns.ListStalled(now.Add(-r.GracePeriod))
	if err != nil {
		r.Log.Warn("stalled sweep failed", "error", err)
		return
	}
	for _, c := range campaigns {
		// Two full grace windows with zero progress: give up so the
		// campaign never hangs in processing forever.
		if c.UpdatedAt.Before(now.Add(-2 * r.GracePeriod)) {
			if err := r.Campaigns.MarkTerminal(c.ID, model.CampaignFailed); err != nil {
				r.Log.Warn("failed to fail stalled campaign", "campaign_id", c.ID, "error", err)
				continue
			}
			r.Log.Error("campaign stalled past grace period, marked failed",
				"campaign_id", c.ID, "last_write", c.UpdatedAt)
			continue
		}

		job := model.Job{CampaignID: c.ID, EnqueuedAt: now, Attempt: c.AttemptCount}
		if err := r.Queue.Publish(job); err != nil {
			r.Log.Warn("orphan re-enqueue failed", "campaign_id", c.ID, "error", err)
			continue
		}
		r.Log.Info("re-enqueued orphaned processing campaign", "campaign_id", c.ID)
	}
}
