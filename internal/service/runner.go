// internal/service/runner.go
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/notify"
	"github.com/prospectgrid/prospectgrid-backend/internal/queue"
	"github.com/prospectgrid/prospectgrid-backend/internal/repository"
)

// JobTimeout sizes a job deadline for the worst case: every property
// waiting a full rate-limit interval, plus margin. The timeout bounds how
// long one campaign may run; it never changes how many campaigns run at
// once, which only the worker replica count does.
func JobTimeout(totalProperties int, scoreInterval, margin time.Duration) time.Duration {
	return time.Duration(totalProperties)*scoreInterval + margin
}

// CampaignRunner executes one job end to end: claim the campaign, run the
// property processor over it, mark it terminal, notify, and tell the
// queue what to do with the delivery.
type CampaignRunner struct {
	Campaigns repository.CampaignRepositoryInterface
	Processor *Processor
	Notifier  notify.Notifier

	ScoreInterval time.Duration
	TimeoutMargin time.Duration
	MaxAttempts   int
	// StaleClaim is how old a processing campaign's last write must be
	// before another worker may take it over.
	StaleClaim time.Duration

	Log *slog.Logger
}

func (r *CampaignRunner) Handle(job model.Job) queue.Outcome {
	log := r.Log.With("campaign_id", job.CampaignID, "attempt", job.Attempt)

	campaign, claimed, err := r.Campaigns.Claim(job.CampaignID, r.StaleClaim)
	if err != nil {
		if errors.Is(err, apperrors.ErrCampaignNotFound) {
			log.Warn("job references unknown campaign, dropping")
			return queue.Ack
		}
		log.Error("claim failed, requeueing", "error", err)
		return queue.Requeue
	}
	if !claimed {
		if campaign.Status.Terminal() {
			log.Info("campaign already terminal, dropping duplicate job")
			return queue.Ack
		}
		// A live worker owns it; its own delivery covers the crash case.
		log.Info("campaign held by another worker, dropping duplicate job")
		return queue.Ack
	}

	timeout := JobTimeout(campaign.TotalCount, r.ScoreInterval, r.TimeoutMargin)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("processing campaign", "total", campaign.TotalCount, "timeout", timeout)
	err = r.Processor.Run(ctx, campaign)

	switch {
	case err == nil:
		if merr := r.Campaigns.MarkTerminal(campaign.ID, model.CampaignCompleted); merr != nil {
			log.Error("failed to mark campaign completed, requeueing", "error", merr)
			return queue.Requeue
		}
		r.sendNotification(campaign)
		log.Info("campaign completed")
		return queue.Ack

	case apperrors.IsStorage(err):
		// Progress so far is durable; redelivery resumes where we left off.
		log.Error("storage unavailable mid-campaign, requeueing", "error", err)
		return queue.Requeue

	default:
		// Timeout or another fatal error: retry up to the attempt budget,
		// then fail the campaign for good. The row's attempt count is
		// authoritative; the message header can lag behind it when the
		// reconciler re-enqueued at attempt zero.
		attempt := job.Attempt
		if campaign.AttemptCount > attempt {
			attempt = campaign.AttemptCount
		}
		if attempt+1 >= r.MaxAttempts {
			log.Error("job exhausted attempts, failing campaign", "error", err)
			if merr := r.Campaigns.MarkTerminal(campaign.ID, model.CampaignFailed); merr != nil {
				log.Error("failed to mark campaign failed, requeueing", "error", merr)
				return queue.Requeue
			}
			return queue.DeadLetter
		}
		// Release the claim before the retry publishes, otherwise the
		// redelivery finds a fresh processing row and is dropped as a
		// duplicate, orphaning the attempt chain.
		if rerr := r.Campaigns.Release(campaign.ID, attempt+1); rerr != nil {
			log.Error("failed to release claim for retry, requeueing", "error", rerr)
			return queue.Requeue
		}
		log.Warn("job attempt failed, retrying", "error", err, "attempt", attempt)
		return queue.Retry
	}
}

func (r *CampaignRunner) sendNotification(campaign *model.Campaign) {
	// Best effort only; a bounced mail never fails the campaign.
	fresh, err := r.Campaigns.GetByID(campaign.ID)
	if err != nil {
		fresh = campaign
	}
	if err := r.Notifier.CampaignCompleted(fresh); err != nil {
		r.Log.Warn("completion notification failed", "campaign_id", campaign.ID, "error", err)
	}
}
