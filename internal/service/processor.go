// internal/service/processor.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/repository"
)

// Collaborator contracts, satisfied by the geo, streetview and scorer
// clients in production and by fakes in tests.

type Geocoder interface {
	// A nil result with nil error means the address was not found.
	Geocode(ctx context.Context, addr model.RawAddress) (*model.GeocodeResult, error)
}

type ImageryFetcher interface {
	// A nil result with nil error means no coverage at the coordinates.
	Fetch(ctx context.Context, coords model.Coordinates, multiAngle bool) (*model.Imagery, error)
}

type Scorer interface {
	Score(ctx context.Context, imageURL string) (*model.PropertyScore, error)
}

type ScoreLimiter interface {
	Wait(ctx context.Context) error
}

var angleNames = []string{"North", "East", "South", "West"}

// Processor runs the per-campaign pipeline: geocode, imagery, score,
// persist, with a bounded pool of workers over independent properties.
// Properties already finalized are skipped, which makes redelivered and
// resumed jobs safe.
type Processor struct {
	Properties repository.PropertyRepositoryInterface
	Geocoder   Geocoder
	Imagery    ImageryFetcher
	Scorer     Scorer
	Limiter    ScoreLimiter
	// Width bounds intra-campaign parallelism; it never affects how many
	// campaigns run at once.
	Width int
	// RetryCount bounds retries of transient downstream failures per
	// property before the property is finalized as failed.
	RetryCount int
	// RetryBackoff is the pause between transient retries.
	RetryBackoff time.Duration
	Log          *slog.Logger
}

// Run processes every unfinished property of the campaign. Property
// failures are recorded and do not abort the run; only storage failures
// and context cancellation do, leaving the job unacknowledged for
// redelivery.
func (p *Processor) Run(ctx context.Context, campaign *model.Campaign) error {
	props, err := p.Properties.ListByCampaign(campaign.ID)
	if err != nil {
		return err
	}

	pending := make([]*model.Property, 0, len(props))
	for _, prop := range props {
		if prop.Status.Finalized() {
			continue
		}
		pending = append(pending, prop)
	}
	if len(pending) == 0 {
		return nil
	}

	width := p.Width
	if width < 1 {
		width = 1
	}

	work := make(chan *model.Property)
	// Closed on the first aborting worker so the feeder never blocks on a
	// send with no receivers left.
	abort := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var abortErr error

	fail := func(err error) {
		mu.Lock()
		if abortErr == nil {
			abortErr = err
			close(abort)
		}
		mu.Unlock()
	}

	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for prop := range work {
				if err := p.processOne(ctx, campaign, prop); err != nil {
					fail(err)
					return
				}
			}
		}()
	}

feed:
	for _, prop := range pending {
		select {
		case work <- prop:
		case <-abort:
			break feed
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if abortErr != nil {
		return abortErr
	}
	return ctx.Err()
}

// processOne runs the pipeline for a single property. The returned error
// is nil unless the whole job must abort (storage down or deadline hit);
// downstream failures finalize the property instead.
func (p *Processor) processOne(ctx context.Context, campaign *model.Campaign, prop *model.Property) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Properties.MarkProcessing(prop.ID); err != nil {
		return err
	}

	var failure error
	for attempt := 0; ; attempt++ {
		failure = p.pipeline(ctx, campaign, prop)
		if failure == nil {
			break
		}
		if ctx.Err() != nil {
			// In-flight when the deadline hit; leave the property
			// unfinalized so the redelivered job picks it up.
			return ctx.Err()
		}
		if apperrors.IsStorage(failure) {
			return failure
		}
		if !apperrors.IsTransient(failure) || attempt >= p.RetryCount {
			break
		}
		p.Log.Debug("retrying property after transient failure",
			"property_id", prop.ID, "attempt", attempt+1, "error", failure)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.RetryBackoff * time.Duration(attempt+1)):
		}
	}

	if failure != nil {
		prop.Status = model.PropertyFailed
		prop.Error = failure.Error()
	} else {
		prop.Status = model.PropertySucceeded
		prop.Error = ""
	}

	// The finalize transaction is what bounds crash loss to in-flight
	// properties: record and counters land durably before the worker
	// slot takes the next property.
	if err := p.Properties.Finalize(prop); err != nil {
		return err
	}

	p.Log.Info("property finalized",
		"campaign_id", campaign.ID, "property_id", prop.ID,
		"position", prop.Position, "status", prop.Status)
	return nil
}

// pipeline runs geocode -> imagery -> score and fills the property in
// place. Returned errors describe why the property failed; transient ones
// are retried by the caller.
func (p *Processor) pipeline(ctx context.Context, campaign *model.Campaign, prop *model.Property) error {
	geocoded, err := p.Geocoder.Geocode(ctx, model.RawAddress{Street: prop.InputAddress})
	if err != nil {
		return err
	}
	if geocoded == nil {
		return errors.New("geocoding failed: address not found")
	}
	prop.Geocode = geocoded

	imagery, err := p.Imagery.Fetch(ctx, geocoded.Coords, campaign.ServiceLevel.MultiAngle())
	if err != nil {
		return err
	}
	if imagery == nil {
		return errors.New("no street-level imagery available")
	}
	prop.Imagery = imagery

	if !campaign.ServiceLevel.NeedsScoring() {
		return nil
	}

	scores := make([]model.PropertyScore, 0, len(imagery.URLs))
	var lastErr error
	for i, url := range imagery.URLs {
		if err := p.Limiter.Wait(ctx); err != nil {
			return err
		}
		score, err := p.Scorer.Score(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// One bad angle does not sink the property as long as
			// another angle scores.
			lastErr = err
			continue
		}
		if campaign.ServiceLevel.MultiAngle() && i < len(angleNames) {
			score.Angle = angleNames[i]
		}
		scores = append(scores, *score)
	}
	if len(scores) == 0 {
		if lastErr != nil && apperrors.IsTransient(lastErr) {
			return lastErr
		}
		return fmt.Errorf("scoring failed: %v", lastErr)
	}
	prop.Scores = scores
	return nil
}
