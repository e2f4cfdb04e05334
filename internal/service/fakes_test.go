// internal/service/fakes_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/payment"
	"github.com/prospectgrid/prospectgrid-backend/internal/queue"
)

// In-memory fakes mirroring the repository semantics the Postgres
// implementations provide, including idempotent creation and
// claim-with-stale-takeover.

type fakeCampaignRepo struct {
	mu    sync.Mutex
	byID  map[string]*model.Campaign
	byRef map[string]string
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		byID:  map[string]*model.Campaign{},
		byRef: map[string]string{},
	}
}

func (r *fakeCampaignRepo) CreateIdempotent(c *model.Campaign, addrs []model.RawAddress) (bool, *model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byRef[c.PaymentReference]; ok {
		existing := *r.byID[id]
		return false, &existing, nil
	}
	cp := *c
	cp.UpdatedAt = time.Now()
	r.byID[c.ID] = &cp
	r.byRef[c.PaymentReference] = c.ID
	return true, nil, nil
}

func (r *fakeCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) GetByPaymentReference(ref string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRef[ref]
	if !ok {
		return nil, apperrors.ErrCampaignNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *fakeCampaignRepo) Claim(id string, staleAfter time.Duration) (*model.Campaign, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, false, apperrors.ErrCampaignNotFound
	}
	claimable := c.Status == model.CampaignPending ||
		(c.Status == model.CampaignProcessing && time.Since(c.UpdatedAt) > staleAfter)
	if !claimable {
		cp := *c
		return &cp, false, nil
	}
	c.Status = model.CampaignProcessing
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, true, nil
}

func (r *fakeCampaignRepo) Release(id string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.Status != model.CampaignProcessing {
		return nil
	}
	c.Status = model.CampaignPending
	c.AttemptCount = attempts
	c.UpdatedAt = time.Now()
	return nil
}

func (r *fakeCampaignRepo) MarkEnqueued(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok && c.Status == model.CampaignPending {
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeCampaignRepo) MarkTerminal(id string, status model.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.Status.Terminal() {
		return nil
	}
	now := time.Now()
	c.Status = status
	c.UpdatedAt = now
	c.CompletedAt = &now
	return nil
}

func (r *fakeCampaignRepo) ListUnstarted(cutoff time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.byID {
		if c.Status == model.CampaignPending && c.UpdatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListStalled(cutoff time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.byID {
		if c.Status == model.CampaignProcessing && c.UpdatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) put(c *model.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
	r.byRef[c.PaymentReference] = c.ID
}

type fakePropertyRepo struct {
	mu            sync.Mutex
	byCampaign    map[string][]*model.Property
	failFinalize  error
	finalizeDelay time.Duration
	finalized     int
}

func newFakePropertyRepo() *fakePropertyRepo {
	return &fakePropertyRepo{byCampaign: map[string][]*model.Property{}}
}

func (r *fakePropertyRepo) seed(campaignID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < count; i++ {
		r.byCampaign[campaignID] = append(r.byCampaign[campaignID], &model.Property{
			ID:           campaignID + "-p" + string(rune('a'+i)),
			CampaignID:   campaignID,
			Position:     i,
			InputAddress: "addr " + string(rune('a'+i)),
			Status:       model.PropertyPending,
		})
	}
}

func (r *fakePropertyRepo) ListByCampaign(campaignID string) ([]*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Property
	for _, p := range r.byCampaign[campaignID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakePropertyRepo) MarkProcessing(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, props := range r.byCampaign {
		for _, p := range props {
			if p.ID == id {
				p.Status = model.PropertyProcessing
			}
		}
	}
	return nil
}

func (r *fakePropertyRepo) Finalize(p *model.Property) error {
	if r.finalizeDelay > 0 {
		time.Sleep(r.finalizeDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFinalize != nil {
		return r.failFinalize
	}
	for _, props := range r.byCampaign {
		for i, existing := range props {
			if existing.ID == p.ID {
				cp := *p
				props[i] = &cp
				r.finalized++
			}
		}
	}
	return nil
}

func (r *fakePropertyRepo) counts(campaignID string) (succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byCampaign[campaignID] {
		switch p.Status {
		case model.PropertySucceeded:
			succeeded++
		case model.PropertyFailed:
			failed++
		}
	}
	return
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.UploadSession
	deleted  int64
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*model.UploadSession{}}
}

func (r *fakeSessionRepo) Create(s *model.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(id string) (*model.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) DeleteExpired() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for id, s := range r.sessions {
		if s.Expired(now) && s.ConsumedBy == "" {
			delete(r.sessions, id)
			n++
		}
	}
	r.deleted += n
	return n, nil
}

type fakeQueue struct {
	mu          sync.Mutex
	published   []model.Job
	failPublish error
}

func (q *fakeQueue) Publish(job model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failPublish != nil {
		return q.failPublish
	}
	q.published = append(q.published, job)
	return nil
}

func (q *fakeQueue) Consume(handler queue.Handler) error { return nil }

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) jobs() []model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Job(nil), q.published...)
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*payment.CheckoutSession
	calls    int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sessions: map[string]*payment.CheckoutSession{}}
}

func (p *fakeProvider) CreateSession(ctx context.Context, amountCents int64, description, email string, metadata map[string]string) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_new", URL: "https://pay.example/cs_new", Metadata: metadata}, nil
}

func (p *fakeProvider) RetrieveSession(ctx context.Context, id string) (*payment.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	s, ok := p.sessions[id]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	cp := *s
	return &cp, nil
}

// Processor collaborator stubs.

type stubGeocoder struct {
	mu    sync.Mutex
	fail  map[string]error // input address -> error
	miss  map[string]bool  // input address -> not found
	calls int
}

func (g *stubGeocoder) Geocode(ctx context.Context, addr model.RawAddress) (*model.GeocodeResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if err, ok := g.fail[addr.Street]; ok {
		return nil, err
	}
	if g.miss[addr.Street] {
		return nil, nil
	}
	return &model.GeocodeResult{
		AddressFull: addr.Street,
		Coords:      model.Coordinates{Latitude: 40, Longitude: -75},
	}, nil
}

type stubImagery struct {
	noCoverage bool
	err        error
}

func (s *stubImagery) Fetch(ctx context.Context, coords model.Coordinates, multiAngle bool) (*model.Imagery, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.noCoverage {
		return nil, nil
	}
	urls := []string{"https://img.example/1"}
	if multiAngle {
		urls = []string{
			"https://img.example/1", "https://img.example/2",
			"https://img.example/3", "https://img.example/4",
		}
	}
	return &model.Imagery{URLs: urls, CaptureDate: "2024-01"}, nil
}

type stubScorer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubScorer) Score(ctx context.Context, imageURL string) (*model.PropertyScore, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &model.PropertyScore{Overall: 65, Recommendation: model.RecommendationWarm}, nil
}

type stubLimiter struct {
	mu    sync.Mutex
	waits int
}

func (l *stubLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return ctx.Err()
}
