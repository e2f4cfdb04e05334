// internal/service/campaign_service_test.go
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/payment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceFixture struct {
	svc       *CampaignService
	campaigns *fakeCampaignRepo
	props     *fakePropertyRepo
	sessions  *fakeSessionRepo
	provider  *fakeProvider
	queue     *fakeQueue
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		campaigns: newFakeCampaignRepo(),
		props:     newFakePropertyRepo(),
		sessions:  newFakeSessionRepo(),
		provider:  newFakeProvider(),
		queue:     &fakeQueue{},
	}
	f.svc = &CampaignService{
		CampaignRepo: f.campaigns,
		PropertyRepo: f.props,
		SessionRepo:  f.sessions,
		Payments:     f.provider,
		Queue:        f.queue,
		Log:          testLogger(),
	}
	return f
}

func (f *serviceFixture) seedPaidCheckout(ref, sessionID string, addrCount int) {
	addrs := make([]model.RawAddress, addrCount)
	for i := range addrs {
		addrs[i] = model.RawAddress{Street: "1 Test St"}
	}
	f.sessions.Create(&model.UploadSession{
		ID:        sessionID,
		Addresses: addrs,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	f.provider.sessions[ref] = &payment.CheckoutSession{
		ID:   ref,
		Paid: true,
		Metadata: map[string]string{
			"upload_session_id": sessionID,
			"service_level":     string(model.FullScoringStandard),
		},
	}
}

func TestCreateFromPaymentCreatesAndEnqueues(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 3)

	c, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	require.NoError(t, err)

	assert.Equal(t, model.CampaignPending, c.Status)
	assert.Equal(t, 3, c.TotalCount)
	assert.Equal(t, model.FullScoringStandard, c.ServiceLevel)

	jobs := f.queue.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, c.ID, jobs[0].CampaignID)
}

func TestCreateFromPaymentIsIdempotent(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 2)

	first, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	require.NoError(t, err)

	// Simulates the webhook landing after the synchronous verification.
	second, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.queue.jobs(), 1, "duplicate call must not enqueue a second job")
}

func TestCreateFromPaymentConcurrentCallsConverge(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 2)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Len(t, f.campaigns.byID, 1)
}

func TestCreateFromPaymentNotPaid(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 2)
	f.provider.sessions["cs_1"].Paid = false

	_, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	assert.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)
	assert.Empty(t, f.queue.jobs())
}

func TestCreateFromPaymentSessionMissing(t *testing.T) {
	f := newServiceFixture()
	f.provider.sessions["cs_1"] = &payment.CheckoutSession{
		ID: "cs_1", Paid: true,
		Metadata: map[string]string{
			"upload_session_id": "gone",
			"service_level":     string(model.StreetViewStandard),
		},
	}

	_, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestCreateFromPaymentSessionExpired(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 2)
	sess := f.sessions.sessions["sess-1"]
	sess.ExpiresAt = time.Now().Add(-time.Minute)

	_, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

func TestCreateFromPaymentEnqueueFailureStillCreates(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 2)
	f.queue.failPublish = errors.New("broker down")

	// The campaign persists as pending; the reconciler re-enqueues later.
	c, err := f.svc.CreateFromPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignPending, c.Status)
}

func TestCreateUploadSessionLimits(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.CreateUploadSession(nil)
	assert.Error(t, err)

	tooMany := make([]model.RawAddress, maxAddresses+1)
	for i := range tooMany {
		tooMany[i] = model.RawAddress{Street: "1 Test St"}
	}
	_, err = f.svc.CreateUploadSession(tooMany)
	assert.Error(t, err)

	sess, err := f.svc.CreateUploadSession([]model.RawAddress{{Street: "1 Test St"}})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(sessionTTL), sess.ExpiresAt, time.Minute)
}

func TestMaintenanceModeBlocksCreation(t *testing.T) {
	f := newServiceFixture()
	f.seedPaidCheckout("cs_1", "sess-1", 2)
	f.svc.Maintenance = func() bool { return true }

	_, err := f.svc.CreateUploadSession([]model.RawAddress{{Street: "1 Test St"}})
	assert.ErrorIs(t, err, apperrors.ErrMaintenanceMode)

	_, err = f.svc.CreateFromPayment(context.Background(), "cs_1")
	assert.ErrorIs(t, err, apperrors.ErrMaintenanceMode)
}

func TestGetStatusProgress(t *testing.T) {
	f := newServiceFixture()
	f.campaigns.put(&model.Campaign{
		ID: "c1", PaymentReference: "cs_1",
		Status: model.CampaignProcessing, TotalCount: 8,
		SuccessCount: 5, FailedCount: 1,
	})

	status, err := f.svc.GetStatus("c1")
	require.NoError(t, err)
	assert.Equal(t, 6, status.ProcessedCount)
	assert.Equal(t, 75.0, status.ProgressPercent)

	_, err = f.svc.GetStatus("missing")
	assert.ErrorIs(t, err, apperrors.ErrCampaignNotFound)
}

func TestGetResultsPartialFlag(t *testing.T) {
	f := newServiceFixture()
	f.campaigns.put(&model.Campaign{
		ID: "c1", PaymentReference: "cs_1",
		Status: model.CampaignProcessing, TotalCount: 2,
	})
	f.props.seed("c1", 2)

	res, err := f.svc.GetResults("c1")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Properties, 2)

	f.campaigns.MarkTerminal("c1", model.CampaignCompleted)
	res, err = f.svc.GetResults("c1")
	require.NoError(t, err)
	assert.False(t, res.Partial)
}

func TestGetPropertyByPosition(t *testing.T) {
	f := newServiceFixture()
	f.campaigns.put(&model.Campaign{ID: "c1", PaymentReference: "cs_1", TotalCount: 3})
	f.props.seed("c1", 3)

	p, err := f.svc.GetProperty("c1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Position)

	_, err = f.svc.GetProperty("c1", 9)
	assert.ErrorIs(t, err, apperrors.ErrPropertyNotFound)
}
