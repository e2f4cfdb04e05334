// internal/service/reconciler_test.go
package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

type reconcilerFixture struct {
	rec       *Reconciler
	campaigns *fakeCampaignRepo
	sessions  *fakeSessionRepo
	queue     *fakeQueue
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		campaigns: newFakeCampaignRepo(),
		sessions:  newFakeSessionRepo(),
		queue:     &fakeQueue{},
	}
	f.rec = &Reconciler{
		Campaigns:   f.campaigns,
		Sessions:    f.sessions,
		Queue:       f.queue,
		GracePeriod: 15 * time.Minute,
		Interval:    time.Minute,
		Log:         testLogger(),
	}
	return f
}

func (f *reconcilerFixture) seed(id string, status model.CampaignStatus, createdAgo, updatedAgo time.Duration) {
	now := time.Now()
	f.campaigns.put(&model.Campaign{
		ID: id, PaymentReference: "cs_" + id,
		Status:    status,
		CreatedAt: now.Add(-createdAgo),
		UpdatedAt: now.Add(-updatedAgo),
	})
}

func TestSweepRequeuesPendingWithLostEnqueue(t *testing.T) {
	f := newReconcilerFixture()
	f.seed("old", model.CampaignPending, 10*time.Minute, 10*time.Minute)
	f.seed("fresh", model.CampaignPending, 5*time.Second, 5*time.Second)

	f.rec.SweepOnce(time.Now())

	jobs := f.queue.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "old", jobs[0].CampaignID)
}

func TestSweepRequeuesOncePerWindow(t *testing.T) {
	f := newReconcilerFixture()
	f.seed("old", model.CampaignPending, 10*time.Minute, 10*time.Minute)

	// A backlogged queue must not collect one duplicate per sweep; the
	// publish stamps the row so the next sweep skips it.
	f.rec.SweepOnce(time.Now())
	f.rec.SweepOnce(time.Now())

	assert.Len(t, f.queue.jobs(), 1)
}

func TestSweepCarriesPersistedAttempts(t *testing.T) {
	f := newReconcilerFixture()
	f.seed("retrying", model.CampaignPending, time.Hour, 10*time.Minute)
	f.campaigns.mu.Lock()
	f.campaigns.byID["retrying"].AttemptCount = 2
	f.campaigns.mu.Unlock()

	f.rec.SweepOnce(time.Now())

	jobs := f.queue.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Attempt)
}

func TestSweepIgnoresHealthyProcessing(t *testing.T) {
	f := newReconcilerFixture()
	f.seed("busy", model.CampaignProcessing, time.Hour, time.Minute)

	f.rec.SweepOnce(time.Now())
	assert.Empty(t, f.queue.jobs())
}

func TestSweepRequeuesOrphanedProcessing(t *testing.T) {
	f := newReconcilerFixture()
	// Past the grace period but not past two full windows: one more chance.
	f.seed("orphan", model.CampaignProcessing, time.Hour, 20*time.Minute)

	f.rec.SweepOnce(time.Now())

	jobs := f.queue.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "orphan", jobs[0].CampaignID)

	c, _ := f.campaigns.GetByID("orphan")
	assert.Equal(t, model.CampaignProcessing, c.Status)
}

func TestSweepFailsCampaignDeadPastTwoGraceWindows(t *testing.T) {
	f := newReconcilerFixture()
	f.seed("dead", model.CampaignProcessing, 2*time.Hour, time.Hour)

	f.rec.SweepOnce(time.Now())

	assert.Empty(t, f.queue.jobs())
	c, _ := f.campaigns.GetByID("dead")
	assert.Equal(t, model.CampaignFailed, c.Status)
}

func TestSweepDeletesExpiredSessions(t *testing.T) {
	f := newReconcilerFixture()
	f.sessions.Create(&model.UploadSession{
		ID: "stale", ExpiresAt: time.Now().Add(-time.Hour),
	})
	f.sessions.Create(&model.UploadSession{
		ID: "live", ExpiresAt: time.Now().Add(time.Hour),
	})
	f.sessions.Create(&model.UploadSession{
		ID: "consumed", ExpiresAt: time.Now().Add(-time.Hour), ConsumedBy: "c1",
	})

	f.rec.SweepOnce(time.Now())

	assert.Equal(t, int64(1), f.sessions.deleted)
	live, _ := f.sessions.GetByID("live")
	assert.NotNil(t, live)
	consumed, _ := f.sessions.GetByID("consumed")
	assert.NotNil(t, consumed, "consumed sessions are kept for audit")
}
