// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/payment"
	"github.com/prospectgrid/prospectgrid-backend/internal/queue"
	"github.com/prospectgrid/prospectgrid-backend/internal/repository"
)

const (
	sessionTTL   = 24 * time.Hour
	maxAddresses = 500
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	PropertyRepo repository.PropertyRepositoryInterface
	SessionRepo  repository.SessionRepositoryInterface
	Payments     payment.Provider
	Queue        queue.JobQueue
	// Maintenance is the kill switch: when it reports true, new campaign
	// creation is rejected; in-flight campaigns are untouched.
	Maintenance func() bool
	Log         *slog.Logger
}

func (s *CampaignService) maintenance() bool {
	return s.Maintenance != nil && s.Maintenance()
}

// CreateUploadSession stores a validated address batch for 24 hours.
func (s *CampaignService) CreateUploadSession(addrs []model.RawAddress) (*model.UploadSession, error) {
	if s.maintenance() {
		return nil, apperrors.ErrMaintenanceMode
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no valid addresses found")
	}
	if len(addrs) > maxAddresses {
		return nil, fmt.Errorf("maximum %d addresses per upload", maxAddresses)
	}
	now := time.Now()
	sess := &model.UploadSession{
		ID:        uuid.NewString(),
		Addresses: addrs,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	if err := s.SessionRepo.Create(sess); err != nil {
		return nil, apperrors.NewStorageError("create session", err)
	}
	return sess, nil
}

// CreateFromPayment converts a confirmed payment into exactly one
// campaign. Both the synchronous verification call and the asynchronous
// webhook land here; repeated calls for the same payment_reference always
// return the same campaign id and never create a second one.
func (s *CampaignService) CreateFromPayment(ctx context.Context, paymentReference string) (*model.Campaign, error) {
	if s.maintenance() {
		return nil, apperrors.ErrMaintenanceMode
	}

	// Fast path for redeliveries: the campaign already exists, the
	// session may already be consumed, nothing left to check.
	if existing, err := s.CampaignRepo.GetByPaymentReference(paymentReference); err == nil {
		return existing, nil
	} else if err != apperrors.ErrCampaignNotFound {
		return nil, err
	}

	checkout, err := s.Payments.RetrieveSession(ctx, paymentReference)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment: %w", err)
	}
	if !checkout.Paid {
		return nil, apperrors.ErrPaymentNotCompleted
	}

	sessionID := checkout.Metadata["upload_session_id"]
	level := model.ServiceLevel(checkout.Metadata["service_level"])
	if sessionID == "" || !level.Valid() {
		return nil, fmt.Errorf("payment metadata incomplete")
	}

	sess, err := s.SessionRepo.GetByID(sessionID)
	if err != nil {
		return nil, apperrors.NewStorageError("load session", err)
	}
	if sess == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if sess.Expired(time.Now()) {
		return nil, apperrors.ErrSessionExpired
	}

	campaign := &model.Campaign{
		ID:               uuid.NewString(),
		UploadSessionID:  sessionID,
		PaymentReference: paymentReference,
		ServiceLevel:     level,
		Email:            checkout.CustomerEmail,
		Status:           model.CampaignPending,
		TotalCount:       len(sess.Addresses),
		CreatedAt:        time.Now(),
	}

	created, existing, err := s.CampaignRepo.CreateIdempotent(campaign, sess.Addresses)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent call won the insert; converge on its campaign.
		return existing, nil
	}

	// Persistence happened before enqueue, so a worker can never see a
	// job for a campaign that does not exist. If the enqueue itself
	// fails the reconciler re-enqueues the pending campaign.
	job := model.Job{CampaignID: campaign.ID, EnqueuedAt: time.Now()}
	if err := s.Queue.Publish(job); err != nil {
		s.Log.Warn("enqueue failed, reconciler will retry",
			"campaign_id", campaign.ID, "error", err)
	}
	return campaign, nil
}

// Status is the progress view served while a campaign runs.
type Status struct {
	CampaignID      string               `json:"campaign_id"`
	Status          model.CampaignStatus `json:"status"`
	TotalCount      int                  `json:"total_count"`
	ProcessedCount  int                  `json:"processed_count"`
	SuccessCount    int                  `json:"success_count"`
	FailedCount     int                  `json:"failed_count"`
	ProgressPercent float64              `json:"progress_percent"`
}

func (s *CampaignService) GetStatus(campaignID string) (*Status, error) {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	return &Status{
		CampaignID:      c.ID,
		Status:          c.Status,
		TotalCount:      c.TotalCount,
		ProcessedCount:  c.ProcessedCount(),
		SuccessCount:    c.SuccessCount,
		FailedCount:     c.FailedCount,
		ProgressPercent: roundPercent(c.ProgressPercent()),
	}, nil
}

// Results is the full property listing, flagged partial until terminal.
type Results struct {
	CampaignID   string               `json:"campaign_id"`
	Status       model.CampaignStatus `json:"status"`
	Partial      bool                 `json:"partial"`
	TotalCount   int                  `json:"total_count"`
	SuccessCount int                  `json:"success_count"`
	FailedCount  int                  `json:"failed_count"`
	Properties   []*model.Property    `json:"properties"`
}

func (s *CampaignService) GetResults(campaignID string) (*Results, error) {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	props, err := s.PropertyRepo.ListByCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	return &Results{
		CampaignID:   c.ID,
		Status:       c.Status,
		Partial:      !c.Status.Terminal(),
		TotalCount:   c.TotalCount,
		SuccessCount: c.SuccessCount,
		FailedCount:  c.FailedCount,
		Properties:   props,
	}, nil
}

// GetProperty returns one property by upload position.
func (s *CampaignService) GetProperty(campaignID string, position int) (*model.Property, error) {
	props, err := s.PropertyRepo.ListByCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		if p.Position == position {
			return p, nil
		}
	}
	return nil, apperrors.ErrPropertyNotFound
}

func roundPercent(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
