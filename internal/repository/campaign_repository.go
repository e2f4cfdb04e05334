// internal/repository/campaign_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// CreateIdempotent persists a campaign and its pending property rows
	// in one transaction, keyed on payment_reference. When a campaign for
	// the same payment already exists it is returned with created=false.
	CreateIdempotent(c *model.Campaign, addrs []model.RawAddress) (created bool, existing *model.Campaign, err error)
	GetByID(id string) (*model.Campaign, error)
	GetByPaymentReference(ref string) (*model.Campaign, error)
	// Claim moves a campaign into processing. A campaign already being
	// processed can only be re-claimed once its last write is older than
	// staleAfter, which keeps one writer per campaign even when duplicate
	// jobs exist. Returns claimed=false with the current row otherwise.
	Claim(id string, staleAfter time.Duration) (c *model.Campaign, claimed bool, err error)
	// Release returns a claimed campaign to pending and records the
	// attempt count on the row, so the retried delivery can claim it
	// again and the retry budget survives even a re-enqueue whose
	// message header carries no history.
	Release(id string, attempts int) error
	// MarkTerminal finalizes status. Forward-only: a campaign already
	// terminal is never changed.
	MarkTerminal(id string, status model.CampaignStatus) error
	// MarkEnqueued records that a job for a pending campaign was just
	// published, pushing its next reconciler re-enqueue a full window out.
	MarkEnqueued(id string) error
	// ListUnstarted returns pending campaigns with no write since the
	// cutoff, i.e. candidates whose enqueue may have been lost.
	ListUnstarted(cutoff time.Time) ([]*model.Campaign, error)
	// ListStalled returns processing campaigns with no write since the
	// cutoff.
	ListStalled(cutoff time.Time) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, upload_session_id, payment_reference, service_level, email,
	status, total_count, success_count, failed_count, attempt_count, created_at, updated_at, completed_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	var completedAt sql.NullTime
	err := row.Scan(&c.ID, &c.UploadSessionID, &c.PaymentReference, &c.ServiceLevel,
		&c.Email, &c.Status, &c.TotalCount, &c.SuccessCount, &c.FailedCount,
		&c.AttemptCount, &c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

func (r *CampaignRepository) CreateIdempotent(c *model.Campaign, addrs []model.RawAddress) (bool, *model.Campaign, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return false, nil, apperrors.NewStorageError("begin create campaign", err)
	}
	defer tx.Rollback()

	// The unique index on payment_reference closes the race between two
	// concurrent creations: exactly one insert wins, the other observes
	// the conflict and returns the winner's row.
	insert := `
		INSERT INTO campaigns (id, upload_session_id, payment_reference, service_level,
			email, status, total_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_reference) DO NOTHING
		RETURNING id
	`
	var insertedID string
	err = tx.QueryRow(insert, c.ID, c.UploadSessionID, c.PaymentReference,
		c.ServiceLevel, c.Email, c.Status, c.TotalCount, c.CreatedAt).Scan(&insertedID)
	if err == sql.ErrNoRows {
		existing, gerr := r.GetByPaymentReference(c.PaymentReference)
		if gerr != nil {
			return false, nil, gerr
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, apperrors.NewStorageError("insert campaign", err)
	}

	// One pending property row per address, persisted up front so a
	// resumed job never needs the (destroyed) upload session.
	propInsert := `
		INSERT INTO properties (id, campaign_id, position, input_address, processing_status)
		VALUES ($1, $2, $3, $4, 'pending')
	`
	for i, a := range addrs {
		if _, err := tx.Exec(propInsert, uuid.NewString(), c.ID, i, a.Full()); err != nil {
			return false, nil, apperrors.NewStorageError("insert property", err)
		}
	}

	// The consume guard makes a session usable by at most one campaign.
	res, err := tx.Exec(
		`UPDATE upload_sessions SET consumed_by=$1 WHERE id=$2 AND consumed_by IS NULL`,
		c.ID, c.UploadSessionID,
	)
	if err != nil {
		return false, nil, apperrors.NewStorageError("consume session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil, apperrors.ErrSessionExpired
	}

	if err := tx.Commit(); err != nil {
		return false, nil, apperrors.NewStorageError("commit create campaign", err)
	}
	return true, nil, nil
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrCampaignNotFound
	}
	return c, err
}

func (r *CampaignRepository) GetByPaymentReference(ref string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE payment_reference=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, ref))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrCampaignNotFound
	}
	return c, err
}

func (r *CampaignRepository) Claim(id string, staleAfter time.Duration) (*model.Campaign, bool, error) {
	query := `
		UPDATE campaigns SET status='processing', updated_at=now()
		WHERE id=$1 AND (status='pending'
			OR (status='processing' AND updated_at < now() - ($2 * interval '1 millisecond')))
		RETURNING ` + campaignColumns
	c, err := scanCampaign(r.DB.QueryRow(query, id, staleAfter.Milliseconds()))
	if err == sql.ErrNoRows {
		// Terminal, owned by a live worker, or gone; let the caller look.
		current, gerr := r.GetByID(id)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStorageError("claim campaign", err)
	}
	return c, true, nil
}

func (r *CampaignRepository) Release(id string, attempts int) error {
	query := `
		UPDATE campaigns SET status='pending', attempt_count=$2, updated_at=now()
		WHERE id=$1 AND status='processing'
	`
	if _, err := r.DB.Exec(query, id, attempts); err != nil {
		return apperrors.NewStorageError("release campaign", err)
	}
	return nil
}

func (r *CampaignRepository) MarkEnqueued(id string) error {
	query := `UPDATE campaigns SET updated_at=now() WHERE id=$1 AND status='pending'`
	if _, err := r.DB.Exec(query, id); err != nil {
		return apperrors.NewStorageError("mark campaign enqueued", err)
	}
	return nil
}

func (r *CampaignRepository) MarkTerminal(id string, status model.CampaignStatus) error {
	if !status.Terminal() {
		return nil
	}
	query := `
		UPDATE campaigns SET status=$2, completed_at=now(), updated_at=now()
		WHERE id=$1 AND status NOT IN ('completed', 'failed')
	`
	if _, err := r.DB.Exec(query, id, status); err != nil {
		return apperrors.NewStorageError("mark campaign terminal", err)
	}
	return nil
}

func (r *CampaignRepository) ListUnstarted(cutoff time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns WHERE status='pending' AND updated_at < $1 ORDER BY updated_at`
	return r.list(query, cutoff)
}

func (r *CampaignRepository) ListStalled(cutoff time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns WHERE status='processing' AND updated_at < $1 ORDER BY updated_at`
	return r.list(query, cutoff)
}

func (r *CampaignRepository) list(query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
