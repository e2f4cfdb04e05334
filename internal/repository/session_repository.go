// internal/repository/session_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

type SessionRepositoryInterface interface {
	Create(s *model.UploadSession) error
	GetByID(id string) (*model.UploadSession, error)
	DeleteExpired() (int64, error)
}

type SessionRepository struct {
	DB *sql.DB
}

func (r *SessionRepository) Create(s *model.UploadSession) error {
	addrs, err := json.Marshal(s.Addresses)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO upload_sessions (id, addresses, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.DB.Exec(query, s.ID, string(addrs), s.CreatedAt, s.ExpiresAt)
	return err
}

// GetByID returns nil when the session does not exist. Expiry is checked
// by the caller so the consume guard and the read share one clock.
func (r *SessionRepository) GetByID(id string) (*model.UploadSession, error) {
	query := `
		SELECT id, addresses, created_at, expires_at, consumed_by
		FROM upload_sessions WHERE id=$1
	`
	var s model.UploadSession
	var addrs string
	var consumedBy sql.NullString
	err := r.DB.QueryRow(query, id).Scan(&s.ID, &addrs, &s.CreatedAt, &s.ExpiresAt, &consumedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(addrs), &s.Addresses); err != nil {
		return nil, err
	}
	if consumedBy.Valid {
		s.ConsumedBy = consumedBy.String
	}
	return &s, nil
}

// DeleteExpired removes unconsumed sessions past their TTL. Consumed
// sessions are kept for audit alongside their campaign.
func (r *SessionRepository) DeleteExpired() (int64, error) {
	res, err := r.DB.Exec(
		`DELETE FROM upload_sessions WHERE expires_at < $1 AND consumed_by IS NULL`,
		time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ SessionRepositoryInterface = (*SessionRepository)(nil)
