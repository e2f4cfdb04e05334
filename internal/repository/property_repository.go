// internal/repository/property_repository.go
package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

type PropertyRepositoryInterface interface {
	// ListByCampaign returns every property ordered by upload position.
	ListByCampaign(campaignID string) ([]*model.Property, error)
	MarkProcessing(id string) error
	// Finalize writes the property's result and recomputes the campaign
	// counters in the same transaction, so a snapshot can never observe
	// success_count + failed_count > total_count and both counts only grow.
	Finalize(p *model.Property) error
}

type PropertyRepository struct {
	DB *sql.DB
}

const propertyColumns = `id, campaign_id, position, input_address, processing_status, error,
	address_full, address_street, city, state, zip, county, latitude, longitude,
	image_urls, capture_date, pano_id, imagery_stale, scores, updated_at`

func (r *PropertyRepository) ListByCampaign(campaignID string) ([]*model.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE campaign_id=$1 ORDER BY position`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, apperrors.NewStorageError("list properties", err)
	}
	defer rows.Close()

	props := []*model.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func scanProperty(rows *sql.Rows) (*model.Property, error) {
	var p model.Property
	var addrFull, addrStreet, city, state, zip, county sql.NullString
	var lat, lng sql.NullFloat64
	var urls pq.StringArray
	var captureDate, panoID, scores sql.NullString
	var stale bool

	err := rows.Scan(&p.ID, &p.CampaignID, &p.Position, &p.InputAddress, &p.Status, &p.Error,
		&addrFull, &addrStreet, &city, &state, &zip, &county, &lat, &lng,
		&urls, &captureDate, &panoID, &stale, &scores, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		p.Geocode = &model.GeocodeResult{
			AddressFull:   addrFull.String,
			AddressStreet: addrStreet.String,
			City:          city.String,
			State:         state.String,
			Zip:           zip.String,
			County:        county.String,
			Coords:        model.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64},
		}
	}
	if len(urls) > 0 {
		p.Imagery = &model.Imagery{
			URLs:        urls,
			CaptureDate: captureDate.String,
			PanoID:      panoID.String,
			Stale:       stale,
		}
	}
	if scores.Valid && scores.String != "" {
		if err := json.Unmarshal([]byte(scores.String), &p.Scores); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (r *PropertyRepository) MarkProcessing(id string) error {
	_, err := r.DB.Exec(
		`UPDATE properties SET processing_status='processing', updated_at=now() WHERE id=$1`,
		id,
	)
	if err != nil {
		return apperrors.NewStorageError("mark property processing", err)
	}
	return nil
}

func (r *PropertyRepository) Finalize(p *model.Property) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return apperrors.NewStorageError("begin finalize", err)
	}
	defer tx.Rollback()

	var addrFull, addrStreet, city, state, zip, county any
	var lat, lng any
	if p.Geocode != nil {
		addrFull, addrStreet = p.Geocode.AddressFull, p.Geocode.AddressStreet
		city, state, zip, county = p.Geocode.City, p.Geocode.State, p.Geocode.Zip, p.Geocode.County
		lat, lng = p.Geocode.Coords.Latitude, p.Geocode.Coords.Longitude
	}

	var urls pq.StringArray
	var captureDate, panoID any
	var stale bool
	if p.Imagery != nil {
		urls = p.Imagery.URLs
		captureDate, panoID = p.Imagery.CaptureDate, p.Imagery.PanoID
		stale = p.Imagery.Stale
	}

	var scores any
	if len(p.Scores) > 0 {
		raw, merr := json.Marshal(p.Scores)
		if merr != nil {
			return merr
		}
		scores = string(raw)
	}

	update := `
		UPDATE properties SET
			processing_status=$2, error=$3,
			address_full=$4, address_street=$5, city=$6, state=$7, zip=$8, county=$9,
			latitude=$10, longitude=$11,
			image_urls=$12, capture_date=$13, pano_id=$14, imagery_stale=$15,
			scores=$16, updated_at=now()
		WHERE id=$1
	`
	if _, err := tx.Exec(update, p.ID, p.Status, p.Error,
		addrFull, addrStreet, city, state, zip, county, lat, lng,
		urls, captureDate, panoID, stale, scores); err != nil {
		return apperrors.NewStorageError("finalize property", err)
	}

	// Counters derive from the property rows themselves, so redelivered
	// jobs that skip finalized properties can never double-count.
	counters := `
		UPDATE campaigns SET
			success_count=(SELECT COUNT(*) FROM properties WHERE campaign_id=$1 AND processing_status='succeeded'),
			failed_count=(SELECT COUNT(*) FROM properties WHERE campaign_id=$1 AND processing_status='failed'),
			updated_at=now()
		WHERE id=$1
	`
	if _, err := tx.Exec(counters, p.CampaignID); err != nil {
		return apperrors.NewStorageError("update campaign counters", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("commit finalize", err)
	}
	return nil
}

var _ PropertyRepositoryInterface = (*PropertyRepository)(nil)
