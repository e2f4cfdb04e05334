// internal/model/property.go
package model

import (
	"strings"
	"time"
)

type PropertyStatus string

const (
	PropertyPending    PropertyStatus = "pending"
	PropertyProcessing PropertyStatus = "processing"
	PropertySucceeded  PropertyStatus = "succeeded"
	PropertyFailed     PropertyStatus = "failed"
)

// Finalized reports whether the property needs no further work.
// Redelivered jobs skip finalized properties, which is what makes
// at-least-once delivery safe.
func (s PropertyStatus) Finalized() bool {
	return s == PropertySucceeded || s == PropertyFailed
}

// RawAddress is one row from an uploaded CSV.
type RawAddress struct {
	Street string `json:"street"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

func (a RawAddress) Full() string {
	parts := []string{a.Street}
	for _, p := range []string{a.City, a.State, a.Zip} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeocodeResult is the standardized address plus coordinates returned by
// the geocoding provider.
type GeocodeResult struct {
	AddressFull   string      `json:"address_full"`
	AddressStreet string      `json:"address_street"`
	City          string      `json:"city"`
	State         string      `json:"state"`
	Zip           string      `json:"zip"`
	County        string      `json:"county,omitempty"`
	Coords        Coordinates `json:"coordinates"`
}

// Imagery holds street-level image references for one property.
// One URL for standard tiers, four (N, E, S, W) for premium.
type Imagery struct {
	URLs        []string `json:"image_urls"`
	CaptureDate string   `json:"capture_date,omitempty"` // "YYYY-MM"
	PanoID      string   `json:"pano_id,omitempty"`
	Stale       bool     `json:"imagery_stale"` // capture older than 3 years
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type Recommendation string

const (
	RecommendationHot  Recommendation = "hot"
	RecommendationWarm Recommendation = "warm"
	RecommendationCold Recommendation = "cold"
)

// ComponentScores break the overall condition down per element, 1-10
// where 10 is severe distress.
type ComponentScores struct {
	Roof           int `json:"roof"`
	Siding         int `json:"siding"`
	Landscaping    int `json:"landscaping"`
	VacancySignals int `json:"vacancy_signals"`
}

// PropertyScore is one vision-model verdict for one image.
type PropertyScore struct {
	Overall        int             `json:"overall_score"` // 0-100
	Recommendation Recommendation  `json:"recommendation"`
	Reasoning      string          `json:"reasoning"`
	Components     ComponentScores `json:"component_scores"`
	Confidence     Confidence      `json:"confidence"`
	Angle          string          `json:"angle,omitempty"` // set on multi-angle results
	Model          string          `json:"scoring_model,omitempty"`
}

type Property struct {
	ID           string          `json:"id"`
	CampaignID   string          `json:"campaign_id"`
	Position     int             `json:"position"`
	InputAddress string          `json:"input_address"`
	Status       PropertyStatus  `json:"processing_status"`
	Error        string          `json:"error,omitempty"`
	Geocode      *GeocodeResult  `json:"geocode,omitempty"`
	Imagery      *Imagery        `json:"imagery,omitempty"`
	Scores       []PropertyScore `json:"scores,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BestScore returns the first valid score, which doubles as the primary
// score for multi-angle properties.
func (p *Property) BestScore() *PropertyScore {
	if len(p.Scores) == 0 {
		return nil
	}
	return &p.Scores[0]
}
