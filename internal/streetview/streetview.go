// internal/streetview/streetview.go
package streetview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/geo"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

const (
	defaultMetadataURL = "https://maps.googleapis.com/maps/api/streetview/metadata"
	defaultImageURL    = "https://maps.googleapis.com/maps/api/streetview"

	imageSize  = "640x640"
	imageFOV   = 90
	imagePitch = 10

	// Heading used when the panorama location is unknown; southeast tends
	// to face the front of north-american lots.
	fallbackHeading = 135

	staleYears = 3
)

// Fetcher resolves street-level imagery references for a property.
// Standard tiers get one image pointed from the camera at the property;
// premium tiers get the four cardinal directions.
type Fetcher struct {
	APIKey      string
	MetadataURL string
	ImageURL    string
	Client      *http.Client
}

func NewFetcher(apiKey string) *Fetcher {
	return &Fetcher{
		APIKey:      apiKey,
		MetadataURL: defaultMetadataURL,
		ImageURL:    defaultImageURL,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type metadataResponse struct {
	Status   string `json:"status"`
	Date     string `json:"date"` // "YYYY-MM"
	PanoID   string `json:"pano_id"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

// Fetch returns imagery references, or nil when no coverage exists at the
// coordinates.
func (f *Fetcher) Fetch(ctx context.Context, coords model.Coordinates, multiAngle bool) (*model.Imagery, error) {
	meta, err := f.checkMetadata(ctx, coords)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	var headings []float64
	if multiAngle {
		headings = []float64{0, 90, 180, 270} // N, E, S, W
	} else {
		heading := float64(fallbackHeading)
		if meta.Location.Lat != 0 || meta.Location.Lng != 0 {
			heading = geo.Bearing(meta.Location.Lat, meta.Location.Lng, coords.Latitude, coords.Longitude)
		}
		headings = []float64{heading}
	}

	urls := make([]string, 0, len(headings))
	for _, h := range headings {
		urls = append(urls, f.imageURL(coords, h))
	}

	return &model.Imagery{
		URLs:        urls,
		CaptureDate: meta.Date,
		PanoID:      meta.PanoID,
		Stale:       captureStale(meta.Date, time.Now()),
	}, nil
}

func (f *Fetcher) checkMetadata(ctx context.Context, coords model.Coordinates) (*metadataResponse, error) {
	params := url.Values{}
	params.Set("location", locationParam(coords))
	params.Set("key", f.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.MetadataURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient("imagery", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransient("imagery", fmt.Errorf("metadata status %d", resp.StatusCode))
	}

	var meta metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, apperrors.NewTransient("imagery", err)
	}
	if meta.Status != "OK" {
		return nil, nil
	}
	return &meta, nil
}

func (f *Fetcher) imageURL(coords model.Coordinates, heading float64) string {
	params := url.Values{}
	params.Set("location", locationParam(coords))
	params.Set("size", imageSize)
	params.Set("fov", strconv.Itoa(imageFOV))
	params.Set("pitch", strconv.Itoa(imagePitch))
	params.Set("heading", strconv.FormatFloat(heading, 'f', 1, 64))
	params.Set("key", f.APIKey)
	return f.ImageURL + "?" + params.Encode()
}

func locationParam(coords model.Coordinates) string {
	return fmt.Sprintf("%f,%f", coords.Latitude, coords.Longitude)
}

func captureStale(date string, now time.Time) bool {
	if date == "" {
		return false
	}
	yearStr, _, _ := strings.Cut(date, "-")
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return false
	}
	return now.Year()-year > staleYears
}
