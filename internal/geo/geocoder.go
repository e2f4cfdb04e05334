// internal/geo/geocoder.go
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

const defaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Geocoder resolves raw addresses to coordinates and standardized
// components. A nil result with nil error means the address could not be
// found, which finalizes the property as failed without retrying.
type Geocoder struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewGeocoder(apiKey string) *Geocoder {
	return &Geocoder{
		APIKey:  apiKey,
		BaseURL: defaultGeocodeURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

func (g *Geocoder) Geocode(ctx context.Context, addr model.RawAddress) (*model.GeocodeResult, error) {
	params := url.Values{}
	params.Set("address", addr.Full())
	params.Set("key", g.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient("geocode", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransient("geocode", fmt.Errorf("status %d", resp.StatusCode))
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.NewTransient("geocode", err)
	}

	switch body.Status {
	case "OK":
		if len(body.Results) == 0 {
			return nil, nil
		}
		return parseGeocodeResult(body), nil
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT":
		return nil, apperrors.NewTransient("geocode", fmt.Errorf("rate limit exceeded"))
	default:
		return nil, nil
	}
}

func parseGeocodeResult(body geocodeResponse) *model.GeocodeResult {
	res := body.Results[0]

	components := map[string]string{}
	for _, comp := range res.AddressComponents {
		if len(comp.Types) > 0 {
			components[comp.Types[0]] = comp.LongName
		}
	}

	street := strings.TrimSpace(components["street_number"] + " " + components["route"])

	city := components["locality"]
	if city == "" {
		city = components["sublocality"]
	}
	if city == "" {
		city = components["administrative_area_level_3"]
	}

	county := strings.TrimSuffix(components["administrative_area_level_2"], " County")

	return &model.GeocodeResult{
		AddressFull:   res.FormattedAddress,
		AddressStreet: street,
		City:          city,
		State:         components["administrative_area_level_1"],
		Zip:           components["postal_code"],
		County:        county,
		Coords: model.Coordinates{
			Latitude:  res.Geometry.Location.Lat,
			Longitude: res.Geometry.Location.Lng,
		},
	}
}
