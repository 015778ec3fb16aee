// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/geoproof/geoproof/spatial"
)

// DefaultGoogleMapsURL is the Geocoding API endpoint.
const DefaultGoogleMapsURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleMapsGeocoder uses the Google Maps Geocoding API in reverse mode.
type GoogleMapsGeocoder struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
}

// NewGoogleMapsGeocoder creates a new Google Maps geocoder. A nil client uses
// http.DefaultClient; the per-call deadline comes from the context.
func NewGoogleMapsGeocoder(apiKey, baseURL, language string, client *http.Client) *GoogleMapsGeocoder {
	if baseURL == "" {
		baseURL = DefaultGoogleMapsURL
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &GoogleMapsGeocoder{
		apiKey:     apiKey,
		baseURL:    baseURL,
		language:   language,
		httpClient: client,
	}
}

type googleMapsResponse struct {
	Results []struct {
		FormattedAddress string   `json:"formatted_address"`
		Types            []string `json:"types"`
	} `json:"results"`
	Status       string `json:"status"` // OK, ZERO_RESULTS, etc.
	ErrorMessage string `json:"error_message"`
}

// ReverseGeocode implements Provider.
func (g *GoogleMapsGeocoder) ReverseGeocode(ctx context.Context, p spatial.Point) ([]Place, error) {
	params := url.Values{}
	params.Set("latlng", strconv.FormatFloat(p.Lat, 'f', -1, 64)+","+strconv.FormatFloat(p.Lng, 'f', -1, 64))
	params.Set("key", g.apiKey)

	if g.language != "" {
		params.Set("language", g.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating geocoding request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyHTTPError(resp.StatusCode, "")
	}

	var gmResp googleMapsResponse
	if err := json.NewDecoder(resp.Body).Decode(&gmResp); err != nil {
		// a truncated body after a deadline is still a transport problem
		if ctx.Err() != nil {
			return nil, classifyTransportError(ctx.Err())
		}

		return nil, &GeocodingError{Type: ErrorTypeUnknown, Message: "decoding response", Err: err}
	}

	if geoErr := ClassifyAPIStatus(gmResp.Status, gmResp.ErrorMessage); geoErr != nil {
		return nil, geoErr
	}

	places := make([]Place, 0, len(gmResp.Results))
	for _, r := range gmResp.Results {
		places = append(places, Place{Address: r.FormattedAddress, Types: r.Types})
	}

	return places, nil
}
