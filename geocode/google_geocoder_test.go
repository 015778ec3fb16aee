// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geoproof/geoproof/spatial"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleMapsGeocoderReverse(t *testing.T) {
	var gotQuery map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"latlng":   r.URL.Query().Get("latlng"),
			"key":      r.URL.Query().Get("key"),
			"language": r.URL.Query().Get("language"),
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"results": [
				{"formatted_address": "Haryana, India", "types": ["administrative_area_level_1", "political"]},
				{"formatted_address": "12 Main Rd, Sonipat", "types": ["street_address"]}
			]
		}`))
	}))
	defer server.Close()

	g := NewGoogleMapsGeocoder("secret", server.URL, "en", server.Client())

	places, err := g.ReverseGeocode(context.Background(), spatial.Point{Lat: 28.98761, Lng: 77.01939})
	require.NoError(t, err)

	want := []Place{
		{Address: "Haryana, India", Types: []string{"administrative_area_level_1", "political"}},
		{Address: "12 Main Rd, Sonipat", Types: []string{"street_address"}},
	}
	if diff := cmp.Diff(want, places); diff != "" {
		t.Errorf("ReverseGeocode() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, map[string]string{"latlng": "28.98761,77.01939", "key": "secret", "language": "en"}, gotQuery)
}

func TestGoogleMapsGeocoderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
		wantNil  bool
	}{
		{name: "zero results", status: 200, body: `{"status":"ZERO_RESULTS","results":[]}`, wantNil: true},
		{name: "over query limit", status: 200, body: `{"status":"OVER_QUERY_LIMIT"}`, wantType: ErrorTypeRateLimit},
		{name: "denied", status: 200, body: `{"status":"REQUEST_DENIED","error_message":"bad key"}`, wantType: ErrorTypeQuotaExceeded},
		{name: "invalid", status: 200, body: `{"status":"INVALID_REQUEST"}`, wantType: ErrorTypeInvalidRequest},
		{name: "http 429", status: 429, body: ``, wantType: ErrorTypeRateLimit},
		{name: "http 503", status: 503, body: ``, wantType: ErrorTypeNetworkError},
		{name: "html body", status: 200, body: `<html>captive portal</html>`, wantType: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewGoogleMapsGeocoder("k", server.URL, "", server.Client())

			places, err := g.ReverseGeocode(context.Background(), spatial.Point{Lat: 1, Lng: 2})
			if tt.wantNil {
				require.NoError(t, err)
				assert.Empty(t, places)

				return
			}

			var geoErr *GeocodingError
			require.True(t, errors.As(err, &geoErr), "got %v", err)
			assert.Equal(t, tt.wantType, geoErr.Type)
		})
	}
}

func TestGoogleMapsGeocoderNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	g := NewGoogleMapsGeocoder("k", url, "", nil)

	_, err := g.ReverseGeocode(context.Background(), spatial.Point{Lat: 1, Lng: 2})

	var geoErr *GeocodingError
	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, ErrorTypeNetworkError, geoErr.Type)
}

func TestClassifyHTTPError(t *testing.T) {
	assert.True(t, IsRateLimitError(ClassifyHTTPError(http.StatusTooManyRequests, "")))
	assert.True(t, IsQuotaExceededError(ClassifyHTTPError(http.StatusForbidden, "")))
	assert.Equal(t, ErrorTypeNotFound, ClassifyHTTPError(http.StatusNotFound, "").Type)
	assert.Equal(t, ErrorTypeUnknown, ClassifyHTTPError(http.StatusTeapot, "").Type)
	assert.True(t, IsTimeoutError(context.DeadlineExceeded))
	assert.True(t, IsTimeoutError(classifyTransportError(context.DeadlineExceeded)))
}
