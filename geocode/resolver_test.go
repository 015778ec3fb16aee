// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider is a hand-written mock that counts calls.
type countingProvider struct {
	calls  atomic.Int32
	places []Place
	err    error
	panic  any
	delay  time.Duration
}

func (m *countingProvider) ReverseGeocode(ctx context.Context, _ spatial.Point) ([]Place, error) {
	m.calls.Add(1)

	if m.panic != nil {
		panic(m.panic)
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return m.places, m.err
}

func newTestResolver(p Provider, rec telemetry.Recorder) (*Resolver, *Cache) {
	cache := NewCache(10*time.Minute, 100)

	return NewResolver(p, cache, ResolverOptions{Timeout: time.Second, Recorder: rec}), cache
}

func TestResolveCacheHitWithinCell(t *testing.T) {
	provider := &countingProvider{places: []Place{
		{Address: "Sector 12, Sonipat, Haryana", Types: []string{"sublocality"}},
	}}
	r, _ := newTestResolver(provider, nil)
	ctx := context.Background()

	first := r.Resolve(ctx, spatial.Point{Lat: 28.98761, Lng: 77.01939})
	require.Equal(t, OutcomeResolved, first.Outcome)
	assert.True(t, first.IsSuccess())

	// same 4-decimal cell
	second := r.Resolve(ctx, spatial.Point{Lat: 28.98764, Lng: 77.01942})
	assert.Equal(t, OutcomeCached, second.Outcome)
	assert.Equal(t, first.Address, second.Address)
	assert.True(t, second.IsSuccess())
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestResolveNoResults(t *testing.T) {
	provider := &countingProvider{places: nil}
	rec := &telemetry.Memory{}
	r, cache := newTestResolver(provider, rec)
	ctx := context.Background()
	p := spatial.Point{Lat: 28.8945, Lng: 76.6066}

	got := r.Resolve(ctx, p)
	assert.Equal(t, "28.894500, 76.606600", got.Address)
	assert.Equal(t, OutcomeNetworkFailure, got.Outcome)
	assert.False(t, got.IsSuccess())
	assert.Equal(t, 0, cache.Len())

	// nothing was cached, so the provider is asked again
	again := r.Resolve(ctx, p)
	assert.Equal(t, got, again)
	assert.Equal(t, int32(2), provider.calls.Load())
	assert.Equal(t, 2, rec.Count(telemetry.EventGeocodeFallback))
}

func TestResolveCoordinateEchoNotCached(t *testing.T) {
	provider := &countingProvider{places: []Place{{Address: "28.8945, 76.6066", Types: []string{"plus_code"}}}}
	r, cache := newTestResolver(provider, nil)

	got := r.Resolve(context.Background(), spatial.Point{Lat: 28.8945, Lng: 76.6066})
	assert.Equal(t, OutcomeNetworkFailure, got.Outcome)
	assert.Equal(t, "28.894500, 76.606600", got.Address)
	assert.False(t, got.IsSuccess())
	assert.Equal(t, 0, cache.Len())
}

func TestResolveInvalidInput(t *testing.T) {
	provider := &countingProvider{}
	r, cache := newTestResolver(provider, nil)

	for _, p := range []spatial.Point{
		{Lat: math.NaN(), Lng: 1},
		{Lat: 1, Lng: math.Inf(1)},
	} {
		got := r.Resolve(context.Background(), p)
		assert.Equal(t, Resolution{Address: InvalidLocationText, Outcome: OutcomeInvalidInput}, got)
	}

	assert.Equal(t, int32(0), provider.calls.Load())
	assert.Equal(t, 0, cache.Len())
}

func TestResolveFailureLadder(t *testing.T) {
	p := spatial.Point{Lat: -34.9011, Lng: -56.1645}

	tests := []struct {
		name     string
		provider *countingProvider
		want     Resolution
	}{
		{
			name:     "rate limited",
			provider: &countingProvider{err: &GeocodingError{Type: ErrorTypeRateLimit, Message: "slow down"}},
			want:     Resolution{Address: "-34.901100, -56.164500", Outcome: OutcomeNetworkFailure},
		},
		{
			name:     "http failure",
			provider: &countingProvider{err: ClassifyHTTPError(503, "")},
			want:     Resolution{Address: "-34.901100, -56.164500", Outcome: OutcomeNetworkFailure},
		},
		{
			name:     "timeout",
			provider: &countingProvider{delay: 5 * time.Second},
			want:     Resolution{Address: "-34.901100, -56.164500", Outcome: OutcomeNetworkFailure},
		},
		{
			name:     "unclassified error",
			provider: &countingProvider{err: errors.New("decoding response: unexpected EOF")},
			want:     Resolution{Address: LocationUnavailableText, Outcome: OutcomeUnexpectedFailure},
		},
		{
			name:     "panic",
			provider: &countingProvider{panic: "boom"},
			want:     Resolution{Address: LocationUnavailableText, Outcome: OutcomeUnexpectedFailure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewCache(10*time.Minute, 100)
			r := NewResolver(tt.provider, cache, ResolverOptions{Timeout: 50 * time.Millisecond})

			got := r.Resolve(context.Background(), p)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.IsSuccess())
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestResolveOffline(t *testing.T) {
	provider := &countingProvider{places: []Place{{Address: "somewhere"}}}
	rec := &telemetry.Memory{}
	r := NewResolver(provider, NewCache(time.Minute, 10), ResolverOptions{
		Online:   func(context.Context) bool { return false },
		Recorder: rec,
	})

	got := r.Resolve(context.Background(), spatial.Point{Lat: 1.5, Lng: 2.25})
	assert.Equal(t, Resolution{Address: "1.500000, 2.250000", Outcome: OutcomeNetworkFailure}, got)
	assert.Equal(t, int32(0), provider.calls.Load())

	events := rec.Find(telemetry.EventGeocodeFallback)
	require.Len(t, events, 1)
	assert.Equal(t, "offline", events[0].Props["error_type"])
}

func TestResolveFallbackReason(t *testing.T) {
	tests := []struct {
		name       string
		provider   *countingProvider
		wantReason any
	}{
		{
			name:       "rate limited",
			provider:   &countingProvider{err: ClassifyHTTPError(http.StatusTooManyRequests, "")},
			wantReason: "rate_limited",
		},
		{
			name:       "quota exceeded",
			provider:   &countingProvider{err: &GeocodingError{Type: ErrorTypeQuotaExceeded, Message: "bad key"}},
			wantReason: "quota_exceeded",
		},
		{
			name:       "timeout",
			provider:   &countingProvider{delay: 5 * time.Second},
			wantReason: "timeout",
		},
		{
			name:       "unclassified rate limit text",
			provider:   &countingProvider{err: errors.New("upstream said: too many requests")},
			wantReason: "rate_limited",
		},
		{
			name:       "not found",
			provider:   &countingProvider{places: nil},
			wantReason: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &telemetry.Memory{}
			r := NewResolver(tt.provider, NewCache(time.Minute, 10), ResolverOptions{
				Timeout:  50 * time.Millisecond,
				Recorder: rec,
			})

			r.Resolve(context.Background(), spatial.Point{Lat: 28.8945, Lng: 76.6066})

			events := rec.Find(telemetry.EventGeocodeFallback)
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantReason, events[0].Props["reason"])
		})
	}
}

func TestResolveUndecodableResponse(t *testing.T) {
	// a captive portal answering in place of the provider
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	defer server.Close()

	rec := &telemetry.Memory{}
	cache := NewCache(time.Minute, 10)
	r := NewResolver(NewGoogleMapsGeocoder("k", server.URL, "", server.Client()), cache, ResolverOptions{Recorder: rec})

	got := r.Resolve(context.Background(), spatial.Point{Lat: 28.8945, Lng: 76.6066})
	assert.Equal(t, Resolution{Address: "28.894500, 76.606600", Outcome: OutcomeNetworkFailure}, got)
	assert.Equal(t, 0, cache.Len())

	events := rec.Find(telemetry.EventGeocodeFallback)
	require.Len(t, events, 1)
	assert.Equal(t, ErrorTypeUnknown.String(), events[0].Props["error_type"])
}

func TestResolveWithoutCache(t *testing.T) {
	provider := &countingProvider{places: []Place{{Address: "Sector 12, Sonipat", Types: []string{"sublocality"}}}}
	r := NewResolver(provider, nil, ResolverOptions{})
	p := spatial.Point{Lat: 28.8945, Lng: 76.6066}

	assert.Equal(t, Resolution{Address: "Sector 12, Sonipat", Outcome: OutcomeResolved}, r.Resolve(context.Background(), p))
	assert.Equal(t, Resolution{Address: "Sector 12, Sonipat", Outcome: OutcomeCached}, r.Resolve(context.Background(), p))
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestIsCoordinateEcho(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"28.894500, 76.606600", true},
		{"-34.9011,-56.1645", true},
		{" 12, 34 ", true},
		{"Av. 18 de Julio 1234, Montevideo", false},
		{"Sector 12, Sonipat", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCoordinateEcho(tt.addr), tt.addr)
	}
}

func TestResolutionIsSuccess(t *testing.T) {
	assert.True(t, Resolution{Address: "Main St", Outcome: OutcomeCached}.IsSuccess())
	assert.False(t, Resolution{Address: "1.0, 2.0", Outcome: OutcomeResolved}.IsSuccess())
	assert.False(t, Resolution{Address: LocationUnavailableText, Outcome: OutcomeUnexpectedFailure}.IsSuccess())
}
