// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/telemetry"
)

// Fallback captions.
const (
	InvalidLocationText     = "Invalid location"
	LocationUnavailableText = "Location unavailable"
)

// Resolver defaults.
const (
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout   = 5 * time.Second
	DefaultCacheTTL  = 10 * time.Minute
	DefaultCacheSize = 100
)

// Outcome tells how a Resolution was produced.
type Outcome int

const (
	// OutcomeResolved the provider returned a usable address.
	OutcomeResolved Outcome = iota
	// OutcomeCached the address came from the cache.
	OutcomeCached
	// OutcomeInvalidInput the coordinates were not finite.
	OutcomeInvalidInput
	// OutcomeNetworkFailure offline, provider failure, timeout or no usable result.
	OutcomeNetworkFailure
	// OutcomeUnexpectedFailure anything else, panics included.
	OutcomeUnexpectedFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeCached:
		return "cached"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeNetworkFailure:
		return "network_failure"
	case OutcomeUnexpectedFailure:
		return "unexpected_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Resolution is the caption address and how it was obtained.
type Resolution struct {
	Address string
	Outcome Outcome
}

// IsSuccess reports whether the address was confirmed by the geocoder. Fallback strings
// and coordinate echoes are not successes even though Address is never empty.
func (r Resolution) IsSuccess() bool {
	if r.Outcome != OutcomeResolved && r.Outcome != OutcomeCached {
		return false
	}

	return r.Address != "" && !IsCoordinateEcho(r.Address)
}

var coordinateEcho = regexp.MustCompile(`^\s*[-+]?\d{1,3}(\.\d+)?\s*,\s*[-+]?\d{1,3}(\.\d+)?\s*$`)

// IsCoordinateEcho reports whether addr is just a "lat, lng" pair.
func IsCoordinateEcho(addr string) bool {
	return coordinateEcho.MatchString(addr)
}

// ResolverOptions tunes a Resolver. Zero values fall back to defaults.
type ResolverOptions struct {
	Timeout time.Duration
	// Online reports connectivity; nil means always online
	Online   func(ctx context.Context) bool
	Recorder telemetry.Recorder
}

// Resolver turns points into caption addresses. It never fails: every error path
// ends in a displayable string.
type Resolver struct {
	provider Provider
	cache    *Cache
	timeout  time.Duration
	online   func(ctx context.Context) bool
	recorder telemetry.Recorder
}

// NewResolver creates a resolver around provider and cache. A nil cache gets a
// private one sized with DefaultCacheTTL and DefaultCacheSize.
func NewResolver(provider Provider, cache *Cache, opts ResolverOptions) *Resolver {
	r := &Resolver{
		provider: provider,
		cache:    cache,
		timeout:  opts.Timeout,
		online:   opts.Online,
		recorder: opts.Recorder,
	}

	if r.cache == nil {
		r.cache = NewCache(DefaultCacheTTL, DefaultCacheSize)
	}

	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}

	if r.recorder == nil {
		r.recorder = telemetry.Nop{}
	}

	return r
}

// Resolve returns the caption address for p.
func (r *Resolver) Resolve(ctx context.Context, p spatial.Point) Resolution {
	if !p.Valid() {
		r.fallback(p, OutcomeInvalidInput, errors.New("non-finite coordinates"))

		return Resolution{Address: InvalidLocationText, Outcome: OutcomeInvalidInput}
	}

	if addr, ok := r.cache.Get(p); ok {
		return Resolution{Address: addr, Outcome: OutcomeCached}
	}

	if r.online != nil && !r.online(ctx) {
		r.fallback(p, OutcomeNetworkFailure, &GeocodingError{Type: ErrorTypeOffline, Message: "device offline"})

		return Resolution{Address: p.Coordinates(), Outcome: OutcomeNetworkFailure}
	}

	addr, err := r.lookup(ctx, p)
	if err != nil {
		var geoErr *GeocodingError
		if errors.As(err, &geoErr) {
			r.fallback(p, OutcomeNetworkFailure, err)

			return Resolution{Address: p.Coordinates(), Outcome: OutcomeNetworkFailure}
		}

		r.fallback(p, OutcomeUnexpectedFailure, err)

		return Resolution{Address: LocationUnavailableText, Outcome: OutcomeUnexpectedFailure}
	}

	r.cache.Put(p, addr)
	r.recorder.Record(telemetry.EventGeocodeResolved, telemetry.Properties{"cell": p.CacheKey()})

	return Resolution{Address: addr, Outcome: OutcomeResolved}
}

// lookup calls the provider under the timeout and returns a usable address. Empty
// result sets and coordinate echoes come back as NotFound.
func (r *Resolver) lookup(ctx context.Context, p spatial.Point) (addr string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("geocoder panic: %v", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	places, err := r.provider.ReverseGeocode(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			var geoErr *GeocodingError
			if !errors.As(err, &geoErr) {
				return "", classifyTransportError(err)
			}
		}

		return "", err
	}

	place, ok := SelectPlace(places)
	if !ok {
		return "", &GeocodingError{Type: ErrorTypeNotFound, Message: "no results for " + p.Coordinates()}
	}

	if IsCoordinateEcho(place.Address) {
		return "", &GeocodingError{Type: ErrorTypeNotFound, Message: "geocoder echoed coordinates " + place.Address}
	}

	return place.Address, nil
}

func (r *Resolver) fallback(p spatial.Point, outcome Outcome, err error) {
	props := telemetry.Properties{"outcome": outcome.String()}

	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		props["error_type"] = geoErr.Type.String()
	}

	if reason := failureReason(err); reason != "" {
		props["reason"] = reason
		log.Printf("geocode %s: %s (%s): %v", p.Coordinates(), outcome, reason, err)
	} else {
		log.Printf("geocode %s: %s: %v", p.Coordinates(), outcome, err)
	}

	r.recorder.Record(telemetry.EventGeocodeFallback, props)
}

// failureReason tags throttled, exhausted and slow provider calls for telemetry.
func failureReason(err error) string {
	switch {
	case IsRateLimitError(err):
		return "rate_limited"
	case IsQuotaExceededError(err):
		return "quota_exceeded"
	case IsTimeoutError(err):
		return "timeout"
	default:
		return ""
	}
}
