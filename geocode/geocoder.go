// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"

	"github.com/geoproof/geoproof/spatial"
)

// Place is one candidate returned by a reverse geocoder.
type Place struct {
	Address string
	Types   []string
}

// Provider turns a point into candidate places. Implementations return a *GeocodingError
// for classified failures; an empty slice means the provider found nothing.
type Provider interface {
	ReverseGeocode(ctx context.Context, p spatial.Point) ([]Place, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, p spatial.Point) ([]Place, error)

// ReverseGeocode implements Provider.
func (f ProviderFunc) ReverseGeocode(ctx context.Context, p spatial.Point) ([]Place, error) {
	return f(ctx, p)
}
