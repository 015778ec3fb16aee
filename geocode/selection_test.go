// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPlace(t *testing.T) {
	tests := []struct {
		name   string
		places []Place
		want   string
		wantOK bool
	}{
		{
			name:   "empty",
			places: nil,
		},
		{
			name: "street address beats everything",
			places: []Place{
				{Address: "Haryana", Types: []string{"administrative_area_level_1"}},
				{Address: "Sonipat", Types: []string{"locality"}},
				{Address: "12 Main Rd", Types: []string{"street_address"}},
			},
			want:   "12 Main Rd",
			wantOK: true,
		},
		{
			name: "sublocality before locality",
			places: []Place{
				{Address: "Sonipat", Types: []string{"locality", "political"}},
				{Address: "Sector 12", Types: []string{"sublocality_level_1", "sublocality"}},
			},
			want:   "Sector 12",
			wantOK: true,
		},
		{
			name: "first of the highest tag",
			places: []Place{
				{Address: "Route A", Types: []string{"route"}},
				{Address: "Route B", Types: []string{"route"}},
			},
			want:   "Route A",
			wantOK: true,
		},
		{
			name: "unknown types fall back to first",
			places: []Place{
				{Address: "", Types: []string{"premise"}},
				{Address: "Plus code", Types: []string{"plus_code"}},
				{Address: "Country", Types: []string{"country"}},
			},
			want:   "Plus code",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectPlace(tt.places)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got.Address)
		})
	}
}
