// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import "slices"

// typePriority orders place types from most to least specific.
var typePriority = []string{
	"street_address",
	"premise",
	"sublocality",
	"locality",
	"route",
	"administrative_area_level_3",
	"administrative_area_level_2",
	"administrative_area_level_1",
}

// SelectPlace picks the most specific candidate. When no candidate carries a known
// type the first one wins. Candidates with an empty address are ignored.
func SelectPlace(places []Place) (Place, bool) {
	var candidates []Place

	for _, p := range places {
		if p.Address != "" {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		return Place{}, false
	}

	for _, want := range typePriority {
		for _, p := range candidates {
			if slices.Contains(p.Types, want) {
				return p, true
			}
		}
	}

	return candidates[0], true
}
