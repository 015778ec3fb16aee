// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"strings"
	"time"

	"github.com/geoproof/geoproof/spatial"
)

// DefaultDateLayout renders caption timestamps.
const DefaultDateLayout = "02 Jan 2006, 03:04 PM MST"

// LocationUnavailableText replaces a blank address in captions.
const LocationUnavailableText = "Location unavailable"

// Caption is the text layer burned into a composite.
type Caption struct {
	Address     string `json:"address"`
	Coordinates string `json:"coordinates"`
	Timestamp   string `json:"timestamp"`
}

// NewCaption formats the caption for a fix. A nil loc means UTC and an empty
// layout means DefaultDateLayout.
func NewCaption(address string, fix spatial.LocationFix, loc *time.Location, layout string) Caption {
	if strings.TrimSpace(address) == "" {
		address = LocationUnavailableText
	}

	if loc == nil {
		loc = time.UTC
	}

	if layout == "" {
		layout = DefaultDateLayout
	}

	return Caption{
		Address:     strings.TrimSpace(address),
		Coordinates: fix.Point.Coordinates(),
		Timestamp:   fix.Timestamp.In(loc).Format(layout),
	}
}

// Lines returns the caption lines in display order.
func (c Caption) Lines() []string {
	return []string{c.Address, c.Coordinates, c.Timestamp}
}

// Text returns the caption as newline separated text.
func (c Caption) Text() string {
	return strings.Join(c.Lines(), "\n")
}
