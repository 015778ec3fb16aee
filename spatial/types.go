// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"database/sql/driver"
	"fmt"
	"math"
	"time"

	"github.com/uber/h3-go/v4"
)

// CacheKeyPrecision is the number of decimals kept when grouping nearby fixes (≈11 m cells).
const CacheKeyPrecision = 4

// CaptionPrecision is the number of decimals used when coordinates are shown to people.
const CaptionPrecision = 6

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String returns a WKT representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lng, p.Lat)
}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// Quantize rounds both coordinates to the given number of decimals.
func (p Point) Quantize(decimals int) Point {
	return Point{Lat: round(p.Lat, decimals), Lng: round(p.Lng, decimals)}
}

func round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)

	r := math.Round(v*scale) / scale
	if r == 0 {
		// avoid "-0.0000" keys
		return 0
	}

	return r
}

// CacheKey returns the quantized key shared by every point of the same ≈11 m cell.
func (p Point) CacheKey() string {
	q := p.Quantize(CacheKeyPrecision)

	return fmt.Sprintf("%.*f,%.*f", CacheKeyPrecision, q.Lat, CacheKeyPrecision, q.Lng)
}

// Coordinates formats the point as "lat, lng" with caption precision.
func (p Point) Coordinates() string {
	return fmt.Sprintf("%.*f, %.*f", CaptionPrecision, p.Lat, CaptionPrecision, p.Lng)
}

// Value implements the driver.Valuer interface. Points are stored as WKT text with
// six decimals.
func (p Point) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (p *Point) Scan(value interface{}) error {
	if value == nil {
		p.Lat, p.Lng = 0, 0

		return nil
	}

	switch v := value.(type) {
	case []byte:
		_, err := fmt.Sscanf(string(v), "POINT (%f %f)", &p.Lng, &p.Lat)

		return err
	case string:
		_, err := fmt.Sscanf(v, "POINT(%f %f)", &p.Lng, &p.Lat)

		return err
	case map[string]interface{}:
		x, okX := v["x"].(float64)
		y, okY := v["y"].(float64)

		if !okX || !okY {
			return fmt.Errorf("spatial: invalid map for point: expected 'x' and 'y' float64 fields, got %+v", v)
		}

		p.Lng = x
		p.Lat = y

		return nil
	default:
		return fmt.Errorf("spatial: unsupported type for Point scan: %T", value)
	}
}

// H3Cell returns the H3 cell containing the point at the given resolution.
func (p Point) H3Cell(res int) (h3.Cell, error) {
	if !p.Valid() {
		return 0, fmt.Errorf("spatial: invalid point %v", p)
	}

	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), res)
	if err != nil {
		return 0, fmt.Errorf("error converting to h3 cell at res %d: %w", res, err)
	}

	return cell, nil
}

// LocationFix is a single device location reading, shared by every image of a batch.
type LocationFix struct {
	Point     Point     `json:"point"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseLocationFix builds a fix from raw coordinates and an ISO-8601 timestamp.
// An empty timestamp means "now".
func ParseLocationFix(lat, lng float64, timestamp string) (LocationFix, error) {
	fix := LocationFix{Point: Point{Lat: lat, Lng: lng}}

	if timestamp == "" {
		fix.Timestamp = time.Now().UTC()

		return fix, nil
	}

	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return LocationFix{}, fmt.Errorf("parsing fix timestamp %q: %w", timestamp, err)
	}

	fix.Timestamp = t

	return fix, nil
}

// ISOTimestamp renders the fix timestamp in RFC 3339 form.
func (f LocationFix) ISOTimestamp() string {
	return f.Timestamp.Format(time.RFC3339)
}
