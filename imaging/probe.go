// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/geoproof/geoproof/telemetry"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultAspectRatio is used when an image cannot be probed.
const DefaultAspectRatio = 4.0 / 3.0

// DefaultProbeCacheSize bounds the per-probe ratio cache.
const DefaultProbeCacheSize = 64

// AspectProbe reads image dimensions without decoding pixels.
type AspectProbe struct {
	cache    *lru.Cache[ImageHandle, float64]
	recorder telemetry.Recorder
}

// NewAspectProbe creates a probe whose successful results are kept in an LRU of the given size.
func NewAspectProbe(size int, recorder telemetry.Recorder) (*AspectProbe, error) {
	if size <= 0 {
		size = DefaultProbeCacheSize
	}

	cache, err := lru.New[ImageHandle, float64](size)
	if err != nil {
		return nil, fmt.Errorf("creating probe cache: %w", err)
	}

	if recorder == nil {
		recorder = telemetry.Nop{}
	}

	return &AspectProbe{cache: cache, recorder: recorder}, nil
}

// Probe returns width/height for h. It never fails: unreadable images get
// DefaultAspectRatio, and that default is not cached.
func (p *AspectProbe) Probe(ctx context.Context, h ImageHandle) float64 {
	if ratio, ok := p.cache.Get(h); ok {
		return ratio
	}

	ratio, err := probe(ctx, h)
	if err != nil {
		log.Printf("probe %s: %v, using 4:3", h, err)
		p.recorder.Record(telemetry.EventProbeFailure, telemetry.Properties{"handle": h.Name()})

		return DefaultAspectRatio
	}

	p.cache.Add(h, ratio)

	return ratio
}

func probe(ctx context.Context, h ImageHandle) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r, err := h.Open()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, fmt.Errorf("reading image header: %w", err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, errors.New("image has no dimensions")
	}

	return float64(cfg.Width) / float64(cfg.Height), nil
}
