// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// ErrCompressionFailed is matched by every compression failure.
var ErrCompressionFailed = errors.New("compression failed")

// MIMEJPEG is the only output format.
const MIMEJPEG = "image/jpeg"

// CompressOptions bounds the output. Quality is in (0,1].
type CompressOptions struct {
	Quality   float64
	MaxWidth  int
	MaxHeight int
}

// DefaultCompressOptions returns quality 0.7 within 1280x1280.
func DefaultCompressOptions() CompressOptions {
	return CompressOptions{Quality: 0.7, MaxWidth: 1280, MaxHeight: 1280}
}

// CompressedArtifact is the upload payload for one image.
type CompressedArtifact struct {
	ID         uuid.UUID
	Source     ImageHandle
	Data       []byte
	MIMEType   string
	Width      int
	Height     int
	Composited bool
}

// CompressionError reports which image could not be compressed.
type CompressionError struct {
	Source ImageHandle
	Err    error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compressing %s: %v", e.Source, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Is makes every CompressionError match ErrCompressionFailed.
func (e *CompressionError) Is(target error) bool {
	return target == ErrCompressionFailed
}

// Compress scales a down to fit the options box and encodes it as JPEG. Degraded
// artifacts are compressed from their source file.
func Compress(ctx context.Context, a *CompositeArtifact, opts CompressOptions) (*CompressedArtifact, error) {
	fail := func(err error) (*CompressedArtifact, error) {
		return nil, &CompressionError{Source: a.Source, Err: err}
	}

	if opts.Quality <= 0 || opts.Quality > 1 || math.IsNaN(opts.Quality) {
		return fail(fmt.Errorf("quality %v outside (0,1]", opts.Quality))
	}

	if opts.MaxWidth <= 0 || opts.MaxHeight <= 0 {
		return fail(fmt.Errorf("invalid bounds %dx%d", opts.MaxWidth, opts.MaxHeight))
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	src := a.Image
	if src == nil {
		img, err := decode(a.Source)
		if err != nil {
			return fail(err)
		}

		src = img
	}

	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), opts.MaxWidth, opts.MaxHeight)
	if w <= 0 || h <= 0 {
		return fail(errors.New("empty image"))
	}

	out := src
	if w != src.Bounds().Dx() || h != src.Bounds().Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out = dst
	}

	quality := min(max(int(math.Round(opts.Quality*100)), 1), 100)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return fail(fmt.Errorf("encoding jpeg: %w", err))
	}

	return &CompressedArtifact{
		ID:         a.ID,
		Source:     a.Source,
		Data:       buf.Bytes(),
		MIMEType:   MIMEJPEG,
		Width:      w,
		Height:     h,
		Composited: a.Composited,
	}, nil
}

// fitWithin returns the largest size with the same aspect that fits the box,
// never larger than the original.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}

	scale := math.Min(1, math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h)))
	if scale == 1 {
		return w, h
	}

	return max(int(math.Round(float64(w)*scale)), 1), max(int(math.Round(float64(h)*scale)), 1)
}
