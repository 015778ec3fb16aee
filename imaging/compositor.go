// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/utils/textutils"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// ErrCaptureUnavailable is returned when a composite cannot be rendered.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Compositor defaults.
const (
	DefaultCanvasWidth = 1080
	DefaultFontSize    = 28
)

// MinAspectRatio is the narrowest width/height ratio Compose accepts. It keeps the
// canvas at most eight times as tall as it is wide.
const MinAspectRatio = 1.0 / 8

// CompositeArtifact is an image with its caption burned in. When Composited is false
// the artifact is the original image standing in for a failed composite and Image is nil.
type CompositeArtifact struct {
	ID         uuid.UUID
	Source     ImageHandle
	Caption    Caption
	Image      image.Image
	Composited bool
}

// Uncomposited builds the degraded substitute for a composite that could not be rendered.
func Uncomposited(h ImageHandle, caption Caption) *CompositeArtifact {
	return &CompositeArtifact{
		ID:      uuid.New(),
		Source:  h,
		Caption: caption,
	}
}

// CompositorOptions configures rendering.
type CompositorOptions struct {
	CanvasWidth int
	FontSize    float64
	Location    *time.Location
	DateLayout  string
}

// Compositor renders the image area on top of an opaque caption band.
type Compositor struct {
	opts CompositorOptions
	font *opentype.Font
}

// NewCompositor parses the embedded Go Regular face.
func NewCompositor(opts CompositorOptions) (*Compositor, error) {
	if opts.CanvasWidth <= 0 {
		opts.CanvasWidth = DefaultCanvasWidth
	}

	if opts.FontSize <= 0 {
		opts.FontSize = DefaultFontSize
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}

	if opts.DateLayout == "" {
		opts.DateLayout = DefaultDateLayout
	}

	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return &Compositor{opts: opts, font: f}, nil
}

// Caption builds the caption Compose would render for these inputs.
func (c *Compositor) Caption(fix spatial.LocationFix, address string) Caption {
	return NewCaption(address, fix, c.opts.Location, c.opts.DateLayout)
}

// Compose renders h at the given aspect ratio with the caption for fix and address.
// Every failure matches ErrCaptureUnavailable.
func (c *Compositor) Compose(ctx context.Context, h ImageHandle, ratio float64, fix spatial.LocationFix,
	address string,
) (*CompositeArtifact, error) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("%w: invalid aspect ratio %v", ErrCaptureUnavailable, ratio)
	}

	if ratio < MinAspectRatio {
		return nil, fmt.Errorf("%w: aspect ratio %v below %v", ErrCaptureUnavailable, ratio, MinAspectRatio)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	src, err := decode(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	// faces keep scratch buffers and are not safe to share between goroutines
	face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    c.opts.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create font face: %w", ErrCaptureUnavailable, err)
	}
	defer face.Close()

	caption := c.Caption(fix, address)
	width := c.opts.CanvasWidth
	imageHeight := max(int(math.Round(float64(width)/ratio)), 1)

	padding := int(math.Round(c.opts.FontSize / 2))
	lineHeight := face.Metrics().Height.Ceil()

	var lines []string
	for _, l := range caption.Lines() {
		lines = append(lines, wrap(face, renderable(face, l), width-2*padding)...)
	}

	bandHeight := 2*padding + len(lines)*lineHeight
	canvas := image.NewRGBA(image.Rect(0, 0, width, imageHeight+bandHeight))

	draw.CatmullRom.Scale(canvas, image.Rect(0, 0, width, imageHeight), src, src.Bounds(), draw.Src, nil)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	band := image.Rect(0, imageHeight, width, imageHeight+bandHeight)
	draw.Draw(canvas, band, image.NewUniform(color.Black), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.White),
		Face: face,
	}

	ascent := face.Metrics().Ascent.Ceil()
	for i, l := range lines {
		drawer.Dot = fixed.P(padding, imageHeight+padding+i*lineHeight+ascent)
		drawer.DrawString(l)
	}

	return &CompositeArtifact{
		ID:         uuid.New(),
		Source:     h,
		Caption:    caption,
		Image:      canvas,
		Composited: true,
	}, nil
}

// renderable replaces runes the face cannot draw: first by their accent-folded form,
// then by '?'.
func renderable(face font.Face, s string) string {
	var b strings.Builder

	for _, r := range s {
		if hasGlyph(face, r) {
			b.WriteRune(r)

			continue
		}

		folded := textutils.ASCIIFolding(string(r))
		if folded != "" && folded != string(r) && allGlyphs(face, folded) {
			b.WriteString(folded)

			continue
		}

		b.WriteRune('?')
	}

	return b.String()
}

func hasGlyph(face font.Face, r rune) bool {
	if r == ' ' {
		return true
	}

	_, ok := face.GlyphAdvance(r)

	return ok
}

func allGlyphs(face font.Face, s string) bool {
	for _, r := range s {
		if !hasGlyph(face, r) {
			return false
		}
	}

	return true
}

// wrap splits s into lines no wider than maxWidth pixels, breaking on spaces and,
// for words longer than a line, between runes.
func wrap(face font.Face, s string, maxWidth int) []string {
	limit := fixed.I(maxWidth)
	words := strings.Fields(s)

	if len(words) == 0 {
		return []string{""}
	}

	var (
		lines   []string
		current string
	)

	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}

		if font.MeasureString(face, candidate) <= limit {
			current = candidate

			continue
		}

		if current != "" {
			lines = append(lines, current)
			current = ""
		}

		for font.MeasureString(face, w) > limit {
			head := splitAt(face, w, limit)
			lines = append(lines, head)
			w = w[len(head):]
		}

		current = w
	}

	if current != "" {
		lines = append(lines, current)
	}

	return lines
}

// splitAt returns the longest prefix of w that fits in limit, at least one rune.
func splitAt(face font.Face, w string, limit fixed.Int26_6) string {
	end := 0

	for i, r := range w {
		next := i + len(string(r))
		if end > 0 && font.MeasureString(face, w[:next]) > limit {
			break
		}

		end = next
	}

	return w[:end]
}
