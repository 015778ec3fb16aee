// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package imaging turns raw images into captioned, compressed evidence artifacts.
package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// ImageHandle references a local image as a path or a file:// URI.
type ImageHandle string

// Path returns the filesystem path behind the handle.
func (h ImageHandle) Path() string {
	return strings.TrimPrefix(string(h), "file://")
}

// Name returns the base file name, used for upload parts.
func (h ImageHandle) Name() string {
	return filepath.Base(h.Path())
}

// Open opens the underlying file.
func (h ImageHandle) Open() (io.ReadCloser, error) {
	f, err := os.Open(h.Path())
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", h, err)
	}

	return f, nil
}

// decode reads the full raster behind h.
func decode(h ImageHandle) (image.Image, error) {
	r, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", h, err)
	}

	return img, nil
}
