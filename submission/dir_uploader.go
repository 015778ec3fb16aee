// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DirUploader writes batches to a local directory instead of a backend.
type DirUploader struct {
	Dir string
}

// Manifest describes a batch written by DirUploader.
type Manifest struct {
	BatchID   string           `json:"batch_id"`
	Slot      Slot             `json:"slot"`
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Timestamp string           `json:"timestamp"`
	Address   string           `json:"address"`
	SiteID    string           `json:"site_id,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	Remarks   string           `json:"remarks,omitempty"`
	Images    []ManifestRecord `json:"images"`
}

// ManifestRecord is one image in a Manifest.
type ManifestRecord struct {
	RecordID   string `json:"record_id"`
	File       string `json:"file"`
	Source     string `json:"source"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Composited bool   `json:"composited"`
}

// Upload implements Uploader. Files land in Dir/<batch id>/.
func (u DirUploader) Upload(ctx context.Context, req *Request) (*Receipt, error) {
	dir := filepath.Join(u.Dir, req.BatchID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadTransport, err)
	}

	m := Manifest{
		BatchID:   req.BatchID.String(),
		Slot:      req.Slot,
		Latitude:  req.Fix.Point.Lat,
		Longitude: req.Fix.Point.Lng,
		Timestamp: req.Fix.ISOTimestamp(),
		Address:   req.Address,
		SiteID:    req.Metadata.SiteID,
		UserID:    req.Metadata.UserID,
		TaskID:    req.Metadata.TaskID,
		Remarks:   req.Metadata.Remarks,
	}

	receipt := &Receipt{SubmissionID: m.BatchID}

	for i, a := range req.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUploadTransport, err)
		}

		name := artifactFileName(i, a)
		if err := os.WriteFile(filepath.Join(dir, name), a.Data, 0o644); err != nil { // #nosec G306 - evidence is meant to be shared
			return nil, fmt.Errorf("%w: %w", ErrUploadTransport, err)
		}

		id := uuid.NewString()
		m.Images = append(m.Images, ManifestRecord{
			RecordID:   id,
			File:       name,
			Source:     string(a.Source),
			Width:      a.Width,
			Height:     a.Height,
			Composited: a.Composited,
		})
		receipt.RecordIDs = append(receipt.RecordIDs, id)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadTransport, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil { // #nosec G306
		return nil, fmt.Errorf("%w: %w", ErrUploadTransport, err)
	}

	return receipt, nil
}
