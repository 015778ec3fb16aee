// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/geoproof/geoproof/imaging"
	"github.com/geoproof/geoproof/spatial"
	"github.com/google/uuid"
)

// SubmissionsPath is the upload endpoint relative to the backend URL.
const SubmissionsPath = "/api/submissions"

// Multipart field names shared with the backend.
const (
	FieldBatchID    = "batch_id"
	FieldSlot       = "slot"
	FieldSiteID     = "site_id"
	FieldUserID     = "user_id"
	FieldTaskID     = "task_id"
	FieldRemarks    = "remarks"
	FieldLatitude   = "latitude"
	FieldLongitude  = "longitude"
	FieldTimestamp  = "timestamp"
	FieldAddress    = "address"
	FieldComposited = "composited"
	FieldImages     = "images"
)

// Metadata is the form data that accompanies a batch.
type Metadata struct {
	SiteID  string
	UserID  string
	TaskID  string
	Remarks string
}

// Request is one upload call carrying every artifact of a batch in order.
type Request struct {
	BatchID   uuid.UUID
	Slot      Slot
	Fix       spatial.LocationFix
	Address   string
	Metadata  Metadata
	Artifacts []*imaging.CompressedArtifact
}

// Receipt is the backend's acknowledgement.
type Receipt struct {
	SubmissionID string   `json:"submission_id"`
	RecordIDs    []string `json:"record_ids"`
}

// Uploader sends a batch. Errors must match ErrUploadAuth or ErrUploadTransport.
type Uploader interface {
	Upload(ctx context.Context, req *Request) (*Receipt, error)
}

// UploadError is a non-2xx answer from the backend.
type UploadError struct {
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload rejected with status %d", e.Status)
	}

	return fmt.Sprintf("upload rejected with status %d: %s", e.Status, e.Body)
}

// Auth reports whether the backend rejected the credentials.
func (e *UploadError) Auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Is matches ErrUploadAuth for 401/403 and ErrUploadTransport otherwise.
func (e *UploadError) Is(target error) bool {
	if e.Auth() {
		return target == ErrUploadAuth
	}

	return target == ErrUploadTransport
}

// HTTPUploader posts batches as multipart forms. Authentication is carried by the
// client, see httputils.NewClient.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPUploader(baseURL string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPUploader{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, req *Request) (*Receipt, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		// nothing was sent; the batch stays reviewable
		return nil, fmt.Errorf("%w: building form: %w", ErrUploadTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+SubmissionsPath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrUploadTransport, err)
	}

	httpReq.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, &UploadError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("%w: decoding receipt: %w", ErrUploadTransport, err)
	}

	return &receipt, nil
}

func encodeMultipart(req *Request) (io.Reader, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{FieldBatchID, req.BatchID.String()},
		{FieldSlot, string(req.Slot)},
		{FieldSiteID, req.Metadata.SiteID},
		{FieldUserID, req.Metadata.UserID},
		{FieldTaskID, req.Metadata.TaskID},
		{FieldRemarks, req.Metadata.Remarks},
		{FieldLatitude, strconv.FormatFloat(req.Fix.Point.Lat, 'f', -1, 64)},
		{FieldLongitude, strconv.FormatFloat(req.Fix.Point.Lng, 'f', -1, 64)},
		{FieldTimestamp, req.Fix.ISOTimestamp()},
		{FieldAddress, req.Address},
	}

	for _, f := range fields {
		if f[1] == "" {
			continue
		}

		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for i, a := range req.Artifacts {
		if err := w.WriteField(FieldComposited, strconv.FormatBool(a.Composited)); err != nil {
			return nil, "", err
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldImages, artifactFileName(i, a)))
		h.Set("Content-Type", a.MIMEType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}

		if _, err := part.Write(a.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

// artifactFileName numbers artifacts so the order survives the round trip.
func artifactFileName(i int, a *imaging.CompressedArtifact) string {
	name := a.Source.Name()
	name = strings.TrimSuffix(name, filepath.Ext(name))

	if name == "" || name == "." || name == "/" {
		name = "image"
	}

	return fmt.Sprintf("%02d-%s.jpg", i+1, name)
}
