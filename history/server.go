// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // uploaded evidence is JPEG
	_ "image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/geoproof/geoproof/daterange"
	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/submission"
	"github.com/geoproof/geoproof/utils/textutils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultMaxBytes bounds one upload request.
const DefaultMaxBytes = 50 << 20

// Range names accepted by GET /api/history.
const (
	RangeToday     = "today"
	RangeThisMonth = "this_month"
	RangeLastMonth = "last_month"
	RangeMonth     = "month"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Tokens are the accepted bearer tokens; empty disables authentication
	Tokens   []string
	MaxBytes int64
	// Location is the time zone days are cut in
	Location *time.Location
	// Now defaults to time.Now
	Now func() time.Time
}

// Server is the reference upload and history backend.
type Server struct {
	repo     Repository
	tokens   [][]byte
	maxBytes int64
	loc      *time.Location
	now      func() time.Time
}

func NewServer(repo Repository, opts ServerOptions) *Server {
	s := &Server{
		repo:     repo,
		maxBytes: opts.MaxBytes,
		loc:      opts.Location,
		now:      opts.Now,
	}

	for _, t := range opts.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			s.tokens = append(s.tokens, []byte(t))
		}
	}

	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxBytes
	}

	if s.loc == nil {
		s.loc = time.UTC
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api", s.authenticate)
	api.POST("/submissions", s.createSubmission)
	api.GET("/history", s.listHistory)
	api.GET("/images/:id", s.getImage)

	return r
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	if len(s.tokens) == 0 {
		log.Print("No tokens configured, the API accepts unauthenticated requests")
	}

	log.Printf("Listening on %s", addr)

	return s.Router().Run(addr)
}

func (s *Server) authenticate(ctx *gin.Context) {
	if len(s.tokens) == 0 {
		ctx.Next()

		return
	}

	token, ok := strings.CutPrefix(ctx.GetHeader("Authorization"), "Bearer ")
	if ok {
		for _, t := range s.tokens {
			if subtle.ConstantTimeCompare([]byte(token), t) == 1 {
				ctx.Next()

				return
			}
		}
	}

	ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
}

type receiptResponse struct {
	SubmissionID string   `json:"submission_id"`
	RecordIDs    []string `json:"record_ids"`
}

func receiptFor(sub *Submission) receiptResponse {
	ids := make([]string, len(sub.Images))
	for i, img := range sub.Images {
		ids[i] = img.ID
	}

	return receiptResponse{SubmissionID: sub.ID, RecordIDs: ids}
}

func (s *Server) createSubmission(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, s.maxBytes)

	form, err := ctx.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})

			return
		}

		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form: " + err.Error()})

		return
	}

	sub, err := submissionFromForm(form)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	// a retried upload whose first attempt was stored gets the original receipt
	if existing, err := s.repo.GetSubmissionByBatch(sub.BatchID); err == nil {
		ctx.JSON(http.StatusOK, receiptFor(existing))

		return
	}

	images, err := imagesFromForm(form)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	sub.CreatedAt = s.now().UTC()

	if err := s.repo.SaveSubmission(sub, images); err != nil {
		if errors.Is(err, ErrDuplicateBatch) {
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})

			return
		}

		log.Printf("Saving submission %s failed: %v", sub.BatchID, err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store submission"})

		return
	}

	var size int64
	for _, img := range images {
		size += int64(len(img.Data))
	}

	log.Printf("Stored %s submission %s from %s: %d image(s), %s bytes",
		sub.Slot, sub.ID, sub.UserID, len(images), textutils.FormatInt(size))
	ctx.JSON(http.StatusCreated, receiptFor(sub))
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}

	return ""
}

func submissionFromForm(form *multipart.Form) (*Submission, error) {
	batchID, err := uuid.Parse(formValue(form, submission.FieldBatchID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", submission.FieldBatchID, err)
	}

	slot, err := submission.ParseSlot(formValue(form, submission.FieldSlot))
	if err != nil {
		return nil, err
	}

	userID := formValue(form, submission.FieldUserID)
	if userID == "" {
		return nil, fmt.Errorf("%s is required", submission.FieldUserID)
	}

	lat, err := strconv.ParseFloat(formValue(form, submission.FieldLatitude), 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", submission.FieldLatitude, err)
	}

	lng, err := strconv.ParseFloat(formValue(form, submission.FieldLongitude), 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", submission.FieldLongitude, err)
	}

	fix, err := spatial.ParseLocationFix(lat, lng, formValue(form, submission.FieldTimestamp))
	if err != nil {
		return nil, err
	}

	if err := validateCoordinates(fix.Point); err != nil {
		return nil, err
	}

	return &Submission{
		ID:         uuid.NewString(),
		BatchID:    batchID.String(),
		Slot:       string(slot),
		SiteID:     formValue(form, submission.FieldSiteID),
		UserID:     userID,
		TaskID:     formValue(form, submission.FieldTaskID),
		Remarks:    formValue(form, submission.FieldRemarks),
		Point:      fix.Point,
		Address:    formValue(form, submission.FieldAddress),
		CapturedAt: fix.Timestamp.UTC(),
	}, nil
}

func validateCoordinates(p spatial.Point) error {
	if !p.Valid() {
		return errors.New("coordinates must be finite")
	}

	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90 (got %f)", p.Lat)
	}

	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180 (got %f)", p.Lng)
	}

	return nil
}

func imagesFromForm(form *multipart.Form) ([]*Image, error) {
	files := form.File[submission.FieldImages]
	if len(files) == 0 {
		return nil, errors.New("at least one image is required")
	}

	flags := form.Value[submission.FieldComposited]
	images := make([]*Image, 0, len(files))

	for i, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}

		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("image %d (%s) is not a valid image: %w", i+1, fh.Filename, err)
		}

		composited := true
		if i < len(flags) {
			composited, _ = strconv.ParseBool(flags[i])
		}

		mime := fh.Header.Get("Content-Type")
		if mime == "" {
			mime = http.DetectContentType(data)
		}

		images = append(images, &Image{
			ImageRef: ImageRef{ID: uuid.NewString(), MIMEType: mime, Composited: composited},
			Data:     data,
		})
	}

	return images, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

type historyResponse struct {
	Range   rangeResponse `json:"range"`
	Items   []Item        `json:"items"`
	HasMore bool          `json:"has_more"`
}

type rangeResponse struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
	Page  int    `json:"page"`
}

func (s *Server) listHistory(ctx *gin.Context) {
	userID := strings.TrimSpace(ctx.Query("user_id"))
	if userID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})

		return
	}

	name := ctx.DefaultQuery("range", RangeThisMonth)
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("page_size", strconv.Itoa(daterange.DefaultPageSize)))

	cursor := daterange.NewCursor(s.now().In(s.loc))

	w, err := RangeWindow(cursor, name, ctx.Query("year"), ctx.Query("month"), page, pageSize)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	resp := historyResponse{
		Range: rangeResponse{
			Name:  name,
			Start: w.StartDate.Format(daterange.ISODate),
			End:   w.EndDate.Format(daterange.ISODate),
			Page:  max(page, 1),
		},
		Items:   []Item{},
		HasMore: w.HasMore,
	}

	if !w.Empty {
		items, err := s.repo.ListItems(userID, w.StartDate, w.Until())
		if err != nil {
			log.Printf("Listing history for %s failed: %v", userID, err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list history"})

			return
		}

		if items != nil {
			resp.Items = items
		}
	}

	ctx.JSON(http.StatusOK, resp)
}

// RangeWindow resolves a named range into the day window to query. year and month
// are only read for RangeMonth.
func RangeWindow(cursor daterange.Cursor, name, year, month string, page, pageSize int) (daterange.Window, error) {
	var m daterange.Month

	switch name {
	case RangeToday:
		return cursor.Today(), nil
	case RangeThisMonth:
		m = cursor.ThisMonth()
	case RangeLastMonth:
		m = cursor.LastMonth()
	case RangeMonth:
		y, err := strconv.Atoi(year)
		if err != nil {
			return daterange.Window{}, fmt.Errorf("year: %w", err)
		}

		mo, err := strconv.Atoi(month)
		if err != nil || mo < 1 || mo > 12 {
			return daterange.Window{}, fmt.Errorf("month must be 1-12, got %q", month)
		}

		m = cursor.MonthInfo(y, time.Month(mo))
	default:
		return daterange.Window{}, fmt.Errorf("unknown range %q", name)
	}

	return cursor.PaginatedRange(m, page, pageSize, cursor.IsCurrentMonth(m)), nil
}

func (s *Server) getImage(ctx *gin.Context) {
	img, err := s.repo.GetImage(ctx.Param("id"))
	if errors.Is(err, ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "image not found"})

		return
	}

	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load image"})

		return
	}

	ctx.Data(http.StatusOK, img.MIMEType, img.Data)
}
