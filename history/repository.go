// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package history stores received submissions and serves them back as a
// paginated history.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geoproof/geoproof/spatial"
	"github.com/uber/h3-go/v4"
)

// H3Resolution is the cell size stored with every submission (about 0.1 km2).
const H3Resolution = 9

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateBatch is returned when a batch id was already stored.
	ErrDuplicateBatch = errors.New("batch already stored")
)

// Submission is one stored batch.
type Submission struct {
	ID         string        `json:"id"`
	BatchID    string        `json:"batch_id"`
	Slot       string        `json:"slot"`
	SiteID     string        `json:"site_id,omitempty"`
	UserID     string        `json:"user_id"`
	TaskID     string        `json:"task_id,omitempty"`
	Remarks    string        `json:"remarks,omitempty"`
	Point      spatial.Point `json:"point"`
	Address    string        `json:"address"`
	CapturedAt time.Time     `json:"captured_at"`
	CreatedAt  time.Time     `json:"created_at"`
	H3Cell     string        `json:"h3_cell"`
	Images     []ImageRef    `json:"images"`
}

// ImageRef points at a stored image without its bytes.
type ImageRef struct {
	ID         string `json:"id"`
	Position   int    `json:"position"`
	MIMEType   string `json:"mime_type"`
	Composited bool   `json:"composited"`
}

// Image is a stored image with its bytes.
type Image struct {
	ImageRef
	SubmissionID string
	Data         []byte
}

// Repository persists submissions.
type Repository interface {
	// CreateSchema creates the submissions and submission_images tables
	CreateSchema() error

	// SaveSubmission stores a submission and its images in one transaction
	SaveSubmission(sub *Submission, images []*Image) error

	// GetSubmissionByBatch returns the submission stored for a batch id
	GetSubmissionByBatch(batchID string) (*Submission, error)

	// ListSubmissions returns a user's submissions captured in [start, until), newest first
	ListSubmissions(userID string, start, until time.Time) ([]*Submission, error)

	// ListItems is ListSubmissions grouped into history items
	ListItems(userID string, start, until time.Time) ([]Item, error)

	// GetImage returns one image with its bytes
	GetImage(id string) (*Image, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlRepository struct {
	db *sql.DB
}

// NewRepository creates a repository over a DuckDB connection.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			id VARCHAR PRIMARY KEY,
			batch_id VARCHAR NOT NULL UNIQUE,
			slot VARCHAR NOT NULL,
			site_id VARCHAR NOT NULL,
			user_id VARCHAR NOT NULL,
			task_id VARCHAR NOT NULL,
			remarks VARCHAR NOT NULL,
			point VARCHAR NOT NULL, -- WKT, caption precision
			address VARCHAR NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			h3_res9 BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS submission_images (
			id VARCHAR PRIMARY KEY,
			submission_id VARCHAR NOT NULL,
			ordinal INTEGER NOT NULL,
			mime_type VARCHAR NOT NULL,
			composited BOOLEAN NOT NULL,
			data BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS submissions_user_captured ON submissions(user_id, captured_at);
	`)
	if err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}

	return nil
}

func (r *sqlRepository) SaveSubmission(sub *Submission, images []*Image) error {
	if !sub.Point.Valid() {
		return errors.New("submission point must be finite")
	}

	cell, err := sub.Point.H3Cell(H3Resolution)
	if err != nil {
		return err
	}

	if existing, err := r.GetSubmissionByBatch(sub.BatchID); err == nil && existing != nil {
		return fmt.Errorf("%s: %w", sub.BatchID, ErrDuplicateBatch)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	sub.H3Cell = cell.String()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	rollback := func(err error) error {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Join(err, rErr)
		}

		return err
	}

	_, err = tx.Exec(`
		INSERT INTO submissions(
			id, batch_id, slot, site_id, user_id, task_id, remarks,
			point, address, captured_at, created_at, h3_res9
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID,
		sub.BatchID,
		sub.Slot,
		sub.SiteID,
		sub.UserID,
		sub.TaskID,
		sub.Remarks,
		sub.Point,
		sub.Address,
		sub.CapturedAt.UTC(),
		sub.CreatedAt.UTC(),
		int64(cell),
	)
	if err != nil {
		return rollback(fmt.Errorf("inserting submission: %w", err))
	}

	stmt, err := tx.Prepare(`
		INSERT INTO submission_images(id, submission_id, ordinal, mime_type, composited, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return rollback(err)
	}
	defer stmt.Close()

	sub.Images = sub.Images[:0]

	for i, img := range images {
		img.SubmissionID = sub.ID
		img.Position = i

		if _, err := stmt.Exec(img.ID, sub.ID, i, img.MIMEType, img.Composited, img.Data); err != nil {
			return rollback(fmt.Errorf("inserting image %d: %w", i, err))
		}

		sub.Images = append(sub.Images, img.ImageRef)
	}

	return tx.Commit()
}

const submissionColumns = `
	s.id, s.batch_id, s.slot, s.site_id, s.user_id, s.task_id, s.remarks,
	s.point, s.address, s.captured_at, s.created_at, s.h3_res9,
	i.id, i.ordinal, i.mime_type, i.composited
`

func (r *sqlRepository) GetSubmissionByBatch(batchID string) (*Submission, error) {
	subs, err := r.querySubmissions(`
		SELECT `+submissionColumns+`
		FROM submissions s
		LEFT JOIN submission_images i ON i.submission_id = s.id
		WHERE s.batch_id = ?
		ORDER BY i.ordinal
	`, batchID)
	if err != nil {
		return nil, err
	}

	if len(subs) == 0 {
		return nil, ErrNotFound
	}

	return subs[0], nil
}

func (r *sqlRepository) ListSubmissions(userID string, start, until time.Time) ([]*Submission, error) {
	return r.querySubmissions(`
		SELECT `+submissionColumns+`
		FROM submissions s
		LEFT JOIN submission_images i ON i.submission_id = s.id
		WHERE s.user_id = ? AND s.captured_at >= ? AND s.captured_at < ?
		ORDER BY s.captured_at DESC, s.id, i.ordinal
	`, userID, start.UTC(), until.UTC())
}

func (r *sqlRepository) ListItems(userID string, start, until time.Time) ([]Item, error) {
	subs, err := r.ListSubmissions(userID, start, until)
	if err != nil {
		return nil, err
	}

	return GroupItems(subs), nil
}

// querySubmissions scans submission rows joined with their images; rows of one
// submission must be adjacent.
func (r *sqlRepository) querySubmissions(query string, args ...any) ([]*Submission, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var (
		subs    []*Submission
		current *Submission
	)

	for rows.Next() {
		var (
			s          Submission
			cell       int64
			imgID      sql.NullString
			position   sql.NullInt64
			mime       sql.NullString
			composited sql.NullBool
		)

		if err := rows.Scan(
			&s.ID, &s.BatchID, &s.Slot, &s.SiteID, &s.UserID, &s.TaskID, &s.Remarks,
			&s.Point, &s.Address, &s.CapturedAt, &s.CreatedAt, &cell,
			&imgID, &position, &mime, &composited,
		); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}

		if current == nil || current.ID != s.ID {
			s.H3Cell = h3.Cell(cell).String()
			s.CapturedAt = s.CapturedAt.UTC()
			s.CreatedAt = s.CreatedAt.UTC()
			s.Images = []ImageRef{}
			current = &s
			subs = append(subs, current)
		}

		if imgID.Valid {
			current.Images = append(current.Images, ImageRef{
				ID:         imgID.String,
				Position:   int(position.Int64),
				MIMEType:   mime.String,
				Composited: composited.Bool,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *sqlRepository) GetImage(id string) (*Image, error) {
	var img Image

	err := r.db.QueryRow(`
		SELECT id, submission_id, ordinal, mime_type, composited, data
		FROM submission_images
		WHERE id = ?
	`, strings.TrimSpace(id)).Scan(&img.ID, &img.SubmissionID, &img.Position, &img.MIMEType, &img.Composited, &img.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("getting image %s: %w", id, err)
	}

	return &img, nil
}
