// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package submission drives a batch of geotagged images from capture to upload.
package submission

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/geoproof/geoproof/utils/textutils"
)

// State is the lifecycle position of a controller's batch.
type State int

const (
	StateEmpty State = iota
	StateCollecting
	StateAddressResolving
	StateReviewing
	StateCapturing
	StateCompressing
	StateUploading
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateEmpty:            "empty",
	StateCollecting:       "collecting",
	StateAddressResolving: "address_resolving",
	StateReviewing:        "reviewing",
	StateCapturing:        "capturing",
	StateCompressing:      "compressing",
	StateUploading:        "uploading",
	StateSucceeded:        "succeeded",
	StateFailed:           "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return stateNames[s]
}

// Idle reports whether a new batch may be started from s.
func (s State) Idle() bool {
	return s == StateEmpty || s == StateSucceeded || s == StateFailed
}

// busy reports whether s is past the point of no return.
func (s State) busy() bool {
	return s == StateCapturing || s == StateCompressing || s == StateUploading
}

var (
	// ErrNoImages is returned when a batch would be started or grown with no images.
	ErrNoImages = errors.New("no images")
	// ErrInvalidState is returned for operations not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrSubmissionInFlight is returned when the slot already has a submission running.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrCancelUnsupported is returned when cancelling after the point of no return.
	ErrCancelUnsupported = errors.New("cancel not supported once submission started")
	// ErrBatchDiscarded is returned by Start and Add when the batch was cancelled meanwhile.
	ErrBatchDiscarded = errors.New("batch discarded")
	// ErrNoSuchItem is returned by Remove for an out of range index.
	ErrNoSuchItem = errors.New("no such item")
	// ErrUploadTransport is matched by retryable upload failures.
	ErrUploadTransport = errors.New("upload transport failure")
	// ErrUploadAuth is matched by uploads rejected for authentication.
	ErrUploadAuth = errors.New("upload not authorized")
)

// BatchError lists the items that failed a stage. It matches each item error.
type BatchError struct {
	Stage   State
	Indexes []int
	Errs    []error
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = fmt.Sprintf("item %d: %v", e.Indexes[i]+1, err)
	}

	return fmt.Sprintf("%s failed for %d item(s): %s", e.Stage, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	return e.Errs
}

// Slot separates independent submission flows.
type Slot string

const (
	SlotAttendance Slot = "attendance"
	SlotTask       Slot = "task"
)

// ParseSlot validates a slot name, ignoring case and surrounding spaces.
func ParseSlot(s string) (Slot, error) {
	switch slot := Slot(textutils.LowerASCIIFolding(s)); slot {
	case SlotAttendance, SlotTask:
		return slot, nil
	default:
		return "", fmt.Errorf("unknown slot %q (want %s or %s)", s, SlotAttendance, SlotTask)
	}
}

// Slots allows one submission in flight per slot, across controllers.
type Slots struct {
	mu   sync.Mutex
	busy map[Slot]bool
}

func NewSlots() *Slots {
	return &Slots{busy: make(map[Slot]bool)}
}

// Acquire claims slot. The returned release func frees it and is safe to call twice.
func (s *Slots) Acquire(slot Slot) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy[slot] {
		return nil, fmt.Errorf("%s: %w", slot, ErrSubmissionInFlight)
	}

	s.busy[slot] = true

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.busy, slot)
		})
	}, nil
}

// Busy reports whether slot has a submission in flight.
func (s *Slots) Busy(slot Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.busy[slot]
}
