// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry records the pipeline's outcome tags (probe failures, degraded
// composites, geocode fallbacks, submission results).
package telemetry

import (
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/posthog/posthog-go"
)

// Event names.
const (
	EventProbeFailure       = "probe_failure"
	EventCompositeDegraded  = "composite_degraded"
	EventGeocodeResolved    = "geocode_resolved"
	EventGeocodeFallback    = "geocode_fallback"
	EventCompressionFailed  = "compression_failed"
	EventSubmissionSent     = "submission_succeeded"
	EventSubmissionFailed   = "submission_failed"
	EventSubmissionRejected = "submission_rejected"
)

// Properties is the free-form payload attached to an event.
type Properties map[string]any

// Recorder receives pipeline events. Implementations must be safe for concurrent use
// and must never block the caller for long.
type Recorder interface {
	Record(event string, props Properties)
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(string, Properties) {}

// LogRecorder writes events through the standard logger.
type LogRecorder struct {
	Logger *log.Logger
}

// Record implements Recorder.
func (r LogRecorder) Record(event string, props Properties) {
	var b strings.Builder

	b.WriteString("event=")
	b.WriteString(event)

	for _, k := range slices.Sorted(maps.Keys(props)) {
		fmt.Fprintf(&b, " %s=%v", k, props[k])
	}

	if r.Logger != nil {
		r.Logger.Print(b.String())
	} else {
		log.Print(b.String())
	}
}

// PostHogRecorder forwards events to PostHog.
type PostHogRecorder struct {
	client     posthog.Client
	distinctID string
}

// NewPostHogRecorder connects to PostHog. An empty host uses the library default.
func NewPostHogRecorder(apiKey, host, distinctID string) (*PostHogRecorder, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: host})
	if err != nil {
		return nil, fmt.Errorf("creating posthog client: %w", err)
	}

	if distinctID == "" {
		distinctID = "geoproof_cli"
	}

	return &PostHogRecorder{client: client, distinctID: distinctID}, nil
}

// Record implements Recorder.
func (r *PostHogRecorder) Record(event string, props Properties) {
	err := r.client.Enqueue(posthog.Capture{
		DistinctId: r.distinctID,
		Event:      event,
		Properties: posthog.Properties(props),
	})
	if err != nil {
		log.Printf("telemetry: dropping %s: %v", event, err)
	}
}

// Close flushes pending events.
func (r *PostHogRecorder) Close() error {
	return r.client.Close()
}

// Multi fans an event out to several recorders.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(event string, props Properties) {
	for _, r := range m {
		r.Record(event, props)
	}
}

// Memory keeps events in memory; tests use it to assert on taxonomy tags.
type Memory struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

// RecordedEvent is one event captured by Memory.
type RecordedEvent struct {
	Name  string
	Props Properties
}

// Record implements Recorder.
func (m *Memory) Record(event string, props Properties) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, RecordedEvent{Name: event, Props: maps.Clone(props)})
}

// Count returns how many events with the given name were recorded.
func (m *Memory) Count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for _, e := range m.Events {
		if e.Name == event {
			n++
		}
	}

	return n
}

// Find returns the recorded events with the given name.
func (m *Memory) Find(event string) []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RecordedEvent

	for _, e := range m.Events {
		if e.Name == event {
			out = append(out, e)
		}
	}

	return out
}
