// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package daterange computes the day windows used by the submission history views:
// "today", "this month", "last month" and the paginated "load more" walk through a month.
//
// Everything here is pure arithmetic over a reference instant; nothing reads the clock.
package daterange

import (
	"time"
)

// ISODate is the layout used for window boundaries in queries and API payloads.
const ISODate = "2006-01-02"

// DefaultPageSize is the number of days loaded per "load more" step.
const DefaultPageSize = 6

// Month describes a calendar month.
type Month struct {
	Year      int
	Month     time.Month
	FirstDay  time.Time
	LastDay   time.Time
	TotalDays int
}

// Window is a closed range of days inside one month.
type Window struct {
	StartDate time.Time
	EndDate   time.Time
	HasMore   bool
	// Empty is set when the requested page lies before the first day of the month.
	Empty bool
}

// Until returns the exclusive upper bound of the window (midnight after EndDate).
func (w Window) Until() time.Time {
	return w.EndDate.AddDate(0, 0, 1)
}

// Days returns the number of days covered by the window.
func (w Window) Days() int {
	if w.Empty {
		return 0
	}

	return w.EndDate.Day() - w.StartDate.Day() + 1
}

// Cursor evaluates ranges relative to Now, in Now's location.
type Cursor struct {
	Now time.Time
}

// NewCursor returns a cursor anchored at now.
func NewCursor(now time.Time) Cursor {
	return Cursor{Now: now}
}

func (c Cursor) location() *time.Location {
	if loc := c.Now.Location(); loc != nil {
		return loc
	}

	return time.UTC
}

// MonthInfo returns the bounds of the given month. Out of range months are normalized the
// same way time.Date does (month 13 is January of the next year).
func (c Cursor) MonthInfo(year int, month time.Month) Month {
	first := time.Date(year, month, 1, 0, 0, 0, 0, c.location())
	last := first.AddDate(0, 1, -1)

	return Month{
		Year:      first.Year(),
		Month:     first.Month(),
		FirstDay:  first,
		LastDay:   last,
		TotalDays: last.Day(),
	}
}

// IsCurrentMonth reports whether m contains Now.
func (c Cursor) IsCurrentMonth(m Month) bool {
	return m.Year == c.Now.Year() && m.Month == c.Now.Month()
}

// PaginatedRange returns the page-th window (1-based) walking backwards from the last
// relevant day of the month: today when isCurrentMonth, the last calendar day otherwise.
// HasMore is true iff the window starts after day 1.
func (c Cursor) PaginatedRange(m Month, page, pageSize int, isCurrentMonth bool) Window {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	lastRelevant := m.TotalDays
	if isCurrentMonth {
		lastRelevant = min(c.Now.Day(), m.TotalDays)
	}

	endDay := lastRelevant - (page-1)*pageSize
	if endDay < 1 {
		return Window{StartDate: m.FirstDay, EndDate: m.FirstDay, Empty: true}
	}

	startDay := max(endDay-pageSize+1, 1)

	return Window{
		StartDate: m.FirstDay.AddDate(0, 0, startDay-1),
		EndDate:   m.FirstDay.AddDate(0, 0, endDay-1),
		HasMore:   startDay > 1,
	}
}

// Today returns the single-day window for Now.
func (c Cursor) Today() Window {
	day := time.Date(c.Now.Year(), c.Now.Month(), c.Now.Day(), 0, 0, 0, 0, c.location())

	return Window{StartDate: day, EndDate: day}
}

// ThisMonth returns the month containing Now.
func (c Cursor) ThisMonth() Month {
	return c.MonthInfo(c.Now.Year(), c.Now.Month())
}

// LastMonth returns the month before the one containing Now.
func (c Cursor) LastMonth() Month {
	return c.MonthInfo(c.Now.Year(), c.Now.Month()-1)
}
