// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package daterange

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthInfo(t *testing.T) {
	c := NewCursor(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))

	tests := []struct {
		year  int
		month time.Month
		days  int
	}{
		{2024, time.January, 31},
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2024, time.April, 30},
		{2024, time.December, 31},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d-%02d", tc.year, tc.month), func(t *testing.T) {
			m := c.MonthInfo(tc.year, tc.month)
			assert.Equal(t, tc.days, m.TotalDays)
			assert.Equal(t, date(tc.year, tc.month, 1), m.FirstDay)
			assert.Equal(t, date(tc.year, tc.month, tc.days), m.LastDay)
		})
	}
}

func TestPaginatedRangeCurrentMonthDayTen(t *testing.T) {
	c := NewCursor(time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC))
	m := c.ThisMonth()

	w := c.PaginatedRange(m, 1, 6, true)
	assert.Equal(t, date(2024, 5, 10), w.EndDate)
	assert.Equal(t, date(2024, 5, 5), w.StartDate)
	assert.True(t, w.HasMore)
	assert.Equal(t, 6, w.Days())

	w = c.PaginatedRange(m, 2, 6, true)
	assert.Equal(t, date(2024, 5, 4), w.EndDate)
	assert.Equal(t, date(2024, 5, 1), w.StartDate)
	assert.False(t, w.HasMore)

	w = c.PaginatedRange(m, 3, 6, true)
	assert.True(t, w.Empty)
	assert.False(t, w.HasMore)
	assert.Equal(t, 0, w.Days())
}

func TestPaginatedRangePastMonthStartsAtLastDay(t *testing.T) {
	c := NewCursor(time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC))
	m := c.LastMonth()

	require.Equal(t, time.April, m.Month)

	w := c.PaginatedRange(m, 1, 6, false)
	assert.Equal(t, date(2024, 4, 30), w.EndDate)
	assert.Equal(t, date(2024, 4, 25), w.StartDate)
	assert.True(t, w.HasMore)
}

func TestPaginatedRangeCoversMonth(t *testing.T) {
	now := time.Date(2024, 7, 17, 12, 0, 0, 0, time.UTC)
	c := NewCursor(now)

	for year := 2023; year <= 2024; year++ {
		for month := time.January; month <= time.December; month++ {
			m := c.MonthInfo(year, month)
			current := c.IsCurrentMonth(m)

			lastRelevant := m.TotalDays
			if current {
				lastRelevant = now.Day()
			}

			t.Run(fmt.Sprintf("%d-%02d", year, month), func(t *testing.T) {
				covered := make([]int, lastRelevant+1)
				prevStart := lastRelevant + 1

				for page := 1; ; page++ {
					w := c.PaginatedRange(m, page, 6, current)
					require.False(t, w.Empty, "page %d", page)

					// contiguous and non overlapping with the previous (later) window
					assert.Equal(t, prevStart-1, w.EndDate.Day(), "page %d", page)
					assert.GreaterOrEqual(t, w.StartDate.Day(), 1)
					assert.LessOrEqual(t, w.EndDate.Day(), lastRelevant)

					for d := w.StartDate.Day(); d <= w.EndDate.Day(); d++ {
						covered[d]++
					}

					prevStart = w.StartDate.Day()

					assert.Equal(t, w.StartDate.Day() > 1, w.HasMore)

					if !w.HasMore {
						break
					}

					require.Less(t, page, 10, "pagination does not terminate")
				}

				for d := 1; d <= lastRelevant; d++ {
					assert.Equal(t, 1, covered[d], "day %d", d)
				}
			})
		}
	}
}

func TestPaginatedRangeDefaults(t *testing.T) {
	c := NewCursor(time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC))
	m := c.ThisMonth()

	assert.Equal(t, c.PaginatedRange(m, 1, DefaultPageSize, true), c.PaginatedRange(m, 0, 0, true))
}

func TestPresets(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	c := NewCursor(time.Date(2024, 1, 15, 23, 45, 0, 0, loc))

	today := c.Today()
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, loc), today.StartDate)
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, loc), today.Until())
	assert.Equal(t, 1, today.Days())

	last := c.LastMonth()
	assert.Equal(t, 2023, last.Year)
	assert.Equal(t, time.December, last.Month)
	assert.Equal(t, 31, last.TotalDays)
	assert.False(t, c.IsCurrentMonth(last))
	assert.True(t, c.IsCurrentMonth(c.ThisMonth()))
}
