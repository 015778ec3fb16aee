// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupItems(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	img := []ImageRef{{ID: "x"}}

	subs := []*Submission{
		{ID: "a1", Slot: "attendance", CapturedAt: base, Images: img},
		{ID: "t1", Slot: "task", TaskID: "T-1", CapturedAt: base.Add(time.Hour), Images: img},
		{ID: "t2", Slot: "task", TaskID: "T-1", CapturedAt: base.Add(3 * time.Hour), Images: []ImageRef{{ID: "y"}, {ID: "z"}}},
		{ID: "t3", Slot: "task", BatchID: "b9", CapturedAt: base.Add(2 * time.Hour), Images: img},
		{ID: "a2", Slot: "attendance", CapturedAt: base.Add(4 * time.Hour), Images: img},
	}

	items := GroupItems(subs)
	require.Len(t, items, 4)

	kinds := make([]Kind, len(items))
	for i, it := range items {
		kinds[i] = it.Kind()
	}

	assert.Equal(t, []Kind{KindAttendance, KindTaskGroup, KindTaskGroup, KindAttendance}, kinds)

	group, ok := items[1].TaskGroup()
	require.True(t, ok)
	assert.Equal(t, "T-1", group.TaskID)
	require.Len(t, group.Submissions, 2)
	assert.Equal(t, "t2", group.Submissions[0].ID)
	assert.Equal(t, 3, items[1].ImageCount())
	assert.Equal(t, base.Add(3*time.Hour), items[1].Time())

	untagged, ok := items[2].TaskGroup()
	require.True(t, ok)
	assert.Empty(t, untagged.TaskID)
	assert.Equal(t, "t3", untagged.Submissions[0].ID)

	_, ok = items[0].TaskGroup()
	assert.False(t, ok)

	a, ok := items[0].Attendance()
	require.True(t, ok)
	assert.Equal(t, "a2", a.Submission.ID)
}

func TestItemJSON(t *testing.T) {
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	sub := &Submission{ID: "a1", Slot: "attendance", CapturedAt: at, Images: []ImageRef{}}

	raw, err := json.Marshal(NewAttendanceItem(Attendance{Submission: sub}))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "attendance", out["kind"])
	assert.Equal(t, "2025-03-10T08:00:00Z", out["time"])
	assert.Contains(t, out, "attendance")
	assert.NotContains(t, out, "task_group")

	raw, err = json.Marshal(NewTaskGroupItem(TaskGroup{TaskID: "T-1", Submissions: []*Submission{sub}}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "task_group", out["kind"])

	_, err = json.Marshal(Item{})
	require.Error(t, err)
}

func TestItemSummary(t *testing.T) {
	sub := &Submission{SiteID: "site-7", Address: "Sector 12", Images: []ImageRef{{ID: "x"}}}

	assert.Equal(t, "attendance at site-7, 1 image(s), Sector 12",
		NewAttendanceItem(Attendance{Submission: sub}).Summary())
	assert.Equal(t, "task T-1, 2 submission(s), 2 image(s), Sector 12",
		NewTaskGroupItem(TaskGroup{TaskID: "T-1", Submissions: []*Submission{sub, sub}}).Summary())
	assert.Equal(t, "task_group", KindTaskGroup.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}
