// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/geoproof/geoproof/submission"
)

// Kind discriminates history items.
type Kind int

const (
	KindAttendance Kind = iota + 1
	KindTaskGroup
)

func (k Kind) String() string {
	switch k {
	case KindAttendance:
		return "attendance"
	case KindTaskGroup:
		return "task_group"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Attendance is one check-in.
type Attendance struct {
	Submission *Submission `json:"submission"`
}

// TaskGroup gathers the submissions made for one task, newest first.
type TaskGroup struct {
	TaskID      string        `json:"task_id"`
	Submissions []*Submission `json:"submissions"`
}

// Item is an entry of the history list. The kind is fixed by the constructor.
type Item struct {
	kind       Kind
	attendance Attendance
	taskGroup  TaskGroup
}

func NewAttendanceItem(a Attendance) Item {
	return Item{kind: KindAttendance, attendance: a}
}

func NewTaskGroupItem(g TaskGroup) Item {
	return Item{kind: KindTaskGroup, taskGroup: g}
}

func (i Item) Kind() Kind {
	return i.kind
}

// Attendance returns the attendance payload when Kind is KindAttendance.
func (i Item) Attendance() (Attendance, bool) {
	return i.attendance, i.kind == KindAttendance
}

// TaskGroup returns the task payload when Kind is KindTaskGroup.
func (i Item) TaskGroup() (TaskGroup, bool) {
	return i.taskGroup, i.kind == KindTaskGroup
}

// Time is the instant the item is sorted by: the capture time of an attendance,
// the latest capture of a task group.
func (i Item) Time() time.Time {
	switch i.kind {
	case KindAttendance:
		return i.attendance.Submission.CapturedAt
	case KindTaskGroup:
		var latest time.Time
		for _, s := range i.taskGroup.Submissions {
			if s.CapturedAt.After(latest) {
				latest = s.CapturedAt
			}
		}

		return latest
	default:
		panic(fmt.Sprintf("history: unknown item kind %d", i.kind))
	}
}

// ImageCount returns the number of images in the item.
func (i Item) ImageCount() int {
	switch i.kind {
	case KindAttendance:
		return len(i.attendance.Submission.Images)
	case KindTaskGroup:
		n := 0
		for _, s := range i.taskGroup.Submissions {
			n += len(s.Images)
		}

		return n
	default:
		panic(fmt.Sprintf("history: unknown item kind %d", i.kind))
	}
}

// Summary is a one line description for terminal output.
func (i Item) Summary() string {
	switch i.kind {
	case KindAttendance:
		s := i.attendance.Submission

		return fmt.Sprintf("attendance at %s, %d image(s), %s", s.SiteID, len(s.Images), s.Address)
	case KindTaskGroup:
		var addrs []string
		for _, s := range i.taskGroup.Submissions {
			if !slices.Contains(addrs, s.Address) {
				addrs = append(addrs, s.Address)
			}
		}

		return fmt.Sprintf("task %s, %d submission(s), %d image(s), %s", i.taskGroup.TaskID,
			len(i.taskGroup.Submissions), i.ImageCount(), strings.Join(addrs, " / "))
	default:
		panic(fmt.Sprintf("history: unknown item kind %d", i.kind))
	}
}

type itemJSON struct {
	Kind       string      `json:"kind"`
	Time       time.Time   `json:"time"`
	Attendance *Attendance `json:"attendance,omitempty"`
	TaskGroup  *TaskGroup  `json:"task_group,omitempty"`
}

func (i Item) MarshalJSON() ([]byte, error) {
	out := itemJSON{Kind: i.kind.String()}

	switch i.kind {
	case KindAttendance:
		out.Attendance = &i.attendance
	case KindTaskGroup:
		out.TaskGroup = &i.taskGroup
	default:
		return nil, fmt.Errorf("unknown item kind %d", i.kind)
	}

	out.Time = i.Time()

	return json.Marshal(out)
}

// GroupItems turns submissions into history items, newest first. Task submissions
// sharing a task id form one group; attendance submissions stay on their own.
func GroupItems(subs []*Submission) []Item {
	var (
		items  []Item
		groups = map[string]int{}
	)

	for _, s := range subs {
		switch submission.Slot(s.Slot) {
		case submission.SlotTask:
			key := s.TaskID
			if key == "" {
				key = "batch:" + s.BatchID
			}

			if idx, ok := groups[key]; ok {
				items[idx].taskGroup.Submissions = append(items[idx].taskGroup.Submissions, s)

				continue
			}

			groups[key] = len(items)
			items = append(items, NewTaskGroupItem(TaskGroup{TaskID: s.TaskID, Submissions: []*Submission{s}}))
		default:
			items = append(items, NewAttendanceItem(Attendance{Submission: s}))
		}
	}

	for _, it := range items {
		if it.kind == KindTaskGroup {
			slices.SortStableFunc(it.taskGroup.Submissions, func(a, b *Submission) int {
				return b.CapturedAt.Compare(a.CapturedAt)
			})
		}
	}

	slices.SortStableFunc(items, func(a, b Item) int {
		return b.Time().Compare(a.Time())
	})

	return items
}
