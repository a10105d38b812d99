package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/recurrence"
)

// Snapshot is the denormalized copy of the fields needed to build the next
// instance of a recurring item. It is taken at completion time so that
// materialization still works after the source item is deleted.
type Snapshot struct {
	Kind        Kind            `json:"kind"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    int             `json:"priority"`
	ParentID    string          `json:"parent_id,omitempty"`
	Rule        recurrence.Rule `json:"rule"`
	TagIDs      []string        `json:"tag_ids,omitempty"`
	Reminder    *Reminder       `json:"reminder,omitempty"`
}

// SnapshotOf captures item. The item must be recurring.
func SnapshotOf(item Item) (Snapshot, error) {
	if item.Rule == nil {
		return Snapshot{}, fmt.Errorf("snapshot item %s: not recurring", item.ID)
	}
	tags := slices.Clone(item.TagIDs)
	slices.Sort(tags)
	var reminder *Reminder
	if item.Reminder != nil {
		r := *item.Reminder
		reminder = &r
	}
	return Snapshot{
		Kind:        item.Kind,
		Title:       item.Title,
		Description: item.Description,
		Priority:    item.Priority,
		ParentID:    item.ParentID,
		Rule:        *item.Rule,
		TagIDs:      tags,
		Reminder:    reminder,
	}, nil
}

// MarshalSnapshot encodes s as canonical JSON.
func MarshalSnapshot(s Snapshot) (string, error) {
	data, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

// UnmarshalSnapshot decodes canonical JSON produced by MarshalSnapshot.
func UnmarshalSnapshot(data string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// PendingRecurrence is a deferred record of the next instance of a
// recurring item. It is consumed exactly once, when ScheduledDate has
// arrived, by converting it into a live item.
//
// SourceItemID is empty once the source item has been deleted.
type PendingRecurrence struct {
	ID              string
	SourceItemID    string
	ScheduledDate   calendar.Day
	OccurrenceIndex int
	Snapshot        Snapshot
	CreatedAt       time.Time
}

// Ready reports whether the record may be materialized on today.
func (p PendingRecurrence) Ready(today calendar.Day) bool {
	return !p.ScheduledDate.After(today)
}

// Instantiate builds the live item described by p. Tags are taken from
// tagIDs, which the caller has already resolved against existing tags.
func (p PendingRecurrence) Instantiate(id string, tagIDs []string, now time.Time) Item {
	rule := p.Snapshot.Rule
	due := p.ScheduledDate
	var reminder *Reminder
	if p.Snapshot.Reminder != nil {
		r := *p.Snapshot.Reminder
		reminder = &r
	}
	return Item{
		ID:              id,
		Kind:            p.Snapshot.Kind,
		Title:           p.Snapshot.Title,
		Description:     p.Snapshot.Description,
		Priority:        p.Snapshot.Priority,
		ParentID:        p.Snapshot.ParentID,
		Rule:            &rule,
		DueDate:         &due,
		OccurrenceIndex: p.OccurrenceIndex,
		Reminder:        reminder,
		TagIDs:          slices.Clone(tagIDs),
		CreatedAt:       now,
	}
}
