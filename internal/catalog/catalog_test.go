package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
)

const garden = `
tag: garden: name: "Garden"

task: water: {
	title: "Water plants"
	rule: {kind: "daily", max_occurrences: 30}
	due:  "2024-01-01"
	reminder_minutes: 480
	tags: ["garden"]
}

task: "water-roses": {
	title:  "Roses"
	parent: "water"
}

habit: stretch: {
	title: "Stretch"
	rule: {kind: "weekly", days: ["fri", "mon"], mode: "completion"}
}
`

func TestLoadString_Garden(t *testing.T) {
	c, err := LoadString("garden.cue", garden)
	require.NoError(t, err)

	assert.Equal(t, []model.Tag{{ID: "garden", Name: "Garden"}}, c.Tags)
	require.Len(t, c.Items, 3)

	ids := []string{c.Items[0].ID, c.Items[1].ID, c.Items[2].ID}
	assert.Equal(t, []string{"stretch", "water", "water-roses"}, ids, "parents first, then by id")

	water := c.Items[1]
	assert.Equal(t, model.KindTask, water.Kind)
	require.NotNil(t, water.Rule)
	assert.Equal(t, recurrence.KindDaily, water.Rule.Kind)
	assert.Equal(t, 1, water.Rule.Interval, "interval defaults to 1")
	assert.Equal(t, 30, water.Rule.MaxOccurrences)
	assert.Equal(t, recurrence.FromAnchorDate, water.Rule.Mode)
	assert.Equal(t, "2024-01-01", water.DueDate.String())
	assert.Equal(t, &model.Reminder{Minutes: 480}, water.Reminder)
	assert.Equal(t, []string{"garden"}, water.TagIDs)

	stretch := c.Items[0]
	assert.Equal(t, model.KindHabit, stretch.Kind)
	assert.Equal(t, recurrence.FromCompletionDate, stretch.Rule.Mode)
	assert.Equal(t, []string{"mon", "fri"}, stretch.Rule.Days.Names())

	assert.Equal(t, "water", c.Items[2].ParentID)
}

func TestLoadString_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty title", `task: a: title: ""`},
		{"unknown field", `task: a: {title: "a", colour: "red"}`},
		{"bad kind", `task: a: {title: "a", rule: kind: "hourly"}`},
		{"zero interval", `task: a: {title: "a", rule: {kind: "daily", interval: 0}}`},
		{"bad weekday", `habit: a: {title: "a", rule: {kind: "weekly", days: ["funday"]}}`},
		{"days on daily", `habit: a: {title: "a", rule: {kind: "daily", days: ["mon"]}}`},
		{"habit with parent", `task: p: title: "p"
habit: a: {title: "a", parent: "p"}`},
		{"bad due", `task: a: {title: "a", due: "01/02/2024"}`},
		{"unknown tag", `task: a: {title: "a", tags: ["nope"]}`},
		{"unknown parent", `task: a: {title: "a", parent: "ghost"}`},
		{"parent cycle", `task: a: {title: "a", parent: "b"}
task: b: {title: "b", parent: "a"}`},
		{"same id twice", `task: a: title: "a"
habit: a: title: "a"`},
		{"syntax", `task: a: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadString("bad.cue", tt.src)
			assert.Error(t, err)
		})
	}
}

func TestLoadString_ErrorCarriesPosition(t *testing.T) {
	_, err := LoadString("pos.cue", "task: a: {\n\ttitle: 42\n}\n")
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.True(t, le.Pos.IsValid())
	assert.Contains(t, err.Error(), "pos.cue")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tags.cue"), []byte("package items\n\ntag: home: name: \"Home\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.cue"), []byte("package items\n\ntask: dishes: {title: \"Dishes\", tags: [\"home\"]}\n"), 0o644))

	c, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, c.FileCount)
	require.Len(t, c.Items, 1)
	assert.Equal(t, []string{"home"}, c.Items[0].TagIDs)

	_, err = LoadDir(t.TempDir())
	assert.Error(t, err, "empty directory")
}

type memSink struct {
	tags  []model.Tag
	items map[string]model.Item
	order []string
}

func (m *memSink) CreateTag(_ context.Context, tag model.Tag) error {
	m.tags = append(m.tags, tag)
	return nil
}

func (m *memSink) CreateItem(_ context.Context, item model.Item) (model.Item, bool, error) {
	if _, ok := m.items[item.ID]; ok {
		return item, false, nil
	}
	if item.ParentID != "" {
		if _, ok := m.items[item.ParentID]; !ok {
			return item, false, errors.New("parent missing")
		}
	}
	m.items[item.ID] = item
	m.order = append(m.order, item.ID)
	return item, true, nil
}

func TestApply_Idempotent(t *testing.T) {
	c, err := LoadString("garden.cue", garden)
	require.NoError(t, err)
	sink := &memSink{items: map[string]model.Item{}}

	res, err := c.Apply(context.Background(), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tags)
	assert.Equal(t, []string{"stretch", "water", "water-roses"}, res.Created)

	res, err = c.Apply(context.Background(), sink)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Len(t, res.Existed, 3)
}
