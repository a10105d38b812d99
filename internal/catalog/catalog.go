// Package catalog loads item definitions written in CUE.
//
// A catalog declares tags, habits and tasks keyed by id:
//
//	tag: garden: name: "Garden"
//	task: water: {
//		title: "Water plants"
//		rule: {kind: "daily", max_occurrences: 30}
//		due:  "2024-01-01"
//		tags: ["garden"]
//	}
//	habit: stretch: {
//		title: "Stretch"
//		rule: {kind: "weekly", days: ["mon", "wed", "fri"]}
//	}
//
// Every file is unified with an embedded schema before items are built, so
// shape errors carry CUE positions.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
)

//go:embed schema.cue
var schemaSource string

// Catalog is the decoded content of a catalog.
type Catalog struct {
	Tags      []model.Tag
	Items     []model.Item // parents before their subtasks
	FileCount int
}

// LoadError is an error located in a catalog file.
type LoadError struct {
	Path    string // e.g. task.water.rule
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	loc := e.Path
	if e.Pos.IsValid() {
		loc = fmt.Sprintf("%s:%d:%d", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
		if e.Path != "" {
			loc += " " + e.Path
		}
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// LoadDir loads every .cue file in dir as one instance.
func LoadDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog: not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("catalog: scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("catalog: no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("catalog: no CUE instances loaded")
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("catalog: loading CUE files: %w", err)
	}

	c, err := decode(ctx, ctx.BuildInstance(instances[0]))
	if err != nil {
		return nil, err
	}
	c.FileCount = len(files)
	return c, nil
}

// LoadString loads a catalog from CUE source. filename is used in
// positions.
func LoadString(filename, src string) (*Catalog, error) {
	ctx := cuecontext.New()
	c, err := decode(ctx, ctx.CompileString(src, cue.Filename(filename)))
	if err != nil {
		return nil, err
	}
	c.FileCount = 1
	return c, nil
}

// Schema returns the embedded catalog schema source.
func Schema() string { return schemaSource }

func decode(ctx *cue.Context, v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}

	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{}
	tags, err := decodeTags(v)
	if err != nil {
		return nil, err
	}
	c.Tags = tags

	known := make(map[string]bool, len(tags))
	for _, t := range tags {
		known[t.ID] = true
	}

	var items []model.Item
	for _, kind := range []model.Kind{model.KindHabit, model.KindTask} {
		decoded, err := decodeItems(v, kind, known)
		if err != nil {
			return nil, err
		}
		items = append(items, decoded...)
	}

	c.Items, err = parentsFirst(items)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func decodeTags(v cue.Value) ([]model.Tag, error) {
	var tags []model.Tag
	tv := v.LookupPath(cue.ParsePath("tag"))
	if !tv.Exists() {
		return tags, nil
	}
	iter, err := tv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name, err := iter.Value().LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		tags = append(tags, model.Tag{ID: iter.Selector().Unquoted(), Name: name})
	}
	return tags, nil
}

// itemDef is the decoded shape of one #Item, minus the rule.
type itemDef struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        int      `json:"priority"`
	Parent          string   `json:"parent"`
	Due             string   `json:"due"`
	ReminderMinutes *int     `json:"reminder_minutes"`
	Tags            []string `json:"tags"`
}

func decodeItems(v cue.Value, kind model.Kind, knownTags map[string]bool) ([]model.Item, error) {
	var items []model.Item
	section := v.LookupPath(cue.ParsePath(string(kind)))
	if !section.Exists() {
		return items, nil
	}
	iter, err := section.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		id := iter.Selector().Unquoted()
		path := string(kind) + "." + id
		item, err := decodeItem(iter.Value(), id, kind, knownTags)
		if err != nil {
			return nil, &LoadError{Path: path, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(v cue.Value, id string, kind model.Kind, knownTags map[string]bool) (model.Item, error) {
	var def itemDef
	if err := v.Decode(&def); err != nil {
		return model.Item{}, err
	}

	item := model.Item{
		ID:          id,
		Kind:        kind,
		Title:       def.Title,
		Description: def.Description,
		Priority:    def.Priority,
		ParentID:    def.Parent,
		TagIDs:      def.Tags,
	}
	if def.ReminderMinutes != nil {
		item.Reminder = &model.Reminder{Minutes: *def.ReminderMinutes}
	}
	if def.Due != "" {
		d, err := calendar.ParseDay(def.Due)
		if err != nil {
			return model.Item{}, fmt.Errorf("due: %w", err)
		}
		item.DueDate = &d
	}
	for _, tag := range def.Tags {
		if !knownTags[tag] {
			return model.Item{}, fmt.Errorf("unknown tag %q", tag)
		}
	}

	if rv := v.LookupPath(cue.ParsePath("rule")); rv.Exists() {
		raw, err := rv.MarshalJSON()
		if err != nil {
			return model.Item{}, err
		}
		var rule recurrence.Rule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return model.Item{}, err
		}
		item.Rule = &rule
	}
	return item, nil
}

// parentsFirst orders items so every parent precedes its subtasks, ids
// sorted within a depth. Unknown parents and cycles are errors.
func parentsFirst(items []model.Item) ([]model.Item, error) {
	byID := make(map[string]model.Item, len(items))
	for _, it := range items {
		if _, dup := byID[it.ID]; dup {
			return nil, &LoadError{Path: it.ID, Message: "id declared as both habit and task"}
		}
		byID[it.ID] = it
	}

	depth := make(map[string]int, len(items))
	var depthOf func(id string, seen map[string]bool) (int, error)
	depthOf = func(id string, seen map[string]bool) (int, error) {
		if d, ok := depth[id]; ok {
			return d, nil
		}
		it := byID[id]
		if it.ParentID == "" {
			depth[id] = 0
			return 0, nil
		}
		parent, ok := byID[it.ParentID]
		if !ok {
			return 0, &LoadError{Path: "task." + id, Message: fmt.Sprintf("unknown parent %q", it.ParentID)}
		}
		if parent.Kind != model.KindTask {
			return 0, &LoadError{Path: "task." + id, Message: fmt.Sprintf("parent %q is not a task", it.ParentID)}
		}
		if seen[id] {
			return 0, &LoadError{Path: "task." + id, Message: "parent cycle"}
		}
		seen[id] = true
		d, err := depthOf(it.ParentID, seen)
		if err != nil {
			return 0, err
		}
		depth[id] = d + 1
		return d + 1, nil
	}

	for _, it := range items {
		if _, err := depthOf(it.ID, map[string]bool{}); err != nil {
			return nil, err
		}
	}

	out := append([]model.Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if depth[out[i].ID] != depth[out[j].ID] {
			return depth[out[i].ID] < depth[out[j].ID]
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// formatCUEError converts a CUE error list into a LoadError carrying the
// first position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Message: err.Error()}
	}
	first := errs[0]
	// Prefer a position in the user's files over one in the schema.
	var pos token.Pos
	for _, p := range cueerrors.Positions(first) {
		if !pos.IsValid() {
			pos = p
		}
		if p.Filename() != "schema.cue" {
			pos = p
			break
		}
	}
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, len(errs)-1)
	}
	return &LoadError{Path: strings.Join(first.Path(), "."), Message: msg, Pos: pos}
}
