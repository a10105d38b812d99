// Package cascade decides how completing a task propagates through its
// parent/subtask tree.
//
// Two strategies exist and the caller picks one from configuration:
// Independent touches only the task itself; Cascading pushes completion
// down to every descendant and back up to ancestors whose subtasks are
// now all done.
package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/recur/internal/model"
)

// Tree is the view of the task hierarchy a Strategy needs.
type Tree interface {
	Item(ctx context.Context, id string) (model.Item, error)
	Children(ctx context.Context, parentID string) ([]model.Item, error)
	SetCompleted(ctx context.Context, id string, at *time.Time) error
}

// Change is one item whose completion state a strategy flipped.
type Change struct {
	ItemID    string
	Completed bool
}

// Strategy applies completion and uncompletion to a tree.
type Strategy interface {
	Name() string
	Complete(ctx context.Context, tree Tree, id string, at time.Time) ([]Change, error)
	Uncomplete(ctx context.Context, tree Tree, id string) ([]Change, error)
}

// New returns Cascading when cascadeCompletion is set, Independent otherwise.
func New(cascadeCompletion bool) Strategy {
	if cascadeCompletion {
		return Cascading{}
	}
	return Independent{}
}

// Independent treats every task on its own.
type Independent struct{}

func (Independent) Name() string { return "independent" }

func (Independent) Complete(ctx context.Context, tree Tree, id string, at time.Time) ([]Change, error) {
	item, err := tree.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Completed() {
		return nil, nil
	}
	if err := setCompleted(ctx, tree, id, &at); err != nil {
		return nil, err
	}
	return []Change{{ItemID: id, Completed: true}}, nil
}

func (Independent) Uncomplete(ctx context.Context, tree Tree, id string) ([]Change, error) {
	item, err := tree.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Completed() {
		return nil, nil
	}
	if err := setCompleted(ctx, tree, id, nil); err != nil {
		return nil, err
	}
	return []Change{{ItemID: id, Completed: false}}, nil
}

// Cascading propagates completion through the tree.
//
// Complete marks the task and all open descendants done, then completes
// each ancestor whose children are all done. Uncomplete reopens the task,
// all its descendants, and every completed ancestor.
type Cascading struct{}

func (Cascading) Name() string { return "cascading" }

func (c Cascading) Complete(ctx context.Context, tree Tree, id string, at time.Time) ([]Change, error) {
	item, err := tree.Item(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes []Change
	if err := c.walkDown(ctx, tree, item, &at, &changes); err != nil {
		return changes, err
	}

	parentID := item.ParentID
	for parentID != "" {
		parent, err := tree.Item(ctx, parentID)
		if err != nil {
			return changes, err
		}
		if parent.Completed() {
			break
		}
		done, err := allChildrenDone(ctx, tree, parent.ID)
		if err != nil {
			return changes, err
		}
		if !done {
			break
		}
		if err := setCompleted(ctx, tree, parent.ID, &at); err != nil {
			return changes, err
		}
		changes = append(changes, Change{ItemID: parent.ID, Completed: true})
		parentID = parent.ParentID
	}
	return changes, nil
}

func (c Cascading) Uncomplete(ctx context.Context, tree Tree, id string) ([]Change, error) {
	item, err := tree.Item(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes []Change
	if err := c.walkDown(ctx, tree, item, nil, &changes); err != nil {
		return changes, err
	}

	parentID := item.ParentID
	for parentID != "" {
		parent, err := tree.Item(ctx, parentID)
		if err != nil {
			return changes, err
		}
		if parent.Completed() {
			if err := setCompleted(ctx, tree, parent.ID, nil); err != nil {
				return changes, err
			}
			changes = append(changes, Change{ItemID: parent.ID, Completed: false})
		}
		parentID = parent.ParentID
	}
	return changes, nil
}

// walkDown sets item and its descendants to the state given by at, depth first.
func (c Cascading) walkDown(ctx context.Context, tree Tree, item model.Item, at *time.Time, changes *[]Change) error {
	want := at != nil
	if item.Completed() != want {
		if err := setCompleted(ctx, tree, item.ID, at); err != nil {
			return err
		}
		*changes = append(*changes, Change{ItemID: item.ID, Completed: want})
	}
	children, err := tree.Children(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("cascade from %s: %w", item.ID, err)
	}
	for _, child := range children {
		if err := c.walkDown(ctx, tree, child, at, changes); err != nil {
			return err
		}
	}
	return nil
}

func allChildrenDone(ctx context.Context, tree Tree, parentID string) (bool, error) {
	children, err := tree.Children(ctx, parentID)
	if err != nil {
		return false, fmt.Errorf("cascade to %s: %w", parentID, err)
	}
	for _, child := range children {
		if !child.Completed() {
			return false, nil
		}
	}
	return true, nil
}

func setCompleted(ctx context.Context, tree Tree, id string, at *time.Time) error {
	if err := tree.SetCompleted(ctx, id, at); err != nil {
		return fmt.Errorf("set completed %s: %w", id, err)
	}
	return nil
}
