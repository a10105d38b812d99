package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/recur/internal/model"
)

// Sink receives catalog entries. Implemented by engine.Engine.
type Sink interface {
	CreateTag(ctx context.Context, tag model.Tag) error
	CreateItem(ctx context.Context, item model.Item) (model.Item, bool, error)
}

// Result reports what Apply did.
type Result struct {
	Tags    int
	Created []string
	Existed []string
}

// Apply writes the catalog's tags and items to sink. Items whose id is
// already stored are left untouched, so loading a catalog twice is safe.
func (c *Catalog) Apply(ctx context.Context, sink Sink) (Result, error) {
	var res Result
	for _, tag := range c.Tags {
		if err := sink.CreateTag(ctx, tag); err != nil {
			return res, fmt.Errorf("apply catalog: %w", err)
		}
		res.Tags++
	}
	for _, item := range c.Items {
		_, created, err := sink.CreateItem(ctx, item)
		if err != nil {
			return res, fmt.Errorf("apply catalog: %s: %w", item.ID, err)
		}
		if created {
			res.Created = append(res.Created, item.ID)
		} else {
			slog.Debug("catalog item already stored", "item", item.ID)
			res.Existed = append(res.Existed, item.ID)
		}
	}
	return res, nil
}
