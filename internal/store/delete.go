package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recur/internal/model"
)

// ownedTable locates a child collection named in model.ItemRelationships.
type ownedTable struct {
	table  string
	column string
}

var ownedTables = map[string]ownedTable{
	"subtasks":            {table: "items", column: "parent_id"},
	"completions":         {table: "completions", column: "item_id"},
	"skips":               {table: "skips", column: "item_id"},
	"tags":                {table: "item_tags", column: "item_id"},
	"pending_recurrences": {table: "pending_recurrences", column: "source_item_id"},
}

// DeleteItem removes an item, applying the delete rule of every owned
// relationship in one transaction. Returns the ids of all items removed
// (the item and any cascaded subtasks), or ErrNotFound.
func (s *Store) DeleteItem(ctx context.Context, id string) ([]string, error) {
	var deleted []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteItem(ctx, tx, id, &deleted)
	})
	if err != nil {
		return nil, fmt.Errorf("delete item %s: %w", id, err)
	}
	return deleted, nil
}

func deleteItem(ctx context.Context, tx *sql.Tx, id string, deleted *[]string) error {
	for _, rel := range model.ItemRelationships {
		owned, ok := ownedTables[rel.Name]
		if !ok {
			return fmt.Errorf("no table for relationship %q", rel.Name)
		}

		switch rel.Rule {
		case model.DeleteCascade:
			if owned.table == "items" {
				children, err := childIDs(ctx, tx, id)
				if err != nil {
					return err
				}
				for _, child := range children {
					if err := deleteItem(ctx, tx, child, deleted); err != nil {
						return err
					}
				}
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+owned.table+` WHERE `+owned.column+` = ?`, id,
			); err != nil {
				return fmt.Errorf("cascade %s: %w", rel.Name, err)
			}
		case model.DeleteNullify:
			if _, err := tx.ExecContext(ctx,
				`UPDATE `+owned.table+` SET `+owned.column+` = NULL WHERE `+owned.column+` = ?`, id,
			); err != nil {
				return fmt.Errorf("nullify %s: %w", rel.Name, err)
			}
		default:
			return fmt.Errorf("unknown delete rule %q for %s", rel.Rule, rel.Name)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	*deleted = append(*deleted, id)
	return nil
}

func childIDs(ctx context.Context, tx *sql.Tx, parentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM items
		WHERE parent_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtasks: %w", err)
	}
	return ids, nil
}
