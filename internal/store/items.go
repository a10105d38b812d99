package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/recur/internal/model"
)

const itemColumns = `
	id, kind, title, description, priority, parent_id, rule, due_date,
	completed_at, occurrence_index, reminder_minutes, notification_fired,
	snoozed_until, streak_current, streak_longest, streak_last_completed, created_at`

// execer is the subset of *sql.DB and *sql.Tx used by shared write helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateItem inserts item and its tag links in one transaction.
// Uses ON CONFLICT(id) DO NOTHING; the boolean reports whether a row was written.
func (s *Store) CreateItem(ctx context.Context, item model.Item) (bool, error) {
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = insertItem(ctx, tx, item)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("create item %s: %w", item.ID, err)
	}
	return inserted, nil
}

func insertItem(ctx context.Context, db execer, item model.Item) (bool, error) {
	if !item.Kind.Valid() {
		return false, fmt.Errorf("invalid kind %q", item.Kind)
	}
	rule, err := marshalRule(item.Rule)
	if err != nil {
		return false, err
	}
	index := max(item.OccurrenceIndex, 1)

	result, err := db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		item.ID,
		string(item.Kind),
		item.Title,
		item.Description,
		item.Priority,
		nullString(item.ParentID),
		rule,
		nullDay(item.DueDate),
		nullTime(item.CompletedAt),
		index,
		nullReminder(item.Reminder),
		item.NotificationFired,
		nullTime(item.SnoozedUntil),
		item.Streak.Current,
		item.Streak.Longest,
		nullDay(item.Streak.LastCompleted),
		formatTime(item.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for _, tagID := range item.TagIDs {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO item_tags (item_id, tag_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, item.ID, tagID); err != nil {
			return false, fmt.Errorf("link tag %s: %w", tagID, err)
		}
	}
	return true, nil
}

// GetItem returns the item with id, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id string) (model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	tags, err := s.itemTags(ctx, id)
	if err != nil {
		return model.Item{}, err
	}
	item.TagIDs = tags
	return item, nil
}

// Item implements cascade.Tree.
func (s *Store) Item(ctx context.Context, id string) (model.Item, error) {
	return s.GetItem(ctx, id)
}

// ItemFilter narrows ListItems. The zero value lists everything.
type ItemFilter struct {
	Kind     model.Kind
	OpenOnly bool
}

// ListItems returns items ordered by creation time then id.
func (s *Store) ListItems(ctx context.Context, f ItemFilter) ([]model.Item, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.OpenOnly {
		where = append(where, "completed_at IS NULL")
	}
	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id COLLATE BINARY ASC"
	return s.queryItems(ctx, query, args...)
}

// Children returns the direct subtasks of parentID. Implements cascade.Tree.
func (s *Store) Children(ctx context.Context, parentID string) ([]model.Item, error) {
	return s.queryItems(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE parent_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, parentID)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	rows.Close()

	for i := range items {
		tags, err := s.itemTags(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].TagIDs = tags
	}
	return items, nil
}

func (s *Store) itemTags(ctx context.Context, itemID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_id FROM item_tags
		WHERE item_id = ?
		ORDER BY tag_id COLLATE BINARY ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query item tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item tag: %w", err)
		}
		tags = append(tags, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item tags: %w", err)
	}
	return tags, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.Item, error) {
	var (
		item          model.Item
		kind          string
		parentID      sql.NullString
		rule          sql.NullString
		dueDate       sql.NullInt64
		completedAt   sql.NullString
		reminder      sql.NullInt64
		snoozedUntil  sql.NullString
		lastCompleted sql.NullInt64
		createdAt     string
	)
	err := row.Scan(
		&item.ID,
		&kind,
		&item.Title,
		&item.Description,
		&item.Priority,
		&parentID,
		&rule,
		&dueDate,
		&completedAt,
		&item.OccurrenceIndex,
		&reminder,
		&item.NotificationFired,
		&snoozedUntil,
		&item.Streak.Current,
		&item.Streak.Longest,
		&lastCompleted,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Item{}, err
		}
		return model.Item{}, fmt.Errorf("scan item: %w", err)
	}

	item.Kind = model.Kind(kind)
	item.ParentID = parentID.String
	item.DueDate = scanNullDay(dueDate)
	item.Reminder = scanNullReminder(reminder)
	item.Streak.LastCompleted = scanNullDay(lastCompleted)

	if item.Rule, err = unmarshalRule(rule); err != nil {
		return model.Item{}, err
	}
	if item.CompletedAt, err = scanNullTime(completedAt); err != nil {
		return model.Item{}, err
	}
	if item.SnoozedUntil, err = scanNullTime(snoozedUntil); err != nil {
		return model.Item{}, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Item{}, err
	}
	return item, nil
}

// updateOne runs a single-row UPDATE and maps zero rows to ErrNotFound.
func (s *Store) updateOne(ctx context.Context, op, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// SetCompleted sets or clears completed_at. Implements cascade.Tree.
func (s *Store) SetCompleted(ctx context.Context, id string, at *time.Time) error {
	return s.updateOne(ctx, "set completed", id,
		`UPDATE items SET completed_at = ? WHERE id = ?`, nullTime(at), id)
}

// SetSnoozedUntil sets or clears snoozed_until. notification_fired is left alone.
func (s *Store) SetSnoozedUntil(ctx context.Context, id string, until *time.Time) error {
	return s.updateOne(ctx, "snooze", id,
		`UPDATE items SET snoozed_until = ? WHERE id = ?`, nullTime(until), id)
}

// MarkDelivered sets notification_fired and, when clearSnooze is set,
// clears snoozed_until.
func (s *Store) MarkDelivered(ctx context.Context, id string, clearSnooze bool) error {
	if clearSnooze {
		return s.updateOne(ctx, "mark delivered", id,
			`UPDATE items SET notification_fired = 1, snoozed_until = NULL WHERE id = ?`, id)
	}
	return s.updateOne(ctx, "mark delivered", id,
		`UPDATE items SET notification_fired = 1 WHERE id = ?`, id)
}

// UpdateStreak overwrites the streak cache. Implements streak.HistoryStore.
func (s *Store) UpdateStreak(ctx context.Context, id string, st model.StreakState) error {
	return s.updateOne(ctx, "update streak", id, `
		UPDATE items
		SET streak_current = ?, streak_longest = ?, streak_last_completed = ?
		WHERE id = ?
	`, st.Current, st.Longest, nullDay(st.LastCompleted), id)
}

// CreateTag inserts a tag. Uses ON CONFLICT DO NOTHING for idempotency.
func (s *Store) CreateTag(ctx context.Context, tag model.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, tag.ID, tag.Name)
	if err != nil {
		return fmt.Errorf("create tag %s: %w", tag.ID, err)
	}
	return nil
}

// ExistingTags returns the subset of ids that name existing tags, in input
// order. Implements materialize.Store.
func (s *Store) ExistingTags(ctx context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		var found string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM tags WHERE id = ?`, id).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup tag %s: %w", id, err)
		}
		out = append(out, found)
	}
	return out, nil
}

// DeleteTag removes a tag and its item links.
func (s *Store) DeleteTag(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM item_tags WHERE tag_id = ?`, id); err != nil {
			return fmt.Errorf("delete tag %s: %w", id, err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete tag %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("delete tag %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
