package store

import (
	"context"
	"fmt"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
)

// DayStatus reports whether itemID has a completion or skip on day.
// Implements streak.HistoryStore.
func (s *Store) DayStatus(ctx context.Context, itemID string, day calendar.Day) (model.DayStatus, error) {
	var status model.DayStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM completions WHERE item_id = ? AND day = ?),
			EXISTS (SELECT 1 FROM skips WHERE item_id = ? AND day = ?)
	`, itemID, int64(day), itemID, int64(day)).Scan(&status.Completed, &status.Skipped)
	if err != nil {
		return model.DayStatus{}, fmt.Errorf("day status %s: %w", itemID, err)
	}
	return status, nil
}

// WriteCompletion inserts a completion entry.
// Uses ON CONFLICT DO NOTHING for idempotency: a second completion on the
// same day is ignored, and a completion on a skipped day is rejected by
// trigger. Both report false without error.
func (s *Store) WriteCompletion(ctx context.Context, e model.CompletionEntry) (bool, error) {
	return s.writeEntry(ctx, "completions", e.ID, e.ItemID, e.Day, e.Reason, formatTime(e.CreatedAt))
}

// WriteSkip inserts a skip entry with the same rules as WriteCompletion.
func (s *Store) WriteSkip(ctx context.Context, e model.SkipEntry) (bool, error) {
	return s.writeEntry(ctx, "skips", e.ID, e.ItemID, e.Day, e.Reason, formatTime(e.CreatedAt))
}

func (s *Store) writeEntry(ctx context.Context, table, id, itemID string, day calendar.Day, reason, createdAt string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, item_id, day, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, id, itemID, int64(day), reason, createdAt)
	if isTriggerAbort(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("write %s %s: %w", table, itemID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write %s %s: rows affected: %w", table, itemID, err)
	}
	return n > 0, nil
}

// ReadHistory returns all completions and skips of itemID ordered by day.
// Implements streak.HistoryStore.
//
// Returns empty slices (not nil) if no records exist.
func (s *Store) ReadHistory(ctx context.Context, itemID string) ([]model.CompletionEntry, []model.SkipEntry, error) {
	completions, err := s.readEntries(ctx, "completions", itemID)
	if err != nil {
		return nil, nil, err
	}
	skipRows, err := s.readEntries(ctx, "skips", itemID)
	if err != nil {
		return nil, nil, err
	}
	skips := make([]model.SkipEntry, len(skipRows))
	for i, c := range skipRows {
		skips[i] = model.SkipEntry(c)
	}
	return completions, skips, nil
}

func (s *Store) readEntries(ctx context.Context, table, itemID string) ([]model.CompletionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, day, reason, created_at
		FROM `+table+`
		WHERE item_id = ?
		ORDER BY day ASC, id COLLATE BINARY ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	entries := []model.CompletionEntry{}
	for rows.Next() {
		var (
			e         model.CompletionEntry
			day       int64
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &day, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		e.Day = calendar.Day(day)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return entries, nil
}
