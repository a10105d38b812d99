package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
)

const pendingColumns = `id, source_item_id, scheduled_date, occurrence_index, snapshot, created_at`

// InsertPending stores a pending recurrence. Implements materialize.Store.
//
// Uses ON CONFLICT(source_item_id, occurrence_index) DO NOTHING. If a record
// for the same occurrence already exists, pending or already materialized, it
// is returned with inserted=false.
func (s *Store) InsertPending(ctx context.Context, p model.PendingRecurrence) (stored model.PendingRecurrence, inserted bool, err error) {
	snapshot, err := model.MarshalSnapshot(p.Snapshot)
	if err != nil {
		return model.PendingRecurrence{}, false, fmt.Errorf("insert pending: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO pending_recurrences (`+pendingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_item_id, occurrence_index) DO NOTHING
		`,
			p.ID,
			nullString(p.SourceItemID),
			int64(p.ScheduledDate),
			p.OccurrenceIndex,
			snapshot,
			formatTime(p.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			inserted = true
			stored = p
			return nil
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+pendingColumns+` FROM pending_recurrences
			WHERE source_item_id = ? AND occurrence_index = ?
		`, p.SourceItemID, p.OccurrenceIndex)
		stored, err = scanPending(row)
		if err != nil {
			return fmt.Errorf("select existing: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.PendingRecurrence{}, false, fmt.Errorf("insert pending %s: %w", p.SourceItemID, err)
	}
	return stored, inserted, nil
}

// ReadyPending returns pending records scheduled on or before today,
// ordered by scheduled date then id. Implements materialize.Store.
func (s *Store) ReadyPending(ctx context.Context, today calendar.Day) ([]model.PendingRecurrence, error) {
	return s.queryPending(ctx, `
		SELECT `+pendingColumns+` FROM pending_recurrences
		WHERE scheduled_date <= ? AND materialized_at IS NULL
		ORDER BY scheduled_date ASC, id COLLATE BINARY ASC
	`, int64(today))
}

// ListPending returns every record not yet materialized.
func (s *Store) ListPending(ctx context.Context) ([]model.PendingRecurrence, error) {
	return s.queryPending(ctx, `
		SELECT `+pendingColumns+` FROM pending_recurrences
		WHERE materialized_at IS NULL
		ORDER BY scheduled_date ASC, id COLLATE BINARY ASC
	`)
}

func (s *Store) queryPending(ctx context.Context, query string, args ...any) ([]model.PendingRecurrence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	out := []model.PendingRecurrence{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return out, nil
}

func scanPending(row rowScanner) (model.PendingRecurrence, error) {
	var (
		p         model.PendingRecurrence
		source    sql.NullString
		scheduled int64
		snapshot  string
		createdAt string
	)
	if err := row.Scan(&p.ID, &source, &scheduled, &p.OccurrenceIndex, &snapshot, &createdAt); err != nil {
		return model.PendingRecurrence{}, fmt.Errorf("scan pending: %w", err)
	}
	p.SourceItemID = source.String
	p.ScheduledDate = calendar.Day(scheduled)

	var err error
	if p.Snapshot, err = model.UnmarshalSnapshot(snapshot); err != nil {
		return model.PendingRecurrence{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.PendingRecurrence{}, err
	}
	return p, nil
}

// MaterializePending marks the pending record materialized and inserts item
// in one transaction. Implements materialize.Store.
//
// The record stays behind as a tombstone, so InsertPending cannot schedule
// the same occurrence again. Returns false without writing anything if the
// record is missing or already materialized, which makes repeated sweeps
// no-ops.
func (s *Store) MaterializePending(ctx context.Context, pendingID string, item model.Item) (bool, error) {
	var done bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE pending_recurrences SET materialized_at = ?
			WHERE id = ? AND materialized_at IS NULL
		`, formatTime(item.CreatedAt), pendingID)
		if err != nil {
			return fmt.Errorf("mark pending: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark pending: rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		// A parent deleted after the snapshot was taken becomes a top-level item.
		if item.ParentID != "" {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM items WHERE id = ?)`, item.ParentID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("lookup parent: %w", err)
			}
			if !exists {
				item.ParentID = ""
			}
		}

		inserted, err := insertItem(ctx, tx, item)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("item %s already exists", item.ID)
		}
		done = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("materialize pending %s: %w", pendingID, err)
	}
	return done, nil
}
