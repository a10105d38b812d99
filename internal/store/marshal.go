package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/recurrence"
)

// timeLayout stores instants as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDay(d *calendar.Day) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func scanNullDay(n sql.NullInt64) *calendar.Day {
	if !n.Valid {
		return nil
	}
	d := calendar.Day(n.Int64)
	return &d
}

// marshalRule converts a rule to canonical JSON TEXT, NULL for no rule.
func marshalRule(r *recurrence.Rule) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := model.MarshalCanonical(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal rule: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalRule parses canonical JSON TEXT into a validated rule.
func unmarshalRule(ns sql.NullString) (*recurrence.Rule, error) {
	if !ns.Valid {
		return nil, nil
	}
	var r recurrence.Rule
	if err := json.Unmarshal([]byte(ns.String), &r); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	return &r, nil
}

func nullReminder(r *model.Reminder) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(r.Minutes), Valid: true}
}

func scanNullReminder(n sql.NullInt64) *model.Reminder {
	if !n.Valid {
		return nil
	}
	return &model.Reminder{Minutes: int(n.Int64)}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
