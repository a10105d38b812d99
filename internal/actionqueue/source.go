package actionqueue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Event is one inbound entry from a Source: either an action or a
// delivery mark.
type Event struct {
	Action    *Action
	Delivered string
}

// Source yields inbound events. Next returns io.EOF when the source is
// exhausted.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Consume feeds every event from src into q until src is exhausted or ctx
// is cancelled. Apply failures are logged and do not stop consumption;
// source errors do.
func (q *Queue) Consume(ctx context.Context, src Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}

		switch {
		case ev.Action != nil:
			err = q.EnqueueOrApply(ctx, *ev.Action)
		case ev.Delivered != "":
			err = q.MarkDelivered(ctx, ev.Delivered)
		default:
			continue
		}
		if err != nil {
			slog.Warn("inbound event failed", "error", err)
		}
	}
}

// eventLine is the wire form read by JSONLinesSource:
//
//	{"kind":"complete_task","id":"task-1"}
//	{"kind":"skip_habit","id":"habit-1","reason":"sick"}
//	{"kind":"delivered","id":"task-1"}
//
// "at" (RFC 3339) optionally overrides the arrival stamp.
type eventLine struct {
	Kind   string     `json:"kind"`
	ID     string     `json:"id"`
	Reason string     `json:"reason,omitempty"`
	At     *time.Time `json:"at,omitempty"`
}

// JSONLinesSource reads newline-delimited JSON events. Blank lines and
// lines starting with '#' are ignored.
type JSONLinesSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLinesSource reads events from r.
func NewJSONLinesSource(r io.Reader) *JSONLinesSource {
	return &JSONLinesSource{scanner: bufio.NewScanner(r)}
}

// Next returns the next event.
func (s *JSONLinesSource) Next(ctx context.Context) (Event, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		s.line++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		return s.decode(raw)
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read line %d: %w", s.line+1, err)
	}
	return Event{}, io.EOF
}

func (s *JSONLinesSource) decode(raw []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var l eventLine
	if err := dec.Decode(&l); err != nil {
		return Event{}, fmt.Errorf("line %d: %w", s.line, err)
	}
	if l.ID == "" {
		return Event{}, fmt.Errorf("line %d: missing id", s.line)
	}
	if l.Kind == kindDelivered {
		return Event{Delivered: l.ID}, nil
	}
	kind, err := ParseKind(l.Kind)
	if err != nil {
		return Event{}, fmt.Errorf("line %d: %w", s.line, err)
	}
	a := &Action{Kind: kind, EntityID: l.ID, Reason: l.Reason}
	if l.At != nil {
		a.ReceivedAt = *l.At
	}
	return Event{Action: a}, nil
}
