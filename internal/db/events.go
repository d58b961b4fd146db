package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one audit trail entry tied to a change id.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	ChangeID  *string
	Message   string
	JSON      string
}

// RecordChangeEvent inserts an audit event row.
func (s *Store) RecordChangeEvent(ctx context.Context, kind, changeID, msg, jsonPayload string) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if kind == "" {
		return errors.New("event kind is required")
	}
	now := formatTime(time.Now().UTC())
	var change sql.NullString
	if changeID != "" {
		change = sql.NullString{Valid: true, String: changeID}
	}
	var msgVal interface{}
	if msg != "" {
		msgVal = msg
	}
	var jsonVal interface{}
	if jsonPayload != "" {
		jsonVal = jsonPayload
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO events (ts, kind, change_id, msg, json) VALUES (?, ?, ?, ?, ?)`,
		now, kind, change, msgVal, jsonVal)
	if err != nil {
		return fmt.Errorf("insert event %q: %w", kind, err)
	}
	return nil
}

// ListEventsByChange returns the audit trail for a change id in insertion
// order, capped at limit.
func (s *Store) ListEventsByChange(ctx context.Context, changeID string, limit int) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	changeID = strings.TrimSpace(changeID)
	if changeID == "" {
		return nil, errors.New("change id is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, kind, change_id, msg, json
		FROM events WHERE change_id = ? ORDER BY id ASC LIMIT ?`, changeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func scanEventRow(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var ev Event
	var ts string
	var kind string
	var changeID sql.NullString
	var msg sql.NullString
	var jsonPayload sql.NullString
	if err := scanner.Scan(&ev.ID, &ts, &kind, &changeID, &msg, &jsonPayload); err != nil {
		return Event{}, err
	}
	if ts != "" {
		parsed, err := parseTime(ts)
		if err != nil {
			return Event{}, fmt.Errorf("parse event ts: %w", err)
		}
		ev.Timestamp = parsed
	}
	ev.Kind = kind
	if changeID.Valid {
		value := changeID.String
		ev.ChangeID = &value
	}
	if msg.Valid {
		ev.Message = msg.String
	}
	if jsonPayload.Valid {
		ev.JSON = jsonPayload.String
	}
	return ev, nil
}
