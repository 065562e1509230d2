package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/types"
)

// RecordEvent appends one event to the log. Store implements events.Sink.
func (s *Store) RecordEvent(ctx context.Context, event *events.Event) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO events (id, kind, component, issue_id, severity, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Kind),
		event.Component,
		event.IssueID,
		event.Severity.String(),
		event.Message,
		string(dataJSON),
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (kind=%s, component=%s): %w", event.Kind, event.Component, err)
	}
	return nil
}

// EventFilter narrows GetEvents results. Zero values mean "any".
type EventFilter struct {
	Component string
	IssueID   string
	Kind      events.EventKind
	After     time.Time
	Limit     int
}

// GetEvents returns logged events matching the filter, most recent first.
func (s *Store) GetEvents(ctx context.Context, filter EventFilter) ([]*events.Event, error) {
	query := `
		SELECT id, kind, component, issue_id, severity, message, data, timestamp
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Component != "" {
		query += " AND component = ?"
		args = append(args, filter.Component)
	}
	if filter.IssueID != "" {
		query += " AND issue_id = ?"
		args = append(args, filter.IssueID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if !filter.After.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.After.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*events.Event, error) {
	var result []*events.Event
	for rows.Next() {
		var (
			event    events.Event
			kind     string
			severity string
			dataJSON string
		)
		if err := rows.Scan(&event.ID, &kind, &event.Component, &event.IssueID,
			&severity, &event.Message, &dataJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = events.EventKind(kind)

		sev, err := types.ParseSeverity(severity)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", event.ID, err)
		}
		event.Severity = sev

		if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data for %s: %w", event.ID, err)
		}
		result = append(result, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return result, nil
}
