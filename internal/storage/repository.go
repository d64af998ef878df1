package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertEventSQL = `INSERT INTO alert_events (
        run_id,
        subject_id,
        kind,
        condition_key,
        summary,
        value,
        channels,
        raised_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentAlertEventsSQL = `SELECT
        id,
        run_id,
        subject_id,
        kind,
        condition_key,
        summary,
        value,
        channels,
        raised_at,
        created_at
    FROM alert_events
    WHERE subject_id = $1
    ORDER BY raised_at DESC
    LIMIT $2;`

	deleteAlertEventsBeforeSQL = `DELETE FROM alert_events WHERE raised_at < $1;`
)

// AlertEventStore defines operations for the alert journal.
type AlertEventStore interface {
	InsertAlertEvent(ctx context.Context, event AlertEvent) (AlertEvent, error)
	ListRecentAlertEvents(ctx context.Context, subjectID string, limit int) ([]AlertEvent, error)
	DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store persists alert events in PostgreSQL.
type Store struct {
	pool Querier
}

var _ AlertEventStore = (*Store)(nil)

// NewStore wires a pgx pool into a Store.
func NewStore(pool Querier) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (Querier, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies the schema files in fsys to the store's database.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return Migrate(ctx, pool, fsys)
}

// InsertAlertEvent records a raised condition and returns it with its id.
func (s *Store) InsertAlertEvent(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEvent{}, err
	}

	var value interface{}
	if event.Value != nil {
		value = event.Value.String()
	}
	channels := event.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertEventSQL,
		event.RunID,
		event.SubjectID,
		event.Kind,
		event.ConditionKey,
		event.Summary,
		value,
		channels,
		event.RaisedAt,
	)
	if scanErr := row.Scan(&event.ID, &event.CreatedAt); scanErr != nil {
		return AlertEvent{}, fmt.Errorf("insert alert event: %w", scanErr)
	}
	event.Channels = channels
	return event, nil
}

// ListRecentAlertEvents lists the newest events for a subject.
func (s *Store) ListRecentAlertEvents(ctx context.Context, subjectID string, limit int) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, subjectID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0, limit)
	for rows.Next() {
		event, scanErr := scanAlertEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteAlertEventsBefore prunes events raised before the cutoff.
func (s *Store) DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertEventsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alert events before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanAlertEvent(rows pgx.Rows) (AlertEvent, error) {
	var (
		event    AlertEvent
		valueStr sql.NullString
	)

	if err := rows.Scan(
		&event.ID,
		&event.RunID,
		&event.SubjectID,
		&event.Kind,
		&event.ConditionKey,
		&event.Summary,
		&valueStr,
		&event.Channels,
		&event.RaisedAt,
		&event.CreatedAt,
	); err != nil {
		return AlertEvent{}, err
	}

	if valueStr.Valid {
		value, err := decimal.NewFromString(valueStr.String)
		if err != nil {
			return AlertEvent{}, fmt.Errorf("parse alert value: %w", err)
		}
		event.Value = &value
	}
	return event, nil
}
