package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stakeproof/internal/domain"
)

type EventPayload map[string]any

// Log is an append-only, id-ordered event stream.
type Log interface {
	Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error
	// After returns up to limit events with id greater than cursor, oldest first.
	After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error)
	Latest(ctx context.Context) (int64, error)
}

func encode(payload EventPayload) (string, error) {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	return string(data), nil
}

// Writer stores events in the SQLite events table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	data, err := encode(payload)
	if err != nil {
		return err
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, data)
	return err
}

func (w Writer) After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts string
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (w Writer) Latest(ctx context.Context) (int64, error) {
	var id int64
	if err := w.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Memory keeps events in process memory.
type Memory struct {
	Now func() time.Time

	mu     sync.Mutex
	events []domain.Event
}

func (m *Memory) Append(_ context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, domain.Event{
		ID:         int64(len(m.events) + 1),
		TS:         now().UTC(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    data,
	})
	return nil
}

func (m *Memory) After(_ context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= int64(len(m.events)) {
		return nil, nil
	}
	tail := m.events[cursor:]
	if len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]domain.Event(nil), tail...), nil
}

func (m *Memory) Latest(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}
