package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEvent = `
	INSERT INTO events (
		seq, event_id, event_type, position_id, pool, chain, token,
		price, fraction, stop_pct, level, reason, pnl, at_ms, payload
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, $13::numeric, $14, $15
	)
`

const selectEvents = `
	SELECT
		seq, event_id, event_type, position_id, pool, chain, token,
		price, fraction, stop_pct, level, reason, pnl::text, at_ms, payload
	FROM events
`

// Append adds one event. Returns ErrDuplicateKey if its seq or ID exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	return s.AppendBulk(ctx, []*domain.Event{e})
}

// AppendBulk adds events atomically. Fails entire batch on any duplicate.
func (s *EventStore) AppendBulk(ctx context.Context, events []*domain.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.EventID == "" || e.Seq <= 0 {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("events.append", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		var payload []byte
		if len(e.Payload) > 0 {
			payload = e.Payload
		}
		_, err := tx.Exec(ctx, insertEvent,
			e.Seq, e.EventID, string(e.Type), e.PositionID, string(e.Pool), string(e.Chain), e.Token,
			e.Price, e.Fraction, e.StopPct, e.Level, e.Reason, numeric(e.PnL), e.At, payload,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByPosition retrieves all events of one position, ordered by seq ASC.
func (s *EventStore) GetByPosition(ctx context.Context, positionID string) ([]*domain.Event, error) {
	return s.query(ctx, "events.by_position", selectEvents+` WHERE position_id = $1 ORDER BY seq ASC`, positionID)
}

// GetAll retrieves the whole log, ordered by seq ASC.
func (s *EventStore) GetAll(ctx context.Context) ([]*domain.Event, error) {
	return s.GetSince(ctx, 0)
}

// GetSince retrieves events with seq > seq, ordered by seq ASC.
func (s *EventStore) GetSince(ctx context.Context, seq int64) ([]*domain.Event, error) {
	return s.query(ctx, "events.since", selectEvents+` WHERE seq > $1 ORDER BY seq ASC`, seq)
}

// LastSeq returns the highest stored seq, or 0 for an empty log.
func (s *EventStore) LastSeq(ctx context.Context) (seq int64, err error) {
	start := time.Now()
	defer func() { observe("events.last_seq", start, err) }()

	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

func (s *EventStore) query(ctx context.Context, op, sql string, args ...any) (events []*domain.Event, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e                         domain.Event
		typ, pool, chain, pnlText string
	)
	err := row.Scan(
		&e.Seq, &e.EventID, &typ, &e.PositionID, &pool, &chain, &e.Token,
		&e.Price, &e.Fraction, &e.StopPct, &e.Level, &e.Reason, &pnlText, &e.At, &e.Payload,
	)
	if err != nil {
		return nil, err
	}

	e.Type = domain.EventType(typ)
	e.Pool = domain.PoolName(pool)
	e.Chain = domain.Chain(chain)
	if e.PnL, err = parseNumeric(pnlText); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var result []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
