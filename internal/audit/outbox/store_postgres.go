package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	txcontext "steward/pkg/platform/tx"
)

// Row is one unpublished outbox entry.
type Row struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// PostgresStore claims unpublished rows from the outbox table written by the
// postgres docstore.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: 30 * time.Second}
}

// Claim locks up to limit unpublished rows, oldest first, and hands them to
// fn. Rows are marked published only when fn succeeds; otherwise the locks
// are released and the rows are retried on the next claim. Concurrent
// relays skip rows another relay holds.
func (s *PostgresStore) Claim(ctx context.Context, limit int, fn func(ctx context.Context, rows []Row) error) (int, error) {
	var claimed int
	err := txcontext.Run(ctx, s.db, s.timeout, func(ctx context.Context) error {
		tx, _ := txcontext.From(ctx)

		rows, err := tx.QueryContext(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		batch, err := scanRows(rows)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(ctx, batch); err != nil {
			return err
		}

		ids := make([]string, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET published_at = now() WHERE id = ANY($1::uuid[])`,
			pq.Array(ids)); err != nil {
			return fmt.Errorf("mark outbox rows published: %w", err)
		}
		claimed = len(batch)
		return nil
	})
	return claimed, err
}

// Pending counts unpublished rows.
func (s *PostgresStore) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox rows: %w", err)
	}
	return n, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}
