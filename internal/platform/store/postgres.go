package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Postgres backs the Store contract with a single jsonb documents table.
// Change notifications ride LISTEN/NOTIFY: every committed mutation notifies
// the collection's channel and each subscriber re-reads the full collection,
// so deliveries are always complete snapshots.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// transactRetries bounds the retry loop around serialization and deadlock
// failures inside Transact.
const transactRetries = 3

// NewPostgres wraps an existing pgx pool.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// NewPool connects a pgx pool and verifies it with a ping.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the documents table if it does not exist. seq records
// store insertion order, which is the tie-break order snapshots preserve.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection text NOT NULL,
			id         uuid NOT NULL,
			seq        bigserial,
			fields     jsonb NOT NULL,
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return unavailable("migrate documents", err)
	}
	return nil
}

func channelName(collection string) string {
	return "wardsync_" + collection
}

func (p *Postgres) Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("acquire listen connection", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`LISTEN %q`, channelName(collection))); err != nil {
		conn.Release()
		return nil, unavailable("listen "+collection, err)
	}

	initial, err := p.ListAll(ctx, collection)
	if err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan Snapshot, 8)
	ch <- initial

	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				if ctx.Err() == nil {
					p.logger.Error().Err(err).Str("collection", collection).Msg("subscription lost")
				}
				return
			}
			snap, err := p.ListAll(ctx, collection)
			if err != nil {
				p.logger.Error().Err(err).Str("collection", collection).Msg("snapshot refresh failed")
				return
			}
			select {
			case ch <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (p *Postgres) ListAll(ctx context.Context, collection string) (Snapshot, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, fields FROM documents WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, unavailable("list "+collection, err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var id uuid.UUID
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, unavailable("scan "+collection, err)
		}
		var fields Fields
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
		}
		snap = append(snap, Document{ID: id.String(), Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list "+collection, err)
	}
	return snap, nil
}

func (p *Postgres) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := uuid.New()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)`,
		collection, id, raw)
	if err != nil {
		return "", unavailable("add to "+collection, err)
	}
	if err := p.notify(ctx, collection, id.String()); err != nil {
		return "", err
	}
	return id.String(), nil
}

func (p *Postgres) UpdateFields(ctx context.Context, collection, id string, partial Fields) error {
	raw, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("encode partial fields: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET fields = fields || $3::jsonb
		WHERE collection = $1 AND id = $2`,
		collection, id, raw)
	if err != nil {
		return unavailable("update "+collection, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return p.notify(ctx, collection, id)
}

func (p *Postgres) Transact(ctx context.Context, collection, id string, fn UpdateFn) error {
	var lastErr error
	for attempt := 0; attempt < transactRetries; attempt++ {
		err := p.transactOnce(ctx, collection, id, fn)
		if err == nil {
			return p.notify(ctx, collection, id)
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return unavailable("transact "+collection, lastErr)
}

func (p *Postgres) transactOnce(ctx context.Context, collection, id string, fn UpdateFn) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin transact", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("transact %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return unavailable("lock document", err)
	}

	var current Fields
	if err := json.Unmarshal(raw, &current); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}

	updated, err := fn(current)
	if err != nil {
		return err
	}

	out, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET fields = $3 WHERE collection = $1 AND id = $2`,
		collection, id, out); err != nil {
		return unavailable("write document", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit transact", err)
	}
	return nil
}

func (p *Postgres) notify(ctx context.Context, collection, id string) error {
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channelName(collection), id); err != nil {
		return unavailable("notify "+collection, err)
	}
	return nil
}

// retryable reports whether a transact attempt failed with a serialization
// or deadlock error that a fresh attempt can resolve.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, cause))
}
