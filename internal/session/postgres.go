package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger stores entries in the session_tokens table.
func NewPostgresLedger(pool *pgxpool.Pool) Ledger {
	return &postgresLedger{pool: pool}
}

func (r *postgresLedger) Record(ctx context.Context, token string, expiresAt time.Time) error {
	const q = `
INSERT INTO session_tokens (token, expires_at)
VALUES ($1, $2)
ON CONFLICT (token) DO UPDATE
SET expires_at = EXCLUDED.expires_at,
    last_seen_at = now()
`
	_, err := r.pool.Exec(ctx, q, token, expiresAt)
	return err
}

func (r *postgresLedger) Touch(ctx context.Context, token string, seenAt time.Time) error {
	const q = `
INSERT INTO session_tokens (token, last_seen_at, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (token) DO UPDATE
SET last_seen_at = EXCLUDED.last_seen_at
`
	_, err := r.pool.Exec(ctx, q, token, seenAt, seenAt.Add(TTL))
	return err
}

func (r *postgresLedger) Purge(ctx context.Context, before time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM session_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *postgresLedger) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
