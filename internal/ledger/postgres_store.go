package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearminter/internal/mint"
)

// PostgresStore persists receipts in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS mint_receipts (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL,
    title TEXT NOT NULL,
    token_id TEXT NOT NULL DEFAULT '',
    transaction_hash TEXT NOT NULL DEFAULT '',
    media_url TEXT NOT NULL DEFAULT '',
    reference_url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mint_receipts_created_at_idx ON mint_receipts (created_at DESC);
`

const selectColumns = `run_id, status, kind, error, account_id, title, token_id, transaction_hash, media_url, reference_url, created_at`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, runID string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM mint_receipts WHERE run_id = $1`, runID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := p.pool.Query(ctx, `SELECT `+selectColumns+` FROM mint_receipts ORDER BY created_at DESC, run_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.RunID == "" {
		return errors.New("record has no run id")
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO mint_receipts (run_id, status, kind, error, account_id, title, token_id, transaction_hash, media_url, reference_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status,
    kind = EXCLUDED.kind,
    error = EXCLUDED.error,
    token_id = EXCLUDED.token_id,
    transaction_hash = EXCLUDED.transaction_hash,
    media_url = EXCLUDED.media_url,
    reference_url = EXCLUDED.reference_url,
    created_at = EXCLUDED.created_at
`, record.RunID, string(record.Status), string(record.Kind), record.Error, record.AccountID, record.Title,
		record.TokenID, record.TransactionHash, record.MediaURL, record.ReferenceURL, record.CreatedAt)
	return err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec    Record
		status string
		kind   string
	)
	if err := row.Scan(&rec.RunID, &status, &kind, &rec.Error, &rec.AccountID, &rec.Title,
		&rec.TokenID, &rec.TransactionHash, &rec.MediaURL, &rec.ReferenceURL, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Kind = mint.Kind(kind)
	return &rec, nil
}
