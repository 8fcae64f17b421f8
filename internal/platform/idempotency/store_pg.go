package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps records in the tenant schema's idempotency_record table.
// Inside a request it joins the transaction carried by the context, so the
// record commits together with the handler's writes.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGStore) Get(ctx context.Context, tenantID, key string) (*Record, error) {
	var rec Record
	var response []byte
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT tenant_id, key, request_hash, response, status_code, created_at, expires_at
		FROM idempotency_record
		WHERE tenant_id = $1 AND key = $2 AND expires_at > NOW()`,
		tenantID, key,
	).Scan(&rec.TenantID, &rec.Key, &rec.RequestHash, &response, &rec.StatusCode, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Response = response
	return &rec, nil
}

// Put inserts rec. An expired record holding the same key is replaced.
func (s *PGStore) Put(ctx context.Context, rec *Record) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO idempotency_record (tenant_id, key, request_hash, response, status_code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			response = EXCLUDED.response,
			status_code = EXCLUDED.status_code,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_record.expires_at <= NOW()`,
		rec.TenantID, rec.Key, rec.RequestHash, []byte(rec.Response), rec.StatusCode, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyExists
	}
	return nil
}

// DeleteExpired removes records past their expiry and returns how many.
func (s *PGStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM idempotency_record WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
