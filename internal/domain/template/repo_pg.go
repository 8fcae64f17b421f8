package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const templateCols = `id, tenant_id, name, description, version, schema_json, created_by, created_at, updated_at`

func (r *repoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var schema []byte
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Description, &t.Version, &schema,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.SchemaJSON = schema
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	return db.InTx(ctx, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO questionnaire_template (id, tenant_id, name, description, version, schema_json, created_by)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
			RETURNING version, created_at, updated_at`,
			t.ID, t.TenantID, t.Name, t.Description, []byte(t.SchemaJSON), t.CreatedBy,
		).Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return r.insertVersion(ctx, t)
	})
}

func (r *repoPG) insertVersion(ctx context.Context, t *Template) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO questionnaire_template_version (template_id, version, schema_json)
		VALUES ($1, $2, $3)`,
		t.ID, t.Version, []byte(t.SchemaJSON))
	if err != nil {
		return fmt.Errorf("insert template version: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	return r.scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM questionnaire_template WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, t *Template) error {
	return db.InTx(ctx, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE questionnaire_template
			SET name = $2, description = $3, schema_json = $4, version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING version, tenant_id, created_by, created_at, updated_at`,
			t.ID, t.Name, t.Description, []byte(t.SchemaJSON),
		).Scan(&t.Version, &t.TenantID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		return r.insertVersion(ctx, t)
	})
}

func (r *repoPG) GetVersion(ctx context.Context, id uuid.UUID, version int) (*Template, error) {
	return r.scanTemplate(r.conn(ctx).QueryRow(ctx, `
		SELECT t.id, t.tenant_id, t.name, t.description, v.version, v.schema_json,
			t.created_by, t.created_at, v.created_at
		FROM questionnaire_template t
		JOIN questionnaire_template_version v ON v.template_id = t.id
		WHERE t.id = $1 AND v.version = $2`, id, version))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire_template`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+templateCols+` FROM questionnaire_template ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
