package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
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

const sessionCols = `id, tenant_id, template_id, template_version, subject_id, status, fill_token,
	signature_name, signature_agreed_at, completed_at, created_by, created_at, updated_at`

func (r *repoPG) scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.TenantID, &s.TemplateID, &s.TemplateVersion, &s.SubjectID, &s.Status, &s.FillToken,
		&s.SignatureName, &s.SignatureAgreedAt, &s.CompletedAt, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO response_session (id, tenant_id, template_id, template_version, subject_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		s.ID, s.TenantID, s.TemplateID, s.TemplateVersion, s.SubjectID, s.Status, s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM response_session WHERE id = $1`, id))
}

func (r *repoPG) Lock(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM response_session WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Session, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR template_id = $1) AND ($2 = '' OR status = $2)`
	args := []interface{}{filter.TemplateID, string(filter.Status)}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM response_session`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sessionCols+` FROM response_session`+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE response_session SET status = 'completed', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`, id, at)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrCompleted
	}
	return nil
}

func (r *repoPG) SetSignature(ctx context.Context, id uuid.UUID, name string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE response_session SET signature_name = $2, signature_agreed_at = $3, status = 'completed',
			completed_at = COALESCE(completed_at, $3), fill_token = NULL, updated_at = NOW()
		WHERE id = $1`, id, name, at)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM shared.fill_token WHERE tenant_id = $1 AND session_id = $2`, db.TenantFromContext(ctx), id); err != nil {
		return fmt.Errorf("revoke fill token: %w", err)
	}
	return nil
}

func (r *repoPG) SetFillToken(ctx context.Context, tenantID string, id uuid.UUID, token string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE response_session SET fill_token = $2, updated_at = NOW() WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("set fill token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM shared.fill_token WHERE tenant_id = $1 AND session_id = $2`, tenantID, id); err != nil {
		return fmt.Errorf("replace fill token: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO shared.fill_token (token, tenant_id, session_id) VALUES ($1, $2, $3)`,
		token, tenantID, id); err != nil {
		return fmt.Errorf("index fill token: %w", err)
	}
	return nil
}

// FindByFillToken reads the shared index directly from the pool; the
// caller has no tenant yet.
func (r *repoPG) FindByFillToken(ctx context.Context, token string) (*TokenRef, error) {
	var ref TokenRef
	err := r.pool.QueryRow(ctx,
		`SELECT tenant_id, session_id FROM shared.fill_token WHERE token = $1`, token,
	).Scan(&ref.TenantID, &ref.SessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *repoPG) AppendSubmission(ctx context.Context, sub *Submission) error {
	sub.ID = uuid.New()
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO answer_submission (id, session_id, answers_json)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		sub.ID, sub.SessionID, answers,
	).Scan(&sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *repoPG) scanSubmission(row pgx.Row) (*Submission, error) {
	var sub Submission
	var answers []byte
	if err := row.Scan(&sub.ID, &sub.SessionID, &answers, &sub.CreatedAt); err != nil {
		return nil, err
	}
	m, err := questionnaire.ParseAnswers(answers)
	if err != nil {
		return nil, fmt.Errorf("decode stored answers: %w", err)
	}
	sub.Answers = m
	return &sub, nil
}

func (r *repoPG) LatestSubmission(ctx context.Context, sessionID uuid.UUID) (*Submission, error) {
	sub, err := r.scanSubmission(r.conn(ctx).QueryRow(ctx, `
		SELECT id, session_id, answers_json, created_at FROM answer_submission
		WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSubmission
	}
	return sub, err
}

func (r *repoPG) ListSubmissions(ctx context.Context, sessionID uuid.UUID) ([]*Submission, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, answers_json, created_at FROM answer_submission
		WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		sub, err := r.scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sub)
	}
	return items, rows.Err()
}
