package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/anamnesis/anamnesis/internal/domain/template"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrCompleted      = errors.New("session already completed")
	ErrAlreadySigned  = errors.New("session already signed")
	ErrInvalidRequest = errors.New("invalid session request")
	// ErrNoSubmission is returned by LatestSubmission for sessions without answers.
	ErrNoSubmission = errors.New("no submission")
)

// Repository persists sessions and their submissions. All methods run in
// the tenant schema bound to ctx except FindByFillToken.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// Lock loads the session and holds a row lock until the surrounding
	// transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Session, int, error)
	// Complete moves an in-progress session to completed. It returns
	// ErrCompleted when the session was already completed.
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	// SetSignature records the signer, completes the session and revokes its
	// fill token.
	SetSignature(ctx context.Context, id uuid.UUID, name string, at time.Time) error
	// SetFillToken replaces the session's fill token.
	SetFillToken(ctx context.Context, tenantID string, id uuid.UUID, token string) error
	// FindByFillToken resolves a token without a tenant in ctx.
	FindByFillToken(ctx context.Context, token string) (*TokenRef, error)
	AppendSubmission(ctx context.Context, sub *Submission) error
	LatestSubmission(ctx context.Context, sessionID uuid.UUID) (*Submission, error)
	ListSubmissions(ctx context.Context, sessionID uuid.UUID) ([]*Submission, error)
}

// TemplateSource supplies the schema a session is evaluated against.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*template.Template, error)
	GetTemplateVersion(ctx context.Context, id uuid.UUID, version int) (*template.Template, error)
}
