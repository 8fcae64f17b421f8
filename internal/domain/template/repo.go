package template

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("template not found")

type Repository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	// Update stores the new name, description and schema and bumps the version.
	Update(ctx context.Context, t *Template) error
	List(ctx context.Context, limit, offset int) ([]*Template, int, error)
	// GetVersion returns the template with the schema it had at version.
	GetVersion(ctx context.Context, id uuid.UUID, version int) (*Template, error)
}
