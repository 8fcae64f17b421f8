package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

var ErrInvalidTemplate = errors.New("invalid template")

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "template").Logger(),
	}
}

func (s *Service) validate(t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if len(t.SchemaJSON) == 0 {
		return fmt.Errorf("%w: schemaJson is required", ErrInvalidTemplate)
	}
	if _, err := t.Schema(); err != nil {
		return err
	}
	return nil
}

func (s *Service) CreateTemplate(ctx context.Context, t *Template) error {
	if err := s.validate(t); err != nil {
		return err
	}
	if t.TenantID == "" {
		t.TenantID = db.TenantFromContext(ctx)
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return err
	}
	s.logger.Info().
		Str("tenant_id", t.TenantID).
		Str("template_id", t.ID.String()).
		Msg("template created")
	return nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.repo.GetByID(ctx, id)
}

// GetTemplateVersion returns the template as it was published at version.
func (s *Service) GetTemplateVersion(ctx context.Context, id uuid.UUID, version int) (*Template, error) {
	return s.repo.GetVersion(ctx, id, version)
}

// UpdateTemplate replaces the template's name, description and schema.
// Sessions already started keep the version they were created with.
func (s *Service) UpdateTemplate(ctx context.Context, t *Template) error {
	if err := s.validate(t); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return err
	}
	s.logger.Info().
		Str("template_id", t.ID.String()).
		Int("version", t.Version).
		Msg("template updated")
	return nil
}

func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.repo.List(ctx, limit, offset)
}
