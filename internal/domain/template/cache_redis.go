package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

// DefaultCacheTTL bounds how long a template stays cached after its last read.
const DefaultCacheTTL = 10 * time.Minute

// CachedRepository serves GetByID from Redis and falls back to the wrapped
// repository. Cache failures are logged and never fail the call.
type CachedRepository struct {
	Repository
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedRepository(inner Repository, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedRepository{
		Repository: inner,
		client:     client,
		ttl:        ttl,
		logger:     logger.With().Str("component", "template_cache").Logger(),
	}
}

func (r *CachedRepository) key(ctx context.Context, id uuid.UUID) string {
	return fmt.Sprintf("tpl:%s:%s", db.TenantFromContext(ctx), id)
}

func (r *CachedRepository) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	data, err := r.client.Get(ctx, r.key(ctx, id)).Bytes()
	switch {
	case err == nil:
		var t Template
		if jerr := json.Unmarshal(data, &t); jerr == nil {
			return &t, nil
		}
		r.logger.Warn().Str("template_id", id.String()).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		r.logger.Warn().Err(err).Str("template_id", id.String()).Msg("template cache read failed")
	}

	t, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, t)
	return t, nil
}

func (r *CachedRepository) Create(ctx context.Context, t *Template) error {
	if err := r.Repository.Create(ctx, t); err != nil {
		return err
	}
	r.store(ctx, t)
	return nil
}

func (r *CachedRepository) Update(ctx context.Context, t *Template) error {
	if err := r.Repository.Update(ctx, t); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(ctx, t.ID)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("template_id", t.ID.String()).Msg("template cache invalidation failed")
	}
	return nil
}

func (r *CachedRepository) store(ctx context.Context, t *Template) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(ctx, t.ID), data, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("template_id", t.ID.String()).Msg("template cache write failed")
	}
}
