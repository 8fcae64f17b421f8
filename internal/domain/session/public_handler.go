package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

const fillSessionKey = "fill_session_id"

// PublicHandler serves the anonymous fill flow. The token in the path is
// the only credential and also selects the tenant.
type PublicHandler struct {
	h    *Handler
	bind func(ctx context.Context, tenantID string) (context.Context, func(), error)
}

func NewPublicHandler(h *Handler, pool *pgxpool.Pool) *PublicHandler {
	return &PublicHandler{
		h: h,
		bind: func(ctx context.Context, tenantID string) (context.Context, func(), error) {
			return db.BindTenant(ctx, pool, tenantID)
		},
	}
}

// RegisterRoutes mounts the fill flow under g, which must not carry
// authentication or header-based tenant middleware.
func (p *PublicHandler) RegisterRoutes(g *echo.Group) {
	fill := g.Group("/public/fill/:token", p.TokenMiddleware)
	fill.GET("", p.GetState)
	fill.POST("/next", p.NextQuestion)
	fill.POST("/answers", p.SubmitAnswers)
	fill.POST("/sign", p.Sign)
}

// TokenMiddleware resolves the fill token, binds its tenant schema and
// stores the session id for the handlers.
func (p *PublicHandler) TokenMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Param("token")
		ctx := c.Request().Context()

		ref, err := p.h.svc.ResolveFillToken(ctx, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorBody(http.StatusNotFound, "invalid_fill_token", "fill link is invalid or expired")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		ctx, release, err := p.bind(ctx, ref.TenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", ref.TenantID).Msg("failed to bind tenant for fill token")
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
		}
		defer release()

		sess, err := p.h.svc.SessionForToken(ctx, ref, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorBody(http.StatusNotFound, "invalid_fill_token", "fill link is invalid or expired")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		c.Set("tenant_id", ref.TenantID)
		c.Set(fillSessionKey, sess.ID)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func fillSessionID(c echo.Context) (uuid.UUID, error) {
	id, ok := c.Get(fillSessionKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, errorBody(http.StatusNotFound, "invalid_fill_token", "fill link is invalid or expired")
	}
	return id, nil
}

func (p *PublicHandler) GetState(c echo.Context) error {
	id, err := fillSessionID(c)
	if err != nil {
		return err
	}
	return p.h.view(c, id)
}

func (p *PublicHandler) NextQuestion(c echo.Context) error {
	id, err := fillSessionID(c)
	if err != nil {
		return err
	}
	return p.h.next(c, id)
}

func (p *PublicHandler) SubmitAnswers(c echo.Context) error {
	id, err := fillSessionID(c)
	if err != nil {
		return err
	}
	return p.h.submit(c, id)
}

func (p *PublicHandler) Sign(c echo.Context) error {
	id, err := fillSessionID(c)
	if err != nil {
		return err
	}
	return p.h.sign(c, id)
}
