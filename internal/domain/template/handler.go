package template

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
	"github.com/anamnesis/anamnesis/internal/platform/auth"
	"github.com/anamnesis/anamnesis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePractitioner, auth.RoleAssistant))
	readGroup.GET("/templates", h.ListTemplates)
	readGroup.GET("/templates/:id", h.GetTemplate)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePractitioner))
	writeGroup.POST("/templates", h.CreateTemplate)
	writeGroup.PUT("/templates/:id", h.UpdateTemplate)
}

type templateRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	SchemaJSON  json.RawMessage `json:"schemaJson"`
}

func (r templateRequest) toTemplate() *Template {
	return &Template{Name: r.Name, Description: r.Description, SchemaJSON: r.SchemaJSON}
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var req templateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t := req.toTemplate()
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		t.CreatedBy = &uid
	}
	if err := h.svc.CreateTemplate(c.Request().Context(), t); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req templateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t := req.toTemplate()
	t.ID = id
	if err := h.svc.UpdateTemplate(c.Request().Context(), t); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTemplates(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{
			"code": "template_not_found", "message": err.Error(),
		})
	case errors.Is(err, ErrInvalidTemplate), errors.Is(err, questionnaire.ErrInvalidSchema):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
			"code": "invalid_schema", "message": err.Error(),
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
