package questionnaire

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the engine without any stored state.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes mounts the engine routes on an authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/questionnaire/next", h.NextQuestion)
}

type nextRequest struct {
	Schema  json.RawMessage `json:"schema"`
	Answers json.RawMessage `json:"answers"`
}

// NextQuestion evaluates {schema, answers} and returns the decision.
func (h *Handler) NextQuestion(c echo.Context) error {
	var req nextRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return badRequest("invalid_request", err.Error())
	}
	if len(req.Schema) == 0 {
		return badRequest("invalid_schema", "schema is required")
	}
	schema, err := ParseSchema(req.Schema)
	if err != nil {
		return badRequest("invalid_schema", err.Error())
	}
	answers, err := ParseAnswers(req.Answers)
	if err != nil {
		return badRequest("invalid_answers", err.Error())
	}
	if err := ValidateAnswers(schema, answers); err != nil {
		if errors.Is(err, ErrInvalidAnswers) {
			return badRequest("invalid_answers", err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, GetNextQuestion(schema, answers))
}

func badRequest(code, message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"code": code, "message": message})
}
