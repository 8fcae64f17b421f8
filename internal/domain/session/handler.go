package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
	"github.com/anamnesis/anamnesis/internal/domain/template"
	"github.com/anamnesis/anamnesis/internal/platform/auth"
	"github.com/anamnesis/anamnesis/internal/platform/db"
	"github.com/anamnesis/anamnesis/internal/platform/idempotency"
	"github.com/anamnesis/anamnesis/pkg/pagination"
)

type Handler struct {
	svc   *Service
	guard *idempotency.Guard
}

// NewHandler creates the session handler. guard may be nil, in which case
// idempotency keys are ignored.
func NewHandler(svc *Service, guard *idempotency.Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePractitioner, auth.RoleAssistant))
	staff.GET("/sessions", h.ListSessions)
	staff.POST("/sessions", h.CreateSession)
	staff.GET("/sessions/:id", h.GetSession)
	staff.GET("/sessions/:id/next", h.GetNextQuestion)
	staff.POST("/sessions/:id/next", h.PostNextQuestion)
	staff.POST("/sessions/:id/answers", h.SubmitAnswers)

	clinical := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePractitioner))
	clinical.GET("/sessions/:id/submissions", h.ListSubmissions)
	clinical.POST("/sessions/:id/sign", h.SignSession)
	clinical.POST("/sessions/:id/fill-link", h.GenerateFillLink)
}

type createRequest struct {
	TemplateID uuid.UUID  `json:"templateId"`
	SubjectID  *uuid.UUID `json:"subjectId"`
}

type answersRequest struct {
	Answers json.RawMessage `json:"answers"`
}

type signRequest struct {
	SignatureName string `json:"signatureName"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TemplateID == uuid.Nil {
		return errorBody(http.StatusBadRequest, "invalid_request", "templateId is required")
	}
	var createdBy *string
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		createdBy = &uid
	}
	hash, err := idempotency.RequestHash(map[string]interface{}{
		"op": "create_session", "templateId": req.TemplateID, "subjectId": req.SubjectID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.guarded(c, hash, func(ctx context.Context) (int, interface{}, error) {
		sess, err := h.svc.Create(ctx, req.TemplateID, req.SubjectID, createdBy)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, sess, nil
	})
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.view(c, id)
}

func (h *Handler) view(c echo.Context, id uuid.UUID) error {
	v, err := h.svc.View(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListSessions(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{Status: Status(c.QueryParam("status"))}
	if tid := c.QueryParam("template_id"); tid != "" {
		id, err := uuid.Parse(tid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid template_id")
		}
		filter.TemplateID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) GetNextQuestion(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	decision, err := h.svc.NextQuestion(c.Request().Context(), id, nil)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (h *Handler) PostNextQuestion(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.next(c, id)
}

// next evaluates the caller's running answers, or the stored ones when the
// body carries none.
func (h *Handler) next(c echo.Context, id uuid.UUID) error {
	req, err := bindAnswers(c)
	if err != nil {
		return err
	}
	var answers questionnaire.AnswerMap
	if len(req.Answers) > 0 {
		if answers, err = questionnaire.ParseAnswers(req.Answers); err != nil {
			return mapError(err)
		}
	}
	decision, err := h.svc.NextQuestion(c.Request().Context(), id, answers)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (h *Handler) SubmitAnswers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.submit(c, id)
}

func (h *Handler) submit(c echo.Context, id uuid.UUID) error {
	req, err := bindAnswers(c)
	if err != nil {
		return err
	}
	answers, err := questionnaire.ParseAnswers(req.Answers)
	if err != nil {
		return mapError(err)
	}
	answersRaw := req.Answers
	if len(answersRaw) == 0 {
		answersRaw = json.RawMessage(`{}`)
	}
	hash, err := idempotency.RequestHash(map[string]interface{}{
		"op": "submit_answers", "sessionId": id, "answers": answersRaw,
	})
	if err != nil {
		return mapError(err)
	}
	return h.guarded(c, hash, func(ctx context.Context) (int, interface{}, error) {
		res, err := h.svc.Submit(ctx, id, answers)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, res, nil
	})
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	subs, err := h.svc.Submissions(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	if subs == nil {
		subs = []*Submission{}
	}
	return c.JSON(http.StatusOK, subs)
}

func (h *Handler) SignSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.sign(c, id)
}

func (h *Handler) sign(c echo.Context, id uuid.UUID) error {
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Sign(c.Request().Context(), id, req.SignatureName)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GenerateFillLink(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	link, err := h.svc.GenerateFillLink(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, link)
}

// guarded runs fn under the request's idempotency key when one is given.
func (h *Handler) guarded(c echo.Context, requestHash string, fn idempotency.Handler) error {
	ctx := c.Request().Context()
	key := idempotency.KeyFromRequest(c)
	if key == "" || h.guard == nil {
		status, body, err := fn(ctx)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(status, body)
	}
	res, err := h.guard.WithIdempotency(ctx, db.TenantFromContext(ctx), key, requestHash, fn)
	if err != nil {
		return mapError(err)
	}
	return idempotency.Respond(c, res)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// bindAnswers decodes an optional {"answers": {...}} body.
func bindAnswers(c echo.Context) (answersRequest, error) {
	var req answersRequest
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errorBody(http.StatusBadRequest, "invalid_answers", err.Error())
	}
	if string(req.Answers) == "null" {
		req.Answers = nil
	}
	return req, nil
}

func errorBody(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, map[string]string{"code": code, "message": message})
}

func mapError(err error) error {
	if he, ok := idempotency.HTTPError(err); ok {
		return he
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return errorBody(http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, template.ErrNotFound):
		return errorBody(http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, ErrCompleted):
		return errorBody(http.StatusConflict, "session_completed", err.Error())
	case errors.Is(err, ErrAlreadySigned):
		return errorBody(http.StatusConflict, "already_signed", err.Error())
	case errors.Is(err, questionnaire.ErrInvalidAnswers):
		return errorBody(http.StatusBadRequest, "invalid_answers", err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return errorBody(http.StatusBadRequest, "invalid_request", err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
