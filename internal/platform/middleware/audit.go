package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/platform/auth"
)

// AuditEntry records who touched which questionnaire resource.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	TenantID     string
	ResourceType string
	ResourceID   string
	Action       string
	Public       bool
	IPAddress    string
	Method       string
	Path         string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries in addition to the structured log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every access to templates, sessions and fill links after the
// handler has run, so the entry carries the final status.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			entry := buildAuditEntry(c, status)
			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Bool("public", entry.Public).
				Str("method", entry.Method).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("questionnaire_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, status int) AuditEntry {
	req := c.Request()
	ctx := req.Context()

	entry := AuditEntry{
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		IPAddress:  c.RealIP(),
		Method:     req.Method,
		Path:       req.URL.Path,
		Timestamp:  time.Now().UTC(),
		StatusCode: status,
	}
	entry.TenantID, _ = c.Get("tenant_id").(string)
	entry.RequestID, _ = c.Get("request_id").(string)
	entry.ResourceType, entry.Action = classify(req.Method, req.URL.Path)

	// Public fill links never expose the token in logs.
	if strings.Contains(req.URL.Path, "/public/fill/") {
		entry.Public = true
		entry.ResourceType = "session"
		switch id := c.Get("fill_session_id").(type) {
		case fmt.Stringer:
			entry.ResourceID = id.String()
		case string:
			entry.ResourceID = id
		}
		return entry
	}
	entry.ResourceID = c.Param("id")
	return entry
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/templates") ||
		strings.HasPrefix(path, "/api/v1/sessions") ||
		strings.HasPrefix(path, "/api/v1/public/fill/")
}

// classify maps a request to its resource type and audit action.
//
//	GET  /api/v1/sessions/:id           -> session, read
//	POST /api/v1/sessions/:id/answers   -> session, submit
//	POST /api/v1/public/fill/:t/sign    -> session, sign
func classify(method, path string) (resource, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource = strings.TrimSuffix(segments[0], "s")

	last := segments[len(segments)-1]
	switch {
	case method == http.MethodPost && last == "answers":
		return resource, "submit"
	case method == http.MethodPost && last == "sign":
		return resource, "sign"
	case method == http.MethodPost && last == "fill-link":
		return resource, "share"
	case last == "next":
		return resource, "evaluate"
	case last == "submissions":
		return resource, "read_history"
	}

	switch method {
	case http.MethodPost:
		return resource, "create"
	case http.MethodPut, http.MethodPatch:
		return resource, "update"
	case http.MethodDelete:
		return resource, "delete"
	default:
		return resource, "read"
	}
}
