package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

func newTestPublicHandler(t *testing.T) (*PublicHandler, *testEnv, *echo.Echo) {
	t.Helper()
	h, env, e := newTestHandler(t)
	p := &PublicHandler{
		h: h,
		bind: func(ctx context.Context, tenantID string) (context.Context, func(), error) {
			return db.WithTenant(ctx, tenantID), func() {}, nil
		},
	}
	return p, env, e
}

// serve routes a request through the public group so the token middleware runs.
func serve(e *echo.Echo, p *PublicHandler, method, path, body string) *httptest.ResponseRecorder {
	p.RegisterRoutes(e.Group("/api/v1"))
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPublicFlow(t *testing.T) {
	p, env, _ := newTestPublicHandler(t)
	sess := env.create(t)
	link, err := env.svc.GenerateFillLink(env.ctx, sess.ID)
	if err != nil {
		t.Fatalf("fill link: %v", err)
	}
	base := "/api/v1/public/fill/" + link.Token

	rec := serve(echo.New(), p, http.MethodGet, base, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for state, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), sess.ID.String()) {
		t.Errorf("expected session in body, got %s", rec.Body.String())
	}

	rec = serve(echo.New(), p, http.MethodPost, base+"/next", `{"answers":{"stress_level":1}}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"smoker"`) {
		t.Errorf("expected next question smoker, got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(echo.New(), p, http.MethodPost, base+"/answers", `{"answers":{"stress_level":1,"smoker":"Não"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for submit, got %d: %s", rec.Code, rec.Body.String())
	}

	// A session completed by its answers can still be signed through the link.
	rec = serve(echo.New(), p, http.MethodPost, base+"/sign", `{"signatureName":"Maria"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for sign, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(echo.New(), p, http.MethodGet, base, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected token to stop working after signing, got %d", rec.Code)
	}
}

func TestPublicFlow_TenantFromToken(t *testing.T) {
	p, env, _ := newTestPublicHandler(t)
	sess := env.create(t)
	link, _ := env.svc.GenerateFillLink(env.ctx, sess.ID)

	var boundTenant string
	inner := p.bind
	p.bind = func(ctx context.Context, tenantID string) (context.Context, func(), error) {
		boundTenant = tenantID
		return inner(ctx, tenantID)
	}

	e := echo.New()
	p.RegisterRoutes(e.Group("/api/v1"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/fill/"+link.Token, nil)
	req.Header.Set("X-Tenant-ID", "intruder")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if boundTenant != "acme" {
		t.Errorf("expected tenant acme from token, got %q", boundTenant)
	}
}

func TestPublicFlow_UnknownToken(t *testing.T) {
	p, _, _ := newTestPublicHandler(t)
	rec := serve(echo.New(), p, http.MethodGet, "/api/v1/public/fill/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPublicFlow_BindFailure(t *testing.T) {
	p, env, _ := newTestPublicHandler(t)
	sess := env.create(t)
	link, _ := env.svc.GenerateFillLink(env.ctx, sess.ID)
	p.bind = func(ctx context.Context, tenantID string) (context.Context, func(), error) {
		return ctx, nil, errors.New("pool exhausted")
	}

	rec := serve(echo.New(), p, http.MethodGet, "/api/v1/public/fill/"+link.Token, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestPublicFlow_ReplacedToken(t *testing.T) {
	p, env, _ := newTestPublicHandler(t)
	sess := env.create(t)
	old, _ := env.svc.GenerateFillLink(env.ctx, sess.ID)
	_, _ = env.svc.GenerateFillLink(env.ctx, sess.ID)

	rec := serve(echo.New(), p, http.MethodGet, "/api/v1/public/fill/"+old.Token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a replaced token, got %d", rec.Code)
	}
}
