package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
	"github.com/anamnesis/anamnesis/internal/domain/session"
	"github.com/anamnesis/anamnesis/internal/domain/template"
	"github.com/anamnesis/anamnesis/internal/platform/db"
	"github.com/anamnesis/anamnesis/internal/platform/idempotency"
)

const intakeSchema = `{
	"questions": [
		{"id": "complaint", "text": "Qual a queixa principal?", "type": "text", "required": true},
		{"id": "smoker", "text": "Você fuma?", "type": "single", "options": ["Sim", "Não"], "required": true},
		{"id": "packs", "text": "Quantos maços por dia?", "type": "number"}
	],
	"conditionalLogic": [
		{"ifQuestion": "smoker", "ifValue": "Sim", "thenShow": ["packs"]}
	]
}`

type services struct {
	templates *template.Service
	sessions  *session.Service
}

func newServices() services {
	tplSvc := template.NewService(template.NewRepoPG(globalDB.Pool), zerolog.Nop())
	sessSvc := session.NewService(session.NewRepoPG(globalDB.Pool), tplSvc, "https://app.example.com/fill", zerolog.Nop())
	return services{templates: tplSvc, sessions: sessSvc}
}

func publishTemplate(t *testing.T, ctx context.Context, svc *template.Service) *template.Template {
	t.Helper()
	tpl := &template.Template{Name: "Anamnese inicial", SchemaJSON: json.RawMessage(intakeSchema), CreatedBy: ptrStr("dr-1")}
	if err := svc.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func TestTemplateRepo_Versioning(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenant(t, ctx, "tpl")
	svc := newServices().templates

	withTenant(t, ctx, tenantID, func(ctx context.Context) error {
		tpl := publishTemplate(t, ctx, svc)
		if tpl.Version != 1 {
			t.Errorf("expected version 1, got %d", tpl.Version)
		}
		if tpl.TenantID != tenantID {
			t.Errorf("expected tenant %s, got %s", tenantID, tpl.TenantID)
		}

		tpl.Name = "Anamnese revisada"
		tpl.SchemaJSON = json.RawMessage(`{"questions":[{"id":"only","text":"?","type":"text"}]}`)
		if err := svc.UpdateTemplate(ctx, tpl); err != nil {
			t.Fatalf("update: %v", err)
		}
		if tpl.Version != 2 {
			t.Errorf("expected version 2, got %d", tpl.Version)
		}

		v1, err := svc.GetTemplateVersion(ctx, tpl.ID, 1)
		if err != nil {
			t.Fatalf("get v1: %v", err)
		}
		schema, err := v1.Schema()
		if err != nil {
			t.Fatalf("parse v1 schema: %v", err)
		}
		if len(schema.Questions) != 3 {
			t.Errorf("expected v1 to keep 3 questions, got %d", len(schema.Questions))
		}

		items, total, err := svc.ListTemplates(ctx, 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 || len(items) != 1 {
			t.Errorf("expected 1 template, got total=%d len=%d", total, len(items))
		}

		if _, err := svc.GetTemplate(ctx, tpl.ID); err != nil {
			t.Errorf("get: %v", err)
		}
		return nil
	})
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenant(t, ctx, "sess")
	svcs := newServices()

	withTenant(t, ctx, tenantID, func(ctx context.Context) error {
		tpl := publishTemplate(t, ctx, svcs.templates)

		sess, err := svcs.sessions.Create(ctx, tpl.ID, nil, ptrStr("dr-1"))
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		if sess.Status != session.StatusInProgress || sess.TemplateVersion != 1 {
			t.Errorf("unexpected new session %+v", sess)
		}

		res, err := svcs.sessions.Submit(ctx, sess.ID, questionnaire.AnswerMap{
			"complaint": questionnaire.Text("Dor de cabeça"),
			"smoker":    questionnaire.Text("Sim"),
		})
		if err != nil {
			t.Fatalf("submit partial: %v", err)
		}
		if res.Decision.Completed() || res.Decision.NextQuestion == nil || res.Decision.NextQuestion.ID != "packs" {
			t.Fatalf("expected packs to be asked next, got %+v", res.Decision)
		}

		res, err = svcs.sessions.Submit(ctx, sess.ID, questionnaire.AnswerMap{
			"complaint": questionnaire.Text("Dor de cabeça"),
			"smoker":    questionnaire.Text("Sim"),
			"packs":     questionnaire.Number(1),
		})
		if err != nil {
			t.Fatalf("submit complete: %v", err)
		}
		if !res.Decision.Completed() || res.Session.Status != session.StatusCompleted {
			t.Fatalf("expected completion, got %+v", res.Decision)
		}

		if _, err := svcs.sessions.Submit(ctx, sess.ID, questionnaire.AnswerMap{"complaint": questionnaire.Text("x")}); !errors.Is(err, session.ErrCompleted) {
			t.Errorf("expected ErrCompleted, got %v", err)
		}

		subs, err := svcs.sessions.Submissions(ctx, sess.ID)
		if err != nil {
			t.Fatalf("submissions: %v", err)
		}
		if len(subs) != 2 {
			t.Errorf("expected 2 submissions, got %d", len(subs))
		}

		current, err := svcs.sessions.CurrentAnswers(ctx, sess.ID)
		if err != nil {
			t.Fatalf("current answers: %v", err)
		}
		if f, _ := current["packs"].Float(); f != 1 {
			t.Errorf("expected latest answers to win, got %v", current)
		}

		signed, err := svcs.sessions.Sign(ctx, sess.ID, "  Maria Souza ")
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if signed.SignatureName == nil || *signed.SignatureName != "Maria Souza" {
			t.Errorf("expected trimmed signature, got %v", signed.SignatureName)
		}
		if _, err := svcs.sessions.Sign(ctx, sess.ID, "Outra Pessoa"); !errors.Is(err, session.ErrAlreadySigned) {
			t.Errorf("expected ErrAlreadySigned, got %v", err)
		}
		return nil
	})
}

func TestSubmitRollsBackOnInvalidAnswers(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenant(t, ctx, "rb")
	svcs := newServices()

	withTenant(t, ctx, tenantID, func(ctx context.Context) error {
		tpl := publishTemplate(t, ctx, svcs.templates)
		sess, err := svcs.sessions.Create(ctx, tpl.ID, nil, nil)
		if err != nil {
			t.Fatalf("create session: %v", err)
		}

		_, err = svcs.sessions.Submit(ctx, sess.ID, questionnaire.AnswerMap{"smoker": questionnaire.Text("Talvez")})
		if err == nil {
			t.Fatal("expected invalid option to be rejected")
		}

		subs, err := svcs.sessions.Submissions(ctx, sess.ID)
		if err != nil {
			t.Fatalf("submissions: %v", err)
		}
		if len(subs) != 0 {
			t.Errorf("expected no submission stored, got %d", len(subs))
		}
		return nil
	})
}

func TestFillTokenResolvesAcrossTenants(t *testing.T) {
	ctx := context.Background()
	tenantA := createTenant(t, ctx, "filla")
	tenantB := createTenant(t, ctx, "fillb")
	svcs := newServices()

	var link *session.FillLink
	var sessionID string
	withTenant(t, ctx, tenantA, func(ctx context.Context) error {
		tpl := publishTemplate(t, ctx, svcs.templates)
		sess, err := svcs.sessions.Create(ctx, tpl.ID, nil, nil)
		if err != nil {
			return err
		}
		sessionID = sess.ID.String()
		link, err = svcs.sessions.GenerateFillLink(ctx, sess.ID)
		return err
	})

	// Resolution starts without a tenant.
	ref, err := svcs.sessions.ResolveFillToken(ctx, link.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.TenantID != tenantA || ref.SessionID.String() != sessionID {
		t.Errorf("unexpected token ref %+v", ref)
	}

	withTenant(t, ctx, tenantB, func(ctx context.Context) error {
		if _, err := svcs.sessions.Get(ctx, ref.SessionID); !errors.Is(err, session.ErrNotFound) {
			t.Errorf("expected session invisible from tenant B, got %v", err)
		}
		return nil
	})

	withTenant(t, ctx, tenantA, func(ctx context.Context) error {
		if _, err := svcs.sessions.SessionForToken(ctx, ref, link.Token); err != nil {
			t.Errorf("expected token to match session: %v", err)
		}
		// Rotating the link revokes the previous token.
		if _, err := svcs.sessions.GenerateFillLink(ctx, ref.SessionID); err != nil {
			return err
		}
		return nil
	})

	if _, err := svcs.sessions.ResolveFillToken(ctx, link.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected rotated token to be gone, got %v", err)
	}
}

func TestPGStore_IdempotencyRecords(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenant(t, ctx, "idem")
	store := idempotency.NewPGStore(globalDB.Pool)
	guard := idempotency.NewGuard(store, time.Hour, zerolog.Nop())

	withTenant(t, ctx, tenantID, func(ctx context.Context) error {
		calls := 0
		handler := func(ctx context.Context) (int, interface{}, error) {
			calls++
			return http.StatusCreated, map[string]string{"id": "s1"}, nil
		}

		first, err := guard.WithIdempotency(ctx, tenantID, "key-1", "hash-1", handler)
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		second, err := guard.WithIdempotency(ctx, tenantID, "key-1", "hash-1", handler)
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if calls != 1 || !second.Replayed || string(first.Body) != string(second.Body) {
			t.Errorf("expected replay, calls=%d replayed=%v", calls, second.Replayed)
		}

		if _, err := guard.WithIdempotency(ctx, tenantID, "key-1", "hash-2", handler); !errors.Is(err, idempotency.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}

		expired := &idempotency.Record{
			TenantID: tenantID, Key: "old", RequestHash: "h", Response: []byte(`{}`), StatusCode: 200,
			CreatedAt: time.Now().Add(-2 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour),
		}
		if err := store.Put(ctx, expired); err != nil {
			t.Fatalf("put expired: %v", err)
		}
		if _, err := store.Get(ctx, tenantID, "old"); !errors.Is(err, idempotency.ErrNotFound) {
			t.Errorf("expected expired record hidden, got %v", err)
		}
		n, err := store.DeleteExpired(ctx)
		if err != nil {
			t.Fatalf("delete expired: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 expired record removed, got %d", n)
		}
		return nil
	})
}

func TestListTenants(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenant(t, ctx, "list")

	tenants, err := db.ListTenants(ctx, globalDB.Pool)
	if err != nil {
		t.Fatalf("list tenants: %v", err)
	}
	found := false
	for _, id := range tenants {
		if id == tenantID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in %v", tenantID, tenants)
	}
}

func TestRedisStore_SharedAcrossGuards(t *testing.T) {
	client := requireRedis(t)
	ctx := context.Background()
	tenantID := uniqueTenantID("redis")

	// Two guards model two server instances sharing one Redis.
	first := idempotency.NewGuard(idempotency.NewRedisStore(client), time.Minute, zerolog.Nop())
	second := idempotency.NewGuard(idempotency.NewRedisStore(client), time.Minute, zerolog.Nop())

	calls := 0
	handler := func(ctx context.Context) (int, interface{}, error) {
		calls++
		return http.StatusOK, map[string]int{"completionPercent": 50}, nil
	}

	if _, err := first.WithIdempotency(ctx, tenantID, "submit-1", "h", handler); err != nil {
		t.Fatalf("first instance: %v", err)
	}
	res, err := second.WithIdempotency(ctx, tenantID, "submit-1", "h", handler)
	if err != nil {
		t.Fatalf("second instance: %v", err)
	}
	if calls != 1 || !res.Replayed {
		t.Errorf("expected replay from the shared store, calls=%d replayed=%v", calls, res.Replayed)
	}

	ttl, err := client.TTL(ctx, "idem:"+tenantID+":submit-1").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected key to expire within a minute, got %v", ttl)
	}
}

func TestCachedTemplateRepository(t *testing.T) {
	client := requireRedis(t)
	ctx := context.Background()
	tenantID := createTenant(t, ctx, "cache")

	repo := template.NewCachedRepository(template.NewRepoPG(globalDB.Pool), client, time.Minute, zerolog.Nop())
	svc := template.NewService(repo, zerolog.Nop())

	withTenant(t, ctx, tenantID, func(ctx context.Context) error {
		tpl := publishTemplate(t, ctx, svc)

		got, err := svc.GetTemplate(ctx, tpl.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Name != tpl.Name {
			t.Errorf("expected %q, got %q", tpl.Name, got.Name)
		}

		tpl.Name = "Anamnese v2"
		if err := svc.UpdateTemplate(ctx, tpl); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err = svc.GetTemplate(ctx, tpl.ID)
		if err != nil {
			t.Fatalf("get after update: %v", err)
		}
		if got.Name != "Anamnese v2" || got.Version != 2 {
			t.Errorf("expected cache refreshed on update, got %q v%d", got.Name, got.Version)
		}
		return nil
	})
}
