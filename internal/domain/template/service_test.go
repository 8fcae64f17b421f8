package template

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
	"github.com/anamnesis/anamnesis/internal/platform/db"
)

const testSchema = `{
	"questions": [
		{"id": "stress_level", "text": "Nível de estresse", "type": "number", "required": true, "tags": ["stress"]}
	],
	"conditionalLogic": [],
	"tags": ["stress"]
}`

// ── Mock Repository ──

type versionKey struct {
	id      uuid.UUID
	version int
}

type mockRepo struct {
	data     map[uuid.UUID]*Template
	versions map[versionKey]*Template
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		data:     make(map[uuid.UUID]*Template),
		versions: make(map[versionKey]*Template),
	}
}

func (m *mockRepo) Create(_ context.Context, t *Template) error {
	t.ID = uuid.New()
	t.Version = 1
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.data[t.ID] = &cp
	m.versions[versionKey{t.ID, t.Version}] = &cp
	return nil
}
func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Template, error) {
	if t, ok := m.data[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrNotFound
}
func (m *mockRepo) Update(_ context.Context, t *Template) error {
	existing, ok := m.data[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.Version = existing.Version + 1
	t.TenantID = existing.TenantID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now()
	cp := *t
	m.data[t.ID] = &cp
	m.versions[versionKey{t.ID, t.Version}] = &cp
	return nil
}
func (m *mockRepo) GetVersion(_ context.Context, id uuid.UUID, version int) (*Template, error) {
	if t, ok := m.versions[versionKey{id, version}]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrNotFound
}
func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Template, int, error) {
	var out []*Template
	for _, t := range m.data {
		out = append(out, t)
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func TestCreateTemplate(t *testing.T) {
	svc, repo := newTestService()
	ctx := db.WithTenant(context.Background(), "acme")

	tpl := &Template{Name: "Anamnese", SchemaJSON: json.RawMessage(testSchema)}
	if err := svc.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if tpl.TenantID != "acme" {
		t.Errorf("expected tenant acme, got %q", tpl.TenantID)
	}
	if tpl.Version != 1 {
		t.Errorf("expected version 1, got %d", tpl.Version)
	}
	if len(repo.data) != 1 {
		t.Errorf("expected 1 stored template, got %d", len(repo.data))
	}
}

func TestCreateTemplate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		tpl     Template
		wantErr error
	}{
		{"missing name", Template{SchemaJSON: json.RawMessage(testSchema)}, ErrInvalidTemplate},
		{"missing schema", Template{Name: "x"}, ErrInvalidTemplate},
		{"malformed schema", Template{Name: "x", SchemaJSON: json.RawMessage(`{"questions":`)}, questionnaire.ErrInvalidSchema},
		{"unknown type", Template{Name: "x", SchemaJSON: json.RawMessage(`{"questions":[{"id":"a","type":"date"}]}`)}, questionnaire.ErrInvalidSchema},
		{"reserved id", Template{Name: "x", SchemaJSON: json.RawMessage(`{"questions":[{"id":"deepening.stress","type":"text"}]}`)}, questionnaire.ErrInvalidSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			tpl := tt.tpl
			err := svc.CreateTemplate(context.Background(), &tpl)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(repo.data) != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestUpdateTemplate_BumpsVersion(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tpl := &Template{Name: "Anamnese", SchemaJSON: json.RawMessage(testSchema)}
	if err := svc.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}

	upd := &Template{ID: tpl.ID, Name: "Anamnese v2", SchemaJSON: json.RawMessage(testSchema)}
	if err := svc.UpdateTemplate(ctx, upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Version != 2 {
		t.Errorf("expected version 2, got %d", upd.Version)
	}

	got, _ := svc.GetTemplate(ctx, tpl.ID)
	if got.Name != "Anamnese v2" {
		t.Errorf("expected updated name, got %q", got.Name)
	}

	v1, err := svc.GetTemplateVersion(ctx, tpl.ID, 1)
	if err != nil {
		t.Fatalf("get version 1: %v", err)
	}
	if v1.Name != "Anamnese" || v1.Version != 1 {
		t.Errorf("expected original version kept, got %q v%d", v1.Name, v1.Version)
	}
}

func TestUpdateTemplate_NotFound(t *testing.T) {
	svc, _ := newTestService()
	err := svc.UpdateTemplate(context.Background(), &Template{ID: uuid.New(), Name: "x", SchemaJSON: json.RawMessage(testSchema)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplate_Schema(t *testing.T) {
	tpl := &Template{SchemaJSON: json.RawMessage(testSchema)}
	s, err := tpl.Schema()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Questions) != 1 || s.Questions[0].ID != "stress_level" {
		t.Errorf("unexpected questions %+v", s.Questions)
	}
}
