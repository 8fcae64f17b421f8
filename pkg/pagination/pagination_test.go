package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name   string
		target string
		limit  int
		offset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=50&offset=10", 50, 10},
		{"capped", "/?limit=1000", MaxLimit, 0},
		{"negative offset", "/?offset=-5", DefaultLimit, 0},
		{"malformed", "/?limit=abc&offset=xyz", DefaultLimit, 0},
		{"zero limit", "/?limit=0", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromContext(newContext(tt.target))
			if p.Limit != tt.limit {
				t.Errorf("expected limit %d, got %d", tt.limit, p.Limit)
			}
			if p.Offset != tt.offset {
				t.Errorf("expected offset %d, got %d", tt.offset, p.Offset)
			}
		})
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse([]int{1}, 30, 20, 0); !r.HasMore {
		t.Error("expected more rows after the first page")
	}
	if r := NewResponse([]int{1}, 30, 20, 20); r.HasMore {
		t.Error("expected no rows after the last page")
	}
}

func TestWithLinks(t *testing.T) {
	c := newContext("/api/v1/sessions?status=completed&limit=10&offset=10")
	r := NewResponse(nil, 35, 10, 10).WithLinks(c)

	if r.Links.Self != "/api/v1/sessions?limit=10&offset=10&status=completed" {
		t.Errorf("unexpected self link %q", r.Links.Self)
	}
	if r.Links.Next != "/api/v1/sessions?limit=10&offset=20&status=completed" {
		t.Errorf("unexpected next link %q", r.Links.Next)
	}
	if r.Links.Previous != "/api/v1/sessions?limit=10&offset=0&status=completed" {
		t.Errorf("unexpected previous link %q", r.Links.Previous)
	}
}

func TestWithLinks_FirstAndLastPage(t *testing.T) {
	r := NewResponse(nil, 5, 20, 0).WithLinks(newContext("/api/v1/templates"))
	if r.Links.Next != "" || r.Links.Previous != "" {
		t.Errorf("expected only a self link, got %+v", r.Links)
	}
}

func TestPreviousOffset(t *testing.T) {
	if got := (Params{Limit: 20, Offset: 5}).PreviousOffset(); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := (Params{Limit: 20, Offset: 45}).PreviousOffset(); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
}
