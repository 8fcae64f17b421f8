package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds the limit/offset window requested by a list endpoint.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset from the query string. Missing or
// malformed values fall back to the defaults; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// HasNext reports whether rows remain after the current window.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// PreviousOffset is the offset of the window before this one, never negative.
func (p Params) PreviousOffset() int {
	if prev := p.Offset - p.Limit; prev > 0 {
		return prev
	}
	return 0
}

// Links holds navigation URLs for a page. Empty entries are omitted.
type Links struct {
	Self     string `json:"self"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// Response wraps a paginated list.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"hasMore"`
	Links   *Links      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	p := Params{Limit: limit, Offset: offset}
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: p.HasNext(total),
	}
}

// WithLinks adds self/next/previous URLs built from the request path. Other
// query parameters (filters) are carried over unchanged.
func (r *Response) WithLinks(c echo.Context) *Response {
	p := Params{Limit: r.Limit, Offset: r.Offset}
	link := func(offset int) string {
		q := c.Request().URL.Query()
		q.Set("limit", strconv.Itoa(p.Limit))
		q.Set("offset", strconv.Itoa(offset))
		return c.Request().URL.Path + "?" + q.Encode()
	}
	links := &Links{Self: link(p.Offset)}
	if p.HasNext(r.Total) {
		links.Next = link(p.Offset + p.Limit)
	}
	if p.Offset > 0 {
		links.Previous = link(p.PreviousOffset())
	}
	r.Links = links
	return r
}
