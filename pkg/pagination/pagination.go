package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset from the query string, clamping limit
// to MaxLimit and falling back to the defaults for missing or bad values.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    any    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
	Links   []Link `json:"links,omitempty"`
}

func NewResponse(data any, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// Slice returns the page of items selected by p. The result is never nil.
func Slice[T any](items []T, p Params) []T {
	start := p.Offset
	if start > len(items) {
		start = len(items)
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

// Paginate slices items and wraps the page with navigation links relative
// to the request path.
func Paginate[T any](c echo.Context, items []T) *Response {
	p := FromContext(c)
	resp := NewResponse(Slice(items, p), len(items), p.Limit, p.Offset)
	resp.Links = p.Links(c.Request().URL.Path, c.QueryParams(), len(items))
	return resp
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Links builds self/next/previous links. Filters already present in query
// are carried over; limit and offset are replaced.
func (p Params) Links(basePath string, query url.Values, total int) []Link {
	links := []Link{{Relation: "self", URL: p.url(basePath, query, p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: p.url(basePath, query, p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: p.url(basePath, query, p.PreviousOffset())})
	}
	return links
}

func (p Params) url(basePath string, query url.Values, offset int) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	return fmt.Sprintf("%s?%s", basePath, q.Encode())
}

// Link is a single pagination link.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
