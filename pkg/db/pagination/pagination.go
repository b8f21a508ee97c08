package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Pagination is bound from the query string of list endpoints.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// Size is the page size clamped to [1, MaxLimit].
func (p Pagination) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// After decodes the cursor into the id to resume after. An empty cursor
// starts from the beginning.
func (p Pagination) After() (string, error) {
	if p.Cursor == "" {
		return "", nil
	}
	c, err := DecodeCursor(p.Cursor)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

type Cursor struct {
	ID string `json:"id"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (Cursor, error) {
	var c Cursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return c, ErrInvalidCursor
	}
	return c, nil
}

// Trim cuts rows fetched with size+1 down to one page and reports whether
// another page follows.
func Trim[T any](rows []*T, size int, id func(*T) string) ([]*T, PageInfo) {
	if len(rows) <= size {
		return rows, PageInfo{}
	}
	rows = rows[:size]
	return rows, PageInfo{
		HasMore:    true,
		NextCursor: EncodeCursor(Cursor{ID: id(rows[len(rows)-1])}),
	}
}
