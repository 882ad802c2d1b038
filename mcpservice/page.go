package mcpservice

import "strconv"

// DefaultPageSize is the number of items containers return per page.
const DefaultPageSize = 50

// Page represents a single page of results with an optional cursor for
// fetching the next page.
//
// Items is never nil; NewPage normalizes nil input to an empty slice so that
// listings always encode as a JSON array.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page constructed via NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor sets the next cursor on the Page to indicate that more
// results are available.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) {
		p.NextCursor = &cursor
	}
}

// NewPage constructs a Page with the provided items.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Cursor returns the next cursor or the empty string.
func (p Page[T]) Cursor() string {
	if p.NextCursor == nil {
		return ""
	}
	return *p.NextCursor
}

// pageSlice cuts one page out of all using offset cursors. Malformed or out
// of range cursors restart from the beginning.
func pageSlice[T any](all []T, pageSize int, cursor *string) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := min(start+pageSize, len(all))
	items := make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[T](strconv.Itoa(end)))
	}
	return NewPage(items)
}

func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
