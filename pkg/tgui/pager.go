package tgui

import "fmt"

// Page is one window over a slice. Index is 0-based, From is the 0-based
// offset of the first item.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	Total   int
	From    int
	HasPrev bool
	HasNext bool
}

// Paginate returns page idx of items with size entries per page. Out of
// range indexes are clamped.
func Paginate[T any](items []T, idx, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	idx = max(0, min(idx, pages-1))
	start := min(idx*size, total)
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Index:   idx,
		Pages:   pages,
		Total:   total,
		From:    start,
		HasPrev: idx > 0,
		HasNext: end < total,
	}
}

// Label renders "Page 2/5 • 11-20 of 47".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d • %d-%d of %d", p.Index+1, p.Pages, p.From+1, p.From+len(p.Items), p.Total)
}
