package library

import (
	"context"
	"strings"
	"time"
)

// NewBook is the catalog entry for AddBook. Availability is not part of it:
// a new book is always available.
type NewBook struct {
	Title     string
	Author    string
	ISBN      string
	Publisher string
	Year      int
	Category  string
	Location  string
}

// BookPatch lists the metadata fields UpdateBook should change. An empty ISBN
// clears it.
type BookPatch struct {
	Title     *string
	Author    *string
	ISBN      *string
	Publisher *string
	Year      *int
	Category  *string
	Location  *string
}

// AddBook inserts a new, available book.
func (lm *LibraryManager) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	now := lm.clock()
	b := &Book{
		Title:       strings.TrimSpace(nb.Title),
		Author:      strings.TrimSpace(nb.Author),
		ISBN:        optional(nb.ISBN),
		Publisher:   strings.TrimSpace(nb.Publisher),
		Year:        nb.Year,
		Category:    strings.TrimSpace(nb.Category),
		Location:    strings.TrimSpace(nb.Location),
		IsAvailable: true,
		CreatedAt:   now,
		UpdatedAt:   now,

		AvailabilityChangedAt: now,
	}
	if err := validateBook(b, now); err != nil {
		return nil, err
	}
	id, err := lm.store.InsertBook(ctx, b)
	if err != nil {
		return nil, err
	}
	b.ID = id
	lm.log.Info("book added", "book_id", b.ID, "title", b.Title)
	return b, nil
}

// GetBook fetches a book by id.
func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.store.GetBook(ctx, id)
}

// UpdateBook changes catalog metadata. Availability can't be written here.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, p BookPatch) (*Book, error) {
	b, err := lm.store.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		b.Title = strings.TrimSpace(*p.Title)
	}
	if p.Author != nil {
		b.Author = strings.TrimSpace(*p.Author)
	}
	if p.ISBN != nil {
		b.ISBN = optional(*p.ISBN)
	}
	if p.Publisher != nil {
		b.Publisher = strings.TrimSpace(*p.Publisher)
	}
	if p.Year != nil {
		b.Year = *p.Year
	}
	if p.Category != nil {
		b.Category = strings.TrimSpace(*p.Category)
	}
	if p.Location != nil {
		b.Location = strings.TrimSpace(*p.Location)
	}

	now := lm.clock()
	if err := validateBook(b, now); err != nil {
		return nil, err
	}
	b.UpdatedAt = now
	if err := lm.store.UpdateBookDetails(ctx, b); err != nil {
		return nil, err
	}
	lm.log.Info("book updated", "book_id", b.ID)
	return b, nil
}

// ListBooks returns one page of books and the total match count.
func (lm *LibraryManager) ListBooks(ctx context.Context, f BookFilter, p Page) ([]*Book, int, error) {
	return lm.store.ListBooks(ctx, f, p)
}

func validateBook(b *Book, now time.Time) error {
	if b.Title == "" {
		return invalid("title is required")
	}
	if b.Author == "" {
		return invalid("author is required")
	}
	if b.Year < 0 || b.Year > now.Year()+1 {
		return invalid("year %d out of range", b.Year)
	}
	return nil
}

// optional trims s and returns nil for an empty result.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
