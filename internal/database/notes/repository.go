// Package notes provides database operations for books and their notes,
// including the all-or-nothing application of an import batch.
//
// # Usage
//
//	repo := notes.NewRepository(db)
//	book, err := repo.FindBook(ctx, "Dune", "Frank Herbert")
//	result, err := repo.ApplyBatch(ctx, sessionID, batch)
package notes

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/entities"
)

// Repository handles all book and note database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new notes repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindBook returns the stored book with exactly this title and author, or
// nil when there is none.
func (r *Repository) FindBook(ctx context.Context, title, author string) (*entities.Book, error) {
	var book entities.Book
	err := r.db.WithContext(ctx).Where("title = ? AND author = ?", title, author).Order("id ASC").First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// FindBookByCanonical returns the oldest stored book linked to the canonical
// identity, or nil when there is none.
func (r *Repository) FindBookByCanonical(ctx context.Context, canonicalID string) (*entities.Book, error) {
	var book entities.Book
	err := r.db.WithContext(ctx).Where("canonical_book_id = ?", canonicalID).Order("id ASC").First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// GetBookByID retrieves a book with its notes ordered by location.
func (r *Repository) GetBookByID(ctx context.Context, id uint) (*entities.Book, error) {
	var book entities.Book
	err := r.db.WithContext(ctx).Preload("Notes", func(db *gorm.DB) *gorm.DB {
		return db.Order("location_start ASC, id ASC")
	}).First(&book, id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// GetAllBooks retrieves all books without their notes.
func (r *Repository) GetAllBooks(ctx context.Context) ([]entities.Book, error) {
	var books []entities.Book
	err := r.db.WithContext(ctx).Order("title ASC").Find(&books).Error
	return books, err
}

// NotesByBooks returns every live note of the given books.
func (r *Repository) NotesByBooks(ctx context.Context, bookIDs []uint) ([]entities.Note, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}
	var notes []entities.Note
	err := r.db.WithContext(ctx).Where("book_id IN ?", bookIDs).Order("id ASC").Find(&notes).Error
	return notes, err
}

// AllNotes returns every live note.
func (r *Repository) AllNotes(ctx context.Context) ([]entities.Note, error) {
	var notes []entities.Note
	err := r.db.WithContext(ctx).Order("id ASC").Find(&notes).Error
	return notes, err
}

// GetNoteByID retrieves a single note.
func (r *Repository) GetNoteByID(ctx context.Context, id uint) (*entities.Note, error) {
	var note entities.Note
	if err := r.db.WithContext(ctx).First(&note, id).Error; err != nil {
		return nil, err
	}
	return &note, nil
}

// RecountNotes recomputes NoteCount for the given books inside tx.
func RecountNotes(tx *gorm.DB, bookIDs []uint) error {
	if len(bookIDs) == 0 {
		return nil
	}
	err := tx.Model(&entities.Book{}).
		Where("id IN ?", bookIDs).
		Update("note_count", gorm.Expr("(SELECT COUNT(*) FROM notes WHERE notes.book_id = books.id AND notes.deleted_at IS NULL)")).
		Error
	if err != nil {
		return fmt.Errorf("failed to recount notes: %w", err)
	}
	return nil
}
