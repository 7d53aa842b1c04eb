// Package reviews provides database operations for the manual review queue:
// proposed entries that were too similar to an existing note to be added or
// applied automatically.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/dedup"
	"github.com/mrlokans/marginalia/internal/entities"
)

// ErrAlreadyResolved is returned when resolving a review twice.
var ErrAlreadyResolved = errors.New("review item is already resolved")

// Repository handles review queue database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new reviews repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id uint) (*entities.ReviewItem, error) {
	var item entities.ReviewItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ListPending returns unresolved review items, oldest first. A non-zero
// sessionID restricts the list to one import session.
func (r *Repository) ListPending(ctx context.Context, sessionID uint) ([]entities.ReviewItem, error) {
	var items []entities.ReviewItem
	query := r.db.WithContext(ctx).Where("status = ?", entities.ReviewStatusPending)
	if sessionID != 0 {
		query = query.Where("import_session_id = ?", sessionID)
	}
	err := query.Order("id ASC").Find(&items).Error
	return items, err
}

// Resolve closes a review item. keep_existing discards the proposed text;
// replace overwrites the existing note and records a revision under the
// review's import session so that rolling the session back restores it.
func (r *Repository) Resolve(ctx context.Context, id uint, resolution entities.ReviewResolution) (*entities.ReviewItem, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("invalid resolution %q", resolution)
	}

	var item entities.ReviewItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&item, id).Error; err != nil {
			return err
		}
		if item.Status == entities.ReviewStatusResolved {
			return ErrAlreadyResolved
		}

		if resolution == entities.ReviewReplace {
			if err := replaceNote(tx, &item); err != nil {
				return err
			}
		}

		now := time.Now()
		item.Status = entities.ReviewStatusResolved
		item.Resolution = resolution
		item.ResolvedAt = &now
		return tx.Save(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func replaceNote(tx *gorm.DB, item *entities.ReviewItem) error {
	var note entities.Note
	if err := tx.First(&note, item.ExistingNoteID).Error; err != nil {
		return fmt.Errorf("failed to load note %d: %w", item.ExistingNoteID, err)
	}

	hash, err := dedup.ContentHash(item.Text)
	if err != nil {
		return err
	}

	revision := &entities.NoteRevision{
		NoteID:              note.ID,
		ImportSessionID:     item.ImportSessionID,
		PreviousText:        note.Text,
		PreviousHash:        note.ContentHash,
		PreviousLocationEnd: note.LocationEnd,
	}
	if err := tx.Create(revision).Error; err != nil {
		return fmt.Errorf("failed to record revision of note %d: %w", note.ID, err)
	}

	updates := map[string]any{"text": item.Text, "content_hash": hash}
	if item.LocationEnd != nil {
		updates["location_end"] = *item.LocationEnd
	}
	if err := tx.Model(&note).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update note %d: %w", note.ID, err)
	}
	return notes.RecountNotes(tx, []uint{note.BookID})
}
