// Package sessions provides database operations for import sessions,
// including rolling back everything a session wrote.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/entities"
)

var (
	// ErrNotRollbackable is returned for sessions that are still running or
	// were already rolled back.
	ErrNotRollbackable = errors.New("import session cannot be rolled back")
)

// Repository handles import session database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sessions repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, session *entities.ImportSession) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *Repository) Update(ctx context.Context, session *entities.ImportSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *Repository) Get(ctx context.Context, id uint) (*entities.ImportSession, error) {
	var session entities.ImportSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions, most recent first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]entities.ImportSession, int64, error) {
	var sessions []entities.ImportSession
	var total int64

	query := r.db.WithContext(ctx).Model(&entities.ImportSession{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	err := query.Order("started_at DESC, id DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	return sessions, total, err
}

// RollbackResult counts what a rollback removed or restored.
type RollbackResult struct {
	NotesDeleted     int64 `json:"notes_deleted"`
	BooksDeleted     int64 `json:"books_deleted"`
	NotesRestored    int   `json:"notes_restored"`
	LinksRestored    int   `json:"links_restored"`
	ReviewsDiscarded int64 `json:"reviews_discarded"`
}

// Rollback undoes a session in one transaction: notes and books it created
// are removed, notes it overwrote get their previous text and location end
// back, books it relinked point at their previous canonical identity again,
// and its pending reviews are discarded. Books that predate the session keep
// existing even if they end up empty. Canonical identities themselves are
// left as they are.
func (r *Repository) Rollback(ctx context.Context, id uint) (*RollbackResult, error) {
	result := &RollbackResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session entities.ImportSession
		if err := tx.First(&session, id).Error; err != nil {
			return err
		}
		switch session.Status {
		case entities.ImportStatusRunning, entities.ImportStatusPending, entities.ImportStatusRolledBack:
			return fmt.Errorf("%w: status is %s", ErrNotRollbackable, session.Status)
		}

		touched := make(map[uint]struct{})

		var affected []uint
		if err := tx.Model(&entities.Note{}).Where("import_session_id = ?", id).Distinct("book_id").Pluck("book_id", &affected).Error; err != nil {
			return fmt.Errorf("failed to collect affected books: %w", err)
		}
		for _, bookID := range affected {
			touched[bookID] = struct{}{}
		}

		// Restore overwritten notes, newest revision first so the oldest wins.
		var revisions []entities.NoteRevision
		if err := tx.Where("import_session_id = ?", id).Order("id DESC").Find(&revisions).Error; err != nil {
			return fmt.Errorf("failed to load revisions: %w", err)
		}
		for _, rev := range revisions {
			var note entities.Note
			err := tx.First(&note, rev.NoteID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load note %d: %w", rev.NoteID, err)
			}
			restore := map[string]any{"text": rev.PreviousText, "content_hash": rev.PreviousHash, "location_end": rev.PreviousLocationEnd}
			if err := tx.Model(&note).Updates(restore).Error; err != nil {
				return fmt.Errorf("failed to restore note %d: %w", note.ID, err)
			}
			touched[note.BookID] = struct{}{}
			result.NotesRestored++
		}
		if err := tx.Where("import_session_id = ?", id).Delete(&entities.NoteRevision{}).Error; err != nil {
			return fmt.Errorf("failed to delete revisions: %w", err)
		}

		var links []entities.BookLinkRevision
		if err := tx.Where("import_session_id = ?", id).Order("id DESC").Find(&links).Error; err != nil {
			return fmt.Errorf("failed to load link revisions: %w", err)
		}
		for _, link := range links {
			restored := tx.Model(&entities.Book{}).Where("id = ?", link.BookID).
				Update("canonical_book_id", link.PreviousCanonicalBookID)
			if restored.Error != nil {
				return fmt.Errorf("failed to restore link of book %d: %w", link.BookID, restored.Error)
			}
			if restored.RowsAffected > 0 {
				result.LinksRestored++
			}
		}
		if err := tx.Where("import_session_id = ?", id).Delete(&entities.BookLinkRevision{}).Error; err != nil {
			return fmt.Errorf("failed to delete link revisions: %w", err)
		}

		// Reviews that point at notes about to be removed go too.
		discard := tx.Where("status = ? AND (import_session_id = ? OR existing_note_id IN (?))",
			entities.ReviewStatusPending, id,
			tx.Model(&entities.Note{}).Select("id").Where("import_session_id = ?", id),
		).Delete(&entities.ReviewItem{})
		if discard.Error != nil {
			return fmt.Errorf("failed to discard reviews: %w", discard.Error)
		}
		result.ReviewsDiscarded = discard.RowsAffected

		deleted := tx.Unscoped().Where("import_session_id = ?", id).Delete(&entities.Note{})
		if deleted.Error != nil {
			return fmt.Errorf("failed to delete notes: %w", deleted.Error)
		}
		result.NotesDeleted = deleted.RowsAffected

		// Notes added by later sessions keep a session-created book alive.
		books := tx.Unscoped().
			Where("import_session_id = ? AND id NOT IN (?)", id, tx.Unscoped().Model(&entities.Note{}).Select("book_id")).
			Delete(&entities.Book{})
		if books.Error != nil {
			return fmt.Errorf("failed to delete books: %w", books.Error)
		}
		result.BooksDeleted = books.RowsAffected

		ids := make([]uint, 0, len(touched))
		for bookID := range touched {
			ids = append(ids, bookID)
		}
		if err := notes.RecountNotes(tx, ids); err != nil {
			return err
		}

		now := time.Now()
		session.Status = entities.ImportStatusRolledBack
		session.CompletedAt = &now
		return tx.Save(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
