package notes

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/entities"
)

// NewBook is a book created by the batch. Notes and reviews refer to it by Key.
type NewBook struct {
	Key             string
	Title           string
	Author          string
	CanonicalBookID *string
}

// BookLink attaches a canonical identity to an already stored book.
type BookLink struct {
	BookID          uint
	CanonicalBookID string
}

// NewNote is an accepted entry. Exactly one of BookID and BookKey is set.
type NewNote struct {
	BookID        uint
	BookKey       string
	Type          entities.EntryType
	Text          string
	Hash          string
	Page          *int
	LocationStart *int
	LocationEnd   *int
	DateAdded     *time.Time
}

// NoteUpdate replaces the text of a stored note. The previous text is kept
// as a NoteRevision of the session.
type NoteUpdate struct {
	NoteID      uint
	Text        string
	Hash        string
	LocationEnd *int
}

// NewReview is a manual_review decision. The existing side is a stored note
// (ExistingNoteID) or a note created earlier in the batch (ExistingNotePos,
// an index into Batch.Notes, -1 otherwise).
type NewReview struct {
	BookID          uint
	BookKey         string
	ExistingNoteID  uint
	ExistingNotePos int
	Type            entities.EntryType
	Text            string
	Hash            string
	Page            *int
	LocationStart   *int
	LocationEnd     *int
	DateAdded       *time.Time
	Similarity      float64
}

type Batch struct {
	Books   []NewBook
	Links   []BookLink
	Notes   []NewNote
	Updates []NoteUpdate
	Reviews []NewReview
}

func (b Batch) Empty() bool {
	return len(b.Books) == 0 && len(b.Links) == 0 && len(b.Notes) == 0 && len(b.Updates) == 0 && len(b.Reviews) == 0
}

type BatchResult struct {
	BooksCreated   int             `json:"books_created"`
	NotesAdded     int             `json:"notes_added"`
	NotesUpdated   int             `json:"notes_updated"`
	NotesConflict  int             `json:"notes_conflict"`
	ReviewsCreated int             `json:"reviews_created"`
	ReviewsPending int             `json:"reviews_pending"`
	BookIDs        map[string]uint `json:"-"`
}

// ApplyBatch writes the whole batch in one transaction: either every book,
// note, update and review becomes visible at commit, or none does. Notes
// whose (book, type, location) or, without a location, (book, type, hash)
// slot is already taken are not inserted and are counted as conflicts.
// A review is not created twice for the same (existing note, content hash)
// while an earlier one is still pending; those are counted in ReviewsPending.
func (r *Repository) ApplyBatch(ctx context.Context, sessionID uint, b Batch) (*BatchResult, error) {
	result := &BatchResult{BookIDs: make(map[string]uint, len(b.Books))}
	var sid *uint
	if sessionID != 0 {
		sid = &sessionID
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touched := make(map[uint]struct{})

		for _, nb := range b.Books {
			book := &entities.Book{
				Title:           nb.Title,
				Author:          nb.Author,
				CanonicalBookID: nb.CanonicalBookID,
				ImportSessionID: sid,
			}
			if err := tx.Create(book).Error; err != nil {
				return fmt.Errorf("failed to create book %q: %w", nb.Title, err)
			}
			result.BookIDs[nb.Key] = book.ID
			result.BooksCreated++
			touched[book.ID] = struct{}{}
		}

		for _, link := range b.Links {
			var book entities.Book
			if err := tx.First(&book, link.BookID).Error; err != nil {
				return fmt.Errorf("failed to load book %d: %w", link.BookID, err)
			}
			revision := &entities.BookLinkRevision{
				BookID:                  book.ID,
				ImportSessionID:         sid,
				PreviousCanonicalBookID: book.CanonicalBookID,
			}
			if err := tx.Create(revision).Error; err != nil {
				return fmt.Errorf("failed to record link of book %d: %w", book.ID, err)
			}
			if err := tx.Model(&book).Update("canonical_book_id", link.CanonicalBookID).Error; err != nil {
				return fmt.Errorf("failed to link book %d: %w", link.BookID, err)
			}
		}

		for _, u := range b.Updates {
			var note entities.Note
			if err := tx.First(&note, u.NoteID).Error; err != nil {
				return fmt.Errorf("failed to load note %d: %w", u.NoteID, err)
			}
			revision := &entities.NoteRevision{
				NoteID:              note.ID,
				ImportSessionID:     sid,
				PreviousText:        note.Text,
				PreviousHash:        note.ContentHash,
				PreviousLocationEnd: note.LocationEnd,
			}
			if err := tx.Create(revision).Error; err != nil {
				return fmt.Errorf("failed to record revision of note %d: %w", note.ID, err)
			}
			updates := map[string]any{"text": u.Text, "content_hash": u.Hash}
			if u.LocationEnd != nil {
				updates["location_end"] = *u.LocationEnd
			}
			if err := tx.Model(&note).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update note %d: %w", note.ID, err)
			}
			result.NotesUpdated++
			touched[note.BookID] = struct{}{}
		}

		created := make([]uint, len(b.Notes))
		for i, nn := range b.Notes {
			bookID, err := resolveBook(nn.BookID, nn.BookKey, result.BookIDs)
			if err != nil {
				return err
			}

			taken, err := slotTaken(tx, bookID, nn)
			if err != nil {
				return err
			}
			if taken {
				result.NotesConflict++
				continue
			}

			note := &entities.Note{
				BookID:          bookID,
				Type:            nn.Type,
				Text:            nn.Text,
				ContentHash:     nn.Hash,
				Page:            nn.Page,
				LocationStart:   nn.LocationStart,
				LocationEnd:     nn.LocationEnd,
				DateAdded:       nn.DateAdded,
				ImportSessionID: sid,
			}
			if err := tx.Create(note).Error; err != nil {
				return fmt.Errorf("failed to create note: %w", err)
			}
			created[i] = note.ID
			result.NotesAdded++
			touched[bookID] = struct{}{}
		}

		for _, nr := range b.Reviews {
			bookID, err := resolveBook(nr.BookID, nr.BookKey, result.BookIDs)
			if err != nil {
				return err
			}
			existingID := nr.ExistingNoteID
			if existingID == 0 && nr.ExistingNotePos >= 0 && nr.ExistingNotePos < len(created) {
				existingID = created[nr.ExistingNotePos]
			}
			if existingID == 0 {
				continue
			}
			pending, err := reviewPending(tx, existingID, nr.Hash)
			if err != nil {
				return err
			}
			if pending {
				result.ReviewsPending++
				continue
			}
			item := &entities.ReviewItem{
				BookID:          bookID,
				ExistingNoteID:  existingID,
				Type:            nr.Type,
				Text:            nr.Text,
				ContentHash:     nr.Hash,
				Page:            nr.Page,
				LocationStart:   nr.LocationStart,
				LocationEnd:     nr.LocationEnd,
				DateAdded:       nr.DateAdded,
				Similarity:      nr.Similarity,
				Status:          entities.ReviewStatusPending,
				ImportSessionID: sid,
			}
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("failed to create review item: %w", err)
			}
			result.ReviewsCreated++
		}

		ids := make([]uint, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		return RecountNotes(tx, ids)
	})
	if err != nil {
		return nil, err
	}

	if result.NotesConflict > 0 {
		log.Printf("[IMPORT] Session %d: %d notes skipped, slot already taken", sessionID, result.NotesConflict)
	}
	if result.ReviewsPending > 0 {
		log.Printf("[IMPORT] Session %d: %d notes skipped, review already pending", sessionID, result.ReviewsPending)
	}
	return result, nil
}

func resolveBook(id uint, key string, created map[string]uint) (uint, error) {
	if id != 0 {
		return id, nil
	}
	if bookID, ok := created[key]; ok {
		return bookID, nil
	}
	return 0, fmt.Errorf("batch refers to unknown book %q", key)
}

func slotTaken(tx *gorm.DB, bookID uint, nn NewNote) (bool, error) {
	q := tx.Model(&entities.Note{}).Where("book_id = ? AND type = ?", bookID, nn.Type)
	if nn.LocationStart != nil {
		q = q.Where("location_start = ?", *nn.LocationStart)
	} else {
		q = q.Where("location_start IS NULL AND content_hash = ?", nn.Hash)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check note uniqueness: %w", err)
	}
	return count > 0, nil
}

// reviewPending sees rows created earlier in the same transaction, so two
// identical entries in one batch yield a single review.
func reviewPending(tx *gorm.DB, existingID uint, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var count int64
	err := tx.Model(&entities.ReviewItem{}).
		Where("existing_note_id = ? AND content_hash = ? AND status = ?", existingID, hash, entities.ReviewStatusPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pending reviews: %w", err)
	}
	return count > 0, nil
}
