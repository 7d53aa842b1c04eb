package entities

import (
	"time"

	"gorm.io/gorm"
)

// UnknownAuthor is assigned when a clipping title line carries no author.
const UnknownAuthor = "Unknown Author"

type EntryType string

const (
	EntryTypeHighlight EntryType = "highlight"
	EntryTypeNote      EntryType = "note"
	EntryTypeBookmark  EntryType = "bookmark"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeHighlight, EntryTypeNote, EntryTypeBookmark:
		return true
	}
	return false
}

type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusRunning    ImportStatus = "running"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
	ImportStatusRolledBack ImportStatus = "rolled_back"
)

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusResolved ReviewStatus = "resolved"
)

// ReviewResolution is the outcome chosen for a manual_review conflict.
type ReviewResolution string

const (
	ReviewKeepExisting ReviewResolution = "keep_existing"
	ReviewReplace      ReviewResolution = "replace"
)

func (r ReviewResolution) Valid() bool {
	switch r {
	case ReviewKeepExisting, ReviewReplace:
		return true
	}
	return false
}

// Book groups notes under one title/author as stored. NoteCount is derived
// by the store inside every write transaction and must not be set by callers.
type Book struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"index:idx_book_title_author;size:512" json:"title"`
	Author          string         `gorm:"index:idx_book_title_author;size:256" json:"author"`
	CanonicalBookID *string        `gorm:"index;size:36" json:"canonical_book_id,omitempty"`
	NoteCount       int            `gorm:"default:0" json:"note_count"`
	ImportSessionID *uint          `gorm:"index" json:"imported_from,omitempty"`
	Notes           []Note         `gorm:"foreignKey:BookID" json:"notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"last_modified_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Note is an accepted clipping entry. LocationStart is the primary stable key
// of a note within its book; when absent, ContentHash takes its place.
type Note struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	BookID          uint           `gorm:"index:idx_note_bucket" json:"book_id"`
	Type            EntryType      `gorm:"index:idx_note_bucket;size:20" json:"type"`
	LocationStart   *int           `gorm:"index:idx_note_bucket" json:"location_start,omitempty"`
	LocationEnd     *int           `json:"location_end,omitempty"`
	Page            *int           `json:"page,omitempty"`
	Text            string         `gorm:"type:text" json:"text"`
	ContentHash     string         `gorm:"index;size:16" json:"content_hash"`
	DateAdded       *time.Time     `json:"date_added,omitempty"`
	ImportSessionID *uint          `gorm:"index" json:"imported_from,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// NoteRevision keeps what a content_update replaced, so that the import
// session which made the change can be rolled back.
type NoteRevision struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	NoteID              uint      `gorm:"index" json:"note_id"`
	ImportSessionID     *uint     `gorm:"index" json:"import_session_id,omitempty"`
	PreviousText        string    `gorm:"type:text" json:"previous_text"`
	PreviousHash        string    `gorm:"size:16" json:"previous_hash"`
	PreviousLocationEnd *int      `json:"previous_location_end,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// BookLinkRevision records the canonical identity a stored book pointed at
// before an import session relinked it.
type BookLinkRevision struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	BookID                  uint      `gorm:"index" json:"book_id"`
	ImportSessionID         *uint     `gorm:"index" json:"import_session_id,omitempty"`
	PreviousCanonicalBookID *string   `gorm:"size:36" json:"previous_canonical_book_id,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// ReviewItem is the persisted "awaiting review" state of a manual_review
// decision. The proposed entry is not stored as a Note until resolved.
type ReviewItem struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	BookID          uint             `gorm:"index" json:"book_id"`
	ExistingNoteID  uint             `gorm:"index" json:"existing_note_id"`
	Type            EntryType        `gorm:"size:20" json:"type"`
	Text            string           `gorm:"type:text" json:"text"`
	ContentHash     string           `gorm:"index;size:16" json:"content_hash"`
	Page            *int             `json:"page,omitempty"`
	LocationStart   *int             `json:"location_start,omitempty"`
	LocationEnd     *int             `json:"location_end,omitempty"`
	DateAdded       *time.Time       `json:"date_added,omitempty"`
	Similarity      float64          `json:"similarity"`
	Status          ReviewStatus     `gorm:"index;size:20;default:'pending'" json:"status"`
	Resolution      ReviewResolution `gorm:"size:20" json:"resolution,omitempty"`
	ImportSessionID *uint            `gorm:"index" json:"import_session_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

type ImportSession struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	Source            string       `gorm:"size:50" json:"source"`
	Status            ImportStatus `gorm:"size:20;default:'pending'" json:"status"`
	BooksCreated      int          `json:"books_created"`
	NotesAdded        int          `json:"notes_added"`
	NotesUpdated      int          `json:"notes_updated"`
	NotesSkipped      int          `json:"notes_skipped"`
	NotesReviewNeeded int          `json:"notes_review_needed"`
	NotesErrored      int          `json:"notes_errored"`
	ParseErrors       int          `json:"parse_errors"`
	Errors            string       `gorm:"type:text" json:"errors,omitempty"` // JSON array of errors
	ErrorMessage      string       `gorm:"size:500" json:"error_message,omitempty"`
	StartedAt         time.Time    `json:"started_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
}

func (Book) TableName() string {
	return "books"
}

func (Note) TableName() string {
	return "notes"
}

func (NoteRevision) TableName() string {
	return "note_revisions"
}

func (BookLinkRevision) TableName() string {
	return "book_link_revisions"
}

func (ReviewItem) TableName() string {
	return "review_items"
}

func (ImportSession) TableName() string {
	return "import_sessions"
}
