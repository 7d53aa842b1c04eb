package importers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/entities"
)

const SourceKindle = "kindle"

// maxStoredErrors bounds the error list kept on a session row.
const maxStoredErrors = 100

// SessionStore persists import sessions.
type SessionStore interface {
	Create(ctx context.Context, session *entities.ImportSession) error
	Update(ctx context.Context, session *entities.ImportSession) error
	Get(ctx context.Context, id uint) (*entities.ImportSession, error)
	Rollback(ctx context.Context, id uint) (*sessions.RollbackResult, error)
}

// AuditLogger receives operational audit events. audit.Service implements it.
type AuditLogger interface {
	LogImport(sessionID uint, source, description string, counts map[string]int, err error)
	LogRollback(sessionID uint, notesDeleted, notesRestored int, err error)
	LogReviewResolve(reviewID uint, resolution entities.ReviewResolution, err error)
}

// Tracker owns the lifecycle of import sessions.
type Tracker struct {
	store SessionStore
	audit AuditLogger
}

// NewTracker creates a tracker. audit may be nil.
func NewTracker(store SessionStore, audit AuditLogger) *Tracker {
	return &Tracker{store: store, audit: audit}
}

// Start opens a running session for source.
func (t *Tracker) Start(ctx context.Context, source string) (*entities.ImportSession, error) {
	session := &entities.ImportSession{
		Source:    source,
		Status:    entities.ImportStatusRunning,
		StartedAt: time.Now(),
	}
	if err := t.store.Create(ctx, session); err != nil {
		return nil, &StorageError{Op: "start session", Err: err}
	}
	log.Printf("[IMPORT] Session %d started (source: %s)", session.ID, source)
	return session, nil
}

// Complete stores the final counters and marks the session completed.
func (t *Tracker) Complete(ctx context.Context, session *entities.ImportSession, result *Result) error {
	now := time.Now()
	session.Status = entities.ImportStatusCompleted
	session.CompletedAt = &now
	session.BooksCreated = result.BooksCreated
	session.NotesAdded = result.NotesAdded
	session.NotesUpdated = result.NotesUpdated
	session.NotesSkipped = result.NotesSkipped
	session.NotesReviewNeeded = result.NotesReviewNeeded
	session.NotesErrored = result.NotesErrored
	session.ParseErrors = result.ParseErrors
	session.Errors = encodeErrors(result.Errors)

	if err := t.store.Update(ctx, session); err != nil {
		return &StorageError{Op: "complete session", Err: err}
	}

	log.Printf("[IMPORT] Session %d completed: %d added, %d updated, %d skipped, %d for review, %d errored, %d parse errors",
		session.ID, result.NotesAdded, result.NotesUpdated, result.NotesSkipped,
		result.NotesReviewNeeded, result.NotesErrored, result.ParseErrors)

	if t.audit != nil {
		t.audit.LogImport(session.ID, session.Source,
			fmt.Sprintf("Imported %d notes into %d new books", result.NotesAdded, result.BooksCreated),
			result.Counts(), nil)
	}
	return nil
}

// Fail marks the session failed with cause. The session row is written with
// a fresh context so that a cancelled import still records its failure.
func (t *Tracker) Fail(session *entities.ImportSession, cause error) error {
	now := time.Now()
	session.Status = entities.ImportStatusFailed
	session.CompletedAt = &now
	session.ErrorMessage = truncate(cause.Error(), 500)

	log.Printf("[IMPORT] Session %d failed: %v", session.ID, cause)

	if t.audit != nil {
		t.audit.LogImport(session.ID, session.Source, "Import failed", nil, cause)
	}

	if err := t.store.Update(context.Background(), session); err != nil {
		return &StorageError{Op: "fail session", Err: err}
	}
	return nil
}

// Rollback undoes a completed or failed session.
func (t *Tracker) Rollback(ctx context.Context, id uint) (*sessions.RollbackResult, error) {
	result, err := t.store.Rollback(ctx, id)
	if err != nil {
		log.Printf("[IMPORT] Rollback of session %d failed: %v", id, err)
		if t.audit != nil {
			t.audit.LogRollback(id, 0, 0, err)
		}
		return nil, err
	}

	log.Printf("[IMPORT] Session %d rolled back: %d notes deleted, %d books deleted, %d notes restored, %d reviews discarded",
		id, result.NotesDeleted, result.BooksDeleted, result.NotesRestored, result.ReviewsDiscarded)

	if t.audit != nil {
		t.audit.LogRollback(id, int(result.NotesDeleted), result.NotesRestored, nil)
	}
	return result, nil
}

// Get returns a stored session.
func (t *Tracker) Get(ctx context.Context, id uint) (*entities.ImportSession, error) {
	return t.store.Get(ctx, id)
}

func encodeErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) > maxStoredErrors {
		errs = errs[:maxStoredErrors]
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return ""
	}
	return string(data)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
