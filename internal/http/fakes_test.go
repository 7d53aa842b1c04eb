package http

import (
	"context"
	"sync"

	"github.com/mikestefanello/backlite"
	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/canonical"
	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/importers"
)

type fakeImporter struct {
	result     *importers.Result
	err        error
	lastRaw    string
	lastSource string
	previewed  bool

	resolveErr error
	resolvedID uint
	resolution entities.ReviewResolution
}

func (f *fakeImporter) Import(_ context.Context, source, raw string) (*importers.Result, error) {
	f.lastSource, f.lastRaw = source, raw
	return f.result, f.err
}

func (f *fakeImporter) Preview(_ context.Context, raw string) (*importers.Result, error) {
	f.previewed, f.lastRaw = true, raw
	return f.result, f.err
}

func (f *fakeImporter) ResolveReview(_ context.Context, id uint, resolution entities.ReviewResolution) (*entities.ReviewItem, error) {
	f.resolvedID, f.resolution = id, resolution
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &entities.ReviewItem{ID: id, Status: entities.ReviewStatusResolved, Resolution: resolution}, nil
}

type fakeSessions struct {
	sessions []entities.ImportSession
}

func (f *fakeSessions) List(_ context.Context, limit, offset int) ([]entities.ImportSession, int64, error) {
	total := int64(len(f.sessions))
	if offset >= len(f.sessions) {
		return []entities.ImportSession{}, total, nil
	}
	end := offset + limit
	if end > len(f.sessions) {
		end = len(f.sessions)
	}
	return f.sessions[offset:end], total, nil
}

func (f *fakeSessions) Get(_ context.Context, id uint) (*entities.ImportSession, error) {
	for i := range f.sessions {
		if f.sessions[i].ID == id {
			return &f.sessions[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeRollbacker struct {
	result *sessions.RollbackResult
	err    error
}

func (f *fakeRollbacker) Rollback(context.Context, uint) (*sessions.RollbackResult, error) {
	return f.result, f.err
}

type fakeReviews struct {
	items []entities.ReviewItem
}

func (f *fakeReviews) Get(_ context.Context, id uint) (*entities.ReviewItem, error) {
	for i := range f.items {
		if f.items[i].ID == id {
			return &f.items[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeReviews) ListPending(_ context.Context, sessionID uint) ([]entities.ReviewItem, error) {
	var out []entities.ReviewItem
	for _, item := range f.items {
		if sessionID == 0 || (item.ImportSessionID != nil && *item.ImportSessionID == sessionID) {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeCanonical struct {
	books   map[string]*entities.CanonicalBook
	aliases []entities.BookAlias
	audits  []entities.CanonicalLinkAudit
}

func (f *fakeCanonical) GetCanonical(_ context.Context, id string) (*entities.CanonicalBook, error) {
	book, ok := f.books[id]
	if !ok {
		return nil, canonical.ErrNotFound
	}
	return book, nil
}

func (f *fakeCanonical) ListAliases(_ context.Context, id string) ([]entities.BookAlias, error) {
	var out []entities.BookAlias
	for _, a := range f.aliases {
		if a.CanonicalBookID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeCanonical) ListAudits(_ context.Context, id string) ([]entities.CanonicalLinkAudit, error) {
	var out []entities.CanonicalLinkAudit
	for _, a := range f.audits {
		if a.CanonicalBookID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeCanonical) ListAwaitingConfirmation(context.Context) ([]entities.CanonicalBook, error) {
	var out []entities.CanonicalBook
	for _, b := range f.books {
		if b.AwaitingConfirmation {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeConfirmer struct {
	book *entities.CanonicalBook
	err  error
}

func (f *fakeConfirmer) Confirm(context.Context, uint) (*entities.CanonicalBook, error) {
	return f.book, f.err
}

type confirmRecord struct {
	auditID uint
	bookID  string
	err     error
}

type fakeAudit struct {
	events   []entities.AuditEvent
	confirms []confirmRecord
}

func (f *fakeAudit) GetEvents(_ context.Context, limit, offset int) ([]entities.AuditEvent, int64, error) {
	return f.events, int64(len(f.events)), nil
}

func (f *fakeAudit) GetEventsByType(_ context.Context, eventType entities.AuditEventType, limit, offset int) ([]entities.AuditEvent, int64, error) {
	var out []entities.AuditEvent
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeAudit) GetSessionEvents(context.Context, uint) ([]entities.AuditEvent, error) {
	return f.events, nil
}

func (f *fakeAudit) LogConfirm(auditID uint, bookID string, err error) {
	f.confirms = append(f.confirms, confirmRecord{auditID, bookID, err})
}

type fakeQueue struct {
	mu     sync.Mutex
	tasks  []backlite.Task
	status backlite.TaskStatus
	err    error
}

func (f *fakeQueue) Enqueue(_ context.Context, task backlite.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, task)
	return "task-42", nil
}

func (f *fakeQueue) Status(context.Context, string) (backlite.TaskStatus, error) {
	return f.status, f.err
}
