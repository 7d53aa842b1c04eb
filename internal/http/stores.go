package http

import (
	"context"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/importers"
)

// Importer runs clippings imports and resolves review items.
type Importer interface {
	Import(ctx context.Context, source, rawText string) (*importers.Result, error)
	Preview(ctx context.Context, rawText string) (*importers.Result, error)
	ResolveReview(ctx context.Context, id uint, resolution entities.ReviewResolution) (*entities.ReviewItem, error)
}

// SessionStore reads import sessions.
type SessionStore interface {
	List(ctx context.Context, limit, offset int) ([]entities.ImportSession, int64, error)
	Get(ctx context.Context, id uint) (*entities.ImportSession, error)
}

// SessionRollbacker undoes an import session.
type SessionRollbacker interface {
	Rollback(ctx context.Context, id uint) (*sessions.RollbackResult, error)
}

// ReviewStore reads review items.
type ReviewStore interface {
	Get(ctx context.Context, id uint) (*entities.ReviewItem, error)
	ListPending(ctx context.Context, sessionID uint) ([]entities.ReviewItem, error)
}

// CanonicalStore reads canonical identities and their history.
type CanonicalStore interface {
	GetCanonical(ctx context.Context, id string) (*entities.CanonicalBook, error)
	ListAliases(ctx context.Context, canonicalID string) ([]entities.BookAlias, error)
	ListAudits(ctx context.Context, canonicalID string) ([]entities.CanonicalLinkAudit, error)
	ListAwaitingConfirmation(ctx context.Context) ([]entities.CanonicalBook, error)
}

// LinkConfirmer accepts a catalog candidate recorded in an audit row.
type LinkConfirmer interface {
	Confirm(ctx context.Context, auditID uint) (*entities.CanonicalBook, error)
}

// AuditLog reads audit events and records confirmations.
type AuditLog interface {
	GetEvents(ctx context.Context, limit, offset int) ([]entities.AuditEvent, int64, error)
	GetEventsByType(ctx context.Context, eventType entities.AuditEventType, limit, offset int) ([]entities.AuditEvent, int64, error)
	GetSessionEvents(ctx context.Context, sessionID uint) ([]entities.AuditEvent, error)
	LogConfirm(auditID uint, canonicalBookID string, err error)
}

// TaskQueue enqueues background tasks and reports their status.
type TaskQueue interface {
	Enqueue(ctx context.Context, task backlite.Task) (string, error)
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}
