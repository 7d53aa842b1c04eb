package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/marginalia/internal/canonical"
	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/tasks"
)

// CanonicalController exposes canonical book identities, their match audit
// trail and the confirmation workflow.
type CanonicalController struct {
	store     CanonicalStore
	confirmer LinkConfirmer
	audit     AuditLog
	queue     TaskQueue
}

func NewCanonicalController(store CanonicalStore, confirmer LinkConfirmer, audit AuditLog, queue TaskQueue) *CanonicalController {
	return &CanonicalController{
		store:     store,
		confirmer: confirmer,
		audit:     audit,
		queue:     queue,
	}
}

// CanonicalBookDetail is a canonical identity with the keys that resolve to it.
type CanonicalBookDetail struct {
	Book    *entities.CanonicalBook `json:"book"`
	Aliases []entities.BookAlias    `json:"aliases"`
}

// Get handles GET /api/canonical/:id
func (cc *CanonicalController) Get(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	book, err := cc.store.GetCanonical(ctx, id)
	if errors.Is(err, canonical.ErrNotFound) {
		respondNotFound(c, "canonical book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get canonical book")
		return
	}

	aliases, err := cc.store.ListAliases(ctx, id)
	if err != nil {
		respondInternalError(c, err, "list aliases")
		return
	}
	if aliases == nil {
		aliases = []entities.BookAlias{}
	}

	c.JSON(http.StatusOK, CanonicalBookDetail{Book: book, Aliases: aliases})
}

// Audit handles GET /api/canonical/:id/audit
func (cc *CanonicalController) Audit(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := cc.store.GetCanonical(ctx, id); errors.Is(err, canonical.ErrNotFound) {
		respondNotFound(c, "canonical book")
		return
	} else if err != nil {
		respondInternalError(c, err, "get canonical book")
		return
	}

	audits, err := cc.store.ListAudits(ctx, id)
	if err != nil {
		respondInternalError(c, err, "list canonical audits")
		return
	}
	if audits == nil {
		audits = []entities.CanonicalLinkAudit{}
	}

	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

// AwaitingConfirmation handles GET /api/canonical/pending
func (cc *CanonicalController) AwaitingConfirmation(c *gin.Context) {
	books, err := cc.store.ListAwaitingConfirmation(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "list awaiting confirmation")
		return
	}
	if books == nil {
		books = []entities.CanonicalBook{}
	}

	c.JSON(http.StatusOK, gin.H{"books": books, "total": len(books)})
}

// Confirm handles POST /api/canonical/audit/:id/confirm
// It accepts the catalog candidate recorded in the given audit row.
func (cc *CanonicalController) Confirm(c *gin.Context) {
	auditID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	book, err := cc.confirmer.Confirm(c.Request.Context(), auditID)
	if cc.audit != nil {
		var bookID string
		if book != nil {
			bookID = book.ID
		}
		cc.audit.LogConfirm(auditID, bookID, err)
	}

	switch {
	case errors.Is(err, canonical.ErrNotFound):
		respondNotFound(c, "audit entry")
	case errors.Is(err, canonical.ErrNotConfirmable):
		respondConflict(c, codeNotConfirmable, err.Error())
	case errors.Is(err, canonical.ErrConflict):
		respondConflict(c, codeCatalogConflict, err.Error())
	case err != nil:
		respondInternalError(c, err, "confirm canonical match")
	default:
		c.JSON(http.StatusOK, book)
	}
}

// ReResolve handles POST /api/canonical/reresolve
// It enqueues a background retry of every provisional identity.
func (cc *CanonicalController) ReResolve(c *gin.Context) {
	if cc.queue == nil {
		respondError(c, http.StatusServiceUnavailable, "task queue is disabled")
		return
	}

	taskID, err := cc.queue.Enqueue(c.Request.Context(), tasks.ReResolveProvisionalTask{Trigger: "api"})
	if err != nil {
		respondInternalError(c, err, "enqueue re-resolution")
		return
	}

	respondAccepted(c, "re-resolution enqueued", gin.H{"task_id": taskID})
}
