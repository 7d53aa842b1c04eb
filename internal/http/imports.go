package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/entities"
)

// ImportsController exposes import session history and rollback.
type ImportsController struct {
	sessions   SessionStore
	rollbacker SessionRollbacker
	reviews    ReviewStore
	audit      AuditLog
}

func NewImportsController(store SessionStore, rollbacker SessionRollbacker, reviews ReviewStore, audit AuditLog) *ImportsController {
	return &ImportsController{
		sessions:   store,
		rollbacker: rollbacker,
		reviews:    reviews,
		audit:      audit,
	}
}

// ImportSessionDetail is a session with its pending review items and audit trail.
type ImportSessionDetail struct {
	Session        *entities.ImportSession `json:"session"`
	PendingReviews []entities.ReviewItem   `json:"pending_reviews"`
	Events         []entities.AuditEvent   `json:"events,omitempty"`
}

// List handles GET /api/imports
func (ic *ImportsController) List(c *gin.Context) {
	limit, offset := parsePagination(c)

	list, total, err := ic.sessions.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondInternalError(c, err, "list import sessions")
		return
	}

	c.JSON(http.StatusOK, newPaginatedResponse(list, total, limit, offset))
}

// Get handles GET /api/imports/:id
func (ic *ImportsController) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	session, err := ic.sessions.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondNotFound(c, "import session")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get import session")
		return
	}

	detail := ImportSessionDetail{Session: session, PendingReviews: []entities.ReviewItem{}}
	if ic.reviews != nil {
		pending, err := ic.reviews.ListPending(ctx, id)
		if err != nil {
			respondInternalError(c, err, "list session reviews")
			return
		}
		detail.PendingReviews = pending
	}
	if ic.audit != nil {
		events, err := ic.audit.GetSessionEvents(ctx, id)
		if err != nil {
			respondInternalError(c, err, "list session events")
			return
		}
		detail.Events = events
	}

	c.JSON(http.StatusOK, detail)
}

// Rollback handles POST /api/imports/:id/rollback
func (ic *ImportsController) Rollback(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := ic.rollbacker.Rollback(c.Request.Context(), id)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondNotFound(c, "import session")
	case errors.Is(err, sessions.ErrNotRollbackable):
		respondConflict(c, codeNotRollbackable, err.Error())
	case err != nil:
		respondInternalError(c, err, "rollback import session")
	default:
		c.JSON(http.StatusOK, SuccessResponse{Message: "import session rolled back", Data: result})
	}
}
