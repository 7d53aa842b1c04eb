package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/database/reviews"
	"github.com/mrlokans/marginalia/internal/entities"
)

// ReviewsController lists and resolves entries flagged for manual review.
type ReviewsController struct {
	reviews  ReviewStore
	importer Importer
}

func NewReviewsController(store ReviewStore, importer Importer) *ReviewsController {
	return &ReviewsController{
		reviews:  store,
		importer: importer,
	}
}

// ResolveReviewRequest is the body of POST /api/reviews/:id/resolve.
type ResolveReviewRequest struct {
	Resolution entities.ReviewResolution `json:"resolution" form:"resolution" binding:"required"`
}

// List handles GET /api/reviews
// ?session_id=N restricts the list to one import session.
func (rc *ReviewsController) List(c *gin.Context) {
	sessionID, ok := parseOptionalQueryID(c, "session_id")
	if !ok {
		return
	}

	items, err := rc.reviews.ListPending(c.Request.Context(), sessionID)
	if err != nil {
		respondInternalError(c, err, "list reviews")
		return
	}
	if items == nil {
		items = []entities.ReviewItem{}
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews": items,
		"total":   len(items),
	})
}

// Get handles GET /api/reviews/:id
func (rc *ReviewsController) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	item, err := rc.reviews.Get(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondNotFound(c, "review item")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get review")
		return
	}

	c.JSON(http.StatusOK, item)
}

// Resolve handles POST /api/reviews/:id/resolve
func (rc *ReviewsController) Resolve(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req ResolveReviewRequest
	if err := c.ShouldBind(&req); err != nil {
		respondBadRequest(c, "resolution is required")
		return
	}
	if !req.Resolution.Valid() {
		respondBadRequest(c, "resolution must be keep_existing or replace")
		return
	}

	item, err := rc.importer.ResolveReview(c.Request.Context(), id, req.Resolution)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondNotFound(c, "review item")
	case errors.Is(err, reviews.ErrAlreadyResolved):
		respondConflict(c, codeAlreadyResolved, err.Error())
	case err != nil:
		respondInternalError(c, err, "resolve review")
	default:
		c.JSON(http.StatusOK, item)
	}
}
