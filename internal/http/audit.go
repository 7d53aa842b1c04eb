package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/marginalia/internal/entities"
)

type AuditController struct {
	audit AuditLog
}

func NewAuditController(audit AuditLog) *AuditController {
	return &AuditController{audit: audit}
}

// GetAuditEvents handles GET /api/audit?type=import&limit=25&offset=0
func (ac *AuditController) GetAuditEvents(c *gin.Context) {
	limit, offset := parsePagination(c)
	eventType := entities.AuditEventType(c.Query("type"))
	if eventType != "" && !eventType.Valid() {
		respondBadRequest(c, "unknown audit event type: "+string(eventType))
		return
	}

	var (
		events []entities.AuditEvent
		total  int64
		err    error
	)
	if eventType != "" {
		events, total, err = ac.audit.GetEventsByType(c.Request.Context(), eventType, limit, offset)
	} else {
		events, total, err = ac.audit.GetEvents(c.Request.Context(), limit, offset)
	}
	if err != nil {
		respondInternalError(c, err, "list audit events")
		return
	}
	if events == nil {
		events = []entities.AuditEvent{}
	}

	c.JSON(http.StatusOK, newPaginatedResponse(events, total, limit, offset))
}
