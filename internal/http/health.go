package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/marginalia/internal/database"
)

const (
	healthy   = "healthy"
	unhealthy = "unhealthy"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
	Stats   *database.Stats   `json:"stats,omitempty"`
}

// HealthController reports liveness. Only the database can make the service
// unhealthy; a disabled catalog or task queue is reported but tolerated.
type HealthController struct {
	db             *database.Database
	queue          TaskQueue
	catalogEnabled bool
	version        string
}

func NewHealthController(cfg RouterConfig) *HealthController {
	return &HealthController{
		db:             cfg.Database,
		queue:          cfg.Tasks,
		catalogEnabled: cfg.CatalogEnabled,
		version:        cfg.Version,
	}
}

func (h *HealthController) Status(c *gin.Context) {
	resp := HealthResponse{
		Status:  healthy,
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  map[string]string{},
	}

	if h.db == nil {
		resp.Checks["database"] = "not configured"
	} else if err := h.db.Ping(); err != nil {
		resp.Checks["database"] = "error: " + err.Error()
		resp.Status = unhealthy
	} else {
		resp.Checks["database"] = "ok"
		// Row counts are informational; a failed count leaves them out.
		resp.Stats, _ = h.db.GetStats()
	}

	resp.Checks["tasks"] = enabledOr(h.queue != nil, "ok", "disabled")
	resp.Checks["catalog"] = enabledOr(h.catalogEnabled, "ok", "offline")

	code := http.StatusOK
	if resp.Status != healthy {
		code = http.StatusServiceUnavailable
	}
	c.IndentedJSON(code, resp)
}

func enabledOr(enabled bool, on, off string) string {
	if enabled {
		return on
	}
	return off
}
