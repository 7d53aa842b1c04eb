package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Optional dependencies left nil disable their routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg)

	// Health endpoints
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := router.Group("/api")

	// Import endpoints
	if cfg.Importer != nil {
		kindleImporter := NewKindleImportController(cfg.Importer, cfg.MaxImportBytes)
		api.POST("/import/kindle", kindleImporter.Import)
	}

	// Import session history and rollback
	if cfg.Sessions != nil && cfg.Rollbacker != nil {
		imports := NewImportsController(cfg.Sessions, cfg.Rollbacker, cfg.Reviews, cfg.Audit)
		api.GET("/imports", imports.List)
		api.GET("/imports/:id", imports.Get)
		api.POST("/imports/:id/rollback", imports.Rollback)
	}

	// Manual review endpoints
	if cfg.Reviews != nil && cfg.Importer != nil {
		reviews := NewReviewsController(cfg.Reviews, cfg.Importer)
		api.GET("/reviews", reviews.List)
		api.GET("/reviews/:id", reviews.Get)
		api.POST("/reviews/:id/resolve", reviews.Resolve)
	}

	// Canonical identity endpoints
	if cfg.Canonical != nil && cfg.Confirmer != nil {
		canonicalController := NewCanonicalController(cfg.Canonical, cfg.Confirmer, cfg.Audit, cfg.Tasks)
		api.GET("/canonical/pending", canonicalController.AwaitingConfirmation)
		api.GET("/canonical/:id", canonicalController.Get)
		api.GET("/canonical/:id/audit", canonicalController.Audit)
		api.POST("/canonical/audit/:id/confirm", canonicalController.Confirm)
		api.POST("/canonical/reresolve", canonicalController.ReResolve)
	}

	// Audit log
	if cfg.Audit != nil {
		auditController := NewAuditController(cfg.Audit)
		api.GET("/audit", auditController.GetAuditEvents)
	}

	// Task status
	if cfg.Tasks != nil {
		tasksController := NewTasksController(cfg.Tasks)
		api.GET("/tasks/:id", tasksController.GetTaskStatus)
	}

	return router
}
