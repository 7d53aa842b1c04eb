package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/marginalia/internal/config"
	http_controllers "github.com/mrlokans/marginalia/internal/http"
	"github.com/mrlokans/marginalia/internal/scheduler"
	"github.com/mrlokans/marginalia/internal/tasks"
)

const (
	jobReResolve    = tasks.QueueReResolve
	jobCleanupAudit = tasks.QueueCleanupAudit

	auditCleanupSchedule = "0 4 * * *" // Daily at 04:00
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting server at %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// kill (no param) sends SIGTERM, kill -2 sends SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop background work before the server so that no task outlives the database
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting Marginalia v%s", version)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	if !cfg.Catalog.Enabled {
		log.Printf("WARNING: catalog lookups are disabled, new books get provisional identities. Set 'CATALOG_ENABLED=true' to enable.")
	}

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	var taskQueue http_controllers.TaskQueue
	var taskCtxCancel context.CancelFunc
	var sched *scheduler.Scheduler
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(tasks.Config{
			Path:            cfg.Database.TasksPath,
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		})
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()
		taskQueue = taskClient

		taskClient.Register(
			tasks.NewReResolveProvisionalQueue(app.Resolver, app.Audit),
			tasks.NewCleanupAuditEventsQueue(app.Audit),
		)

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)

		jobs := []scheduler.Job{{
			Name:     jobCleanupAudit,
			Schedule: auditCleanupSchedule,
			Task:     tasks.CleanupAuditEventsTask{RetentionDays: cfg.Audit.RetentionDays},
		}}
		if cfg.ReResolve.Enabled {
			jobs = append(jobs, scheduler.Job{
				Name:     jobReResolve,
				Schedule: cfg.ReResolve.Schedule,
				Task:     tasks.ReResolveProvisionalTask{Trigger: "scheduler"},
			})
		}
		sched = scheduler.NewScheduler(taskClient, jobs...)
		if err := sched.Start(taskCtx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	} else if cfg.ReResolve.Enabled {
		log.Printf("WARNING: RERESOLVE_ENABLED has no effect while the task queue is disabled")
	}

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Database:       app.DB,
		Importer:       app.Pipeline,
		Sessions:       app.Sessions,
		Rollbacker:     app.Tracker,
		Reviews:        app.Reviews,
		Canonical:      app.Canonical,
		Confirmer:      app.Resolver,
		Audit:          app.Audit,
		Tasks:          taskQueue,
		CatalogEnabled: cfg.Catalog.Enabled,
		MaxImportBytes: cfg.MaxImportBytes(),
		Version:        version,
	})

	onShutdown := func(ctx context.Context) {
		if sched != nil {
			sched.Stop()
		}
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, onShutdown)
}
