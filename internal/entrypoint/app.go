package entrypoint

import (
	"fmt"

	"github.com/mrlokans/marginalia/internal/audit"
	"github.com/mrlokans/marginalia/internal/canonical"
	"github.com/mrlokans/marginalia/internal/config"
	"github.com/mrlokans/marginalia/internal/database"
	auditdb "github.com/mrlokans/marginalia/internal/database/audit"
	canonicaldb "github.com/mrlokans/marginalia/internal/database/canonical"
	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/database/reviews"
	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/dedup"
	"github.com/mrlokans/marginalia/internal/importers"
	"github.com/mrlokans/marginalia/internal/metadata"
)

// App is the wired import stack shared by the server and the CLI commands.
type App struct {
	DB        *database.Database
	Notes     *notes.Repository
	Sessions  *sessions.Repository
	Reviews   *reviews.Repository
	Canonical *canonicaldb.Repository
	Resolver  *canonical.Resolver
	Audit     *audit.Service
	Tracker   *importers.Tracker
	Pipeline  *importers.Pipeline
}

// NewApp opens the database at cfg.Database.Path and wires every component
// on top of it. A disabled catalog leaves the resolver offline, so every new
// book gets a provisional identity.
func NewApp(cfg *config.Config) (*App, error) {
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	canonicalRepo, err := canonicaldb.NewRepository(db.DB, cfg.Canonical.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize canonical store: %w", err)
	}

	var catalog canonical.Catalog
	if cfg.Catalog.Enabled {
		catalog = metadata.NewOpenLibraryClient(metadata.Config{
			BaseURL:      cfg.Catalog.BaseURL,
			Timeout:      cfg.Catalog.Timeout,
			ResultLimit:  cfg.Catalog.ResultLimit,
			RateInterval: cfg.Catalog.RateInterval,
		})
	}

	resolver := canonical.NewResolver(canonicalRepo, catalog, canonical.Config{
		VerifiedThreshold: cfg.Canonical.VerifiedThreshold,
		ConfirmThreshold:  cfg.Canonical.ConfirmThreshold,
	})

	auditService := audit.NewService(auditdb.NewRepository(db.DB))
	sessionRepo := sessions.NewRepository(db.DB)
	notesRepo := notes.NewRepository(db.DB)
	reviewRepo := reviews.NewRepository(db.DB)
	tracker := importers.NewTracker(sessionRepo, auditService)

	pipeline := importers.NewPipeline(importers.Dependencies{
		Notes:    notesRepo,
		Reviews:  reviewRepo,
		Resolver: resolver,
		Tracker:  tracker,
	}, dedup.Config{
		UpdateThreshold: cfg.Dedup.UpdateThreshold,
		MinThreshold:    cfg.Dedup.MinThreshold,
		AutoUpdate:      cfg.Dedup.AutoUpdate,
	})

	return &App{
		DB:        db,
		Notes:     notesRepo,
		Sessions:  sessionRepo,
		Reviews:   reviewRepo,
		Canonical: canonicalRepo,
		Resolver:  resolver,
		Audit:     auditService,
		Tracker:   tracker,
		Pipeline:  pipeline,
	}, nil
}

// Close flushes pending audit writes and closes the database.
func (a *App) Close() error {
	a.Audit.Wait()
	return a.DB.Close()
}
