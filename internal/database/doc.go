// Package database provides the data access layer for the application.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go   # Connection setup, migrations, stats
//	├── notes/        # Books, notes and atomic import batches
//	├── canonical/    # Canonical identities, aliases, link audit (canonical.Store)
//	├── sessions/     # Import sessions and rollback
//	├── reviews/      # Manual review queue
//	└── audit/        # Operational audit events
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	db, err := database.NewDatabase("./marginalia.db")
//
//	notesRepo := notes.NewRepository(db.DB)
//	canonicalRepo, err := canonical.NewRepository(db.DB, 1024)
//	sessionsRepo := sessions.NewRepository(db.DB)
//
// Every write that touches notes (batch apply, rollback, review resolution)
// runs in a single transaction and recomputes Book.NoteCount before commit.
package database
