package http

import (
	"github.com/mrlokans/marginalia/internal/database"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Database *database.Database
	Importer Importer

	// Import sessions
	Sessions   SessionStore
	Rollbacker SessionRollbacker

	// Manual review
	Reviews ReviewStore

	// Canonical identities
	Canonical CanonicalStore
	Confirmer LinkConfirmer

	// Audit trail (optional)
	Audit AuditLog

	// Task queue (optional)
	Tasks TaskQueue

	// CatalogEnabled is reported by /health only; the resolver already
	// carries the catalog client.
	CatalogEnabled bool

	// MaxImportBytes caps the size of an uploaded clippings file.
	MaxImportBytes int64

	// Application info
	Version string
}
