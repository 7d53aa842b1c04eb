package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/marginalia/internal/audit"
	"github.com/mrlokans/marginalia/internal/canonical"
	canonicaldb "github.com/mrlokans/marginalia/internal/database/canonical"
	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/database/reviews"
	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/http"
	"github.com/mrlokans/marginalia/internal/importers"
	"github.com/mrlokans/marginalia/internal/metadata"
	"github.com/mrlokans/marginalia/internal/scheduler"
	"github.com/mrlokans/marginalia/internal/tasks"
)

// =============================================================================
// Data Access Layer
// =============================================================================

// Import pipeline storage
var _ importers.NoteStore = (*notes.Repository)(nil)
var _ importers.ReviewStore = (*reviews.Repository)(nil)
var _ importers.SessionStore = (*sessions.Repository)(nil)

// Canonical identity storage
var _ canonical.Store = (*canonicaldb.Repository)(nil)

// HTTP read models
var _ http.SessionStore = (*sessions.Repository)(nil)
var _ http.ReviewStore = (*reviews.Repository)(nil)
var _ http.CanonicalStore = (*canonicaldb.Repository)(nil)

// =============================================================================
// Services
// =============================================================================

var _ importers.Resolver = (*canonical.Resolver)(nil)
var _ importers.AuditLogger = (*audit.Service)(nil)
var _ canonical.Catalog = (*metadata.OpenLibraryClient)(nil)

var _ http.Importer = (*importers.Pipeline)(nil)
var _ http.SessionRollbacker = (*importers.Tracker)(nil)
var _ http.LinkConfirmer = (*canonical.Resolver)(nil)
var _ http.AuditLog = (*audit.Service)(nil)

// =============================================================================
// Background Tasks
// =============================================================================

var _ tasks.ProvisionalResolver = (*canonical.Resolver)(nil)
var _ tasks.ReResolveRecorder = (*audit.Service)(nil)
var _ tasks.AuditEventCleaner = (*audit.Service)(nil)

var _ http.TaskQueue = (*tasks.Client)(nil)
var _ scheduler.Enqueuer = (*tasks.Client)(nil)
