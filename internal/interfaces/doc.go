// Package interfaces documents the core abstractions used throughout the application.
//
// # Interface Categories
//
// ## Data Access Interfaces
//
//   - importers.NoteStore: Books, notes and batch writes (internal/importers/pipeline.go)
//   - importers.SessionStore: Import session persistence and rollback (internal/importers/tracker.go)
//   - importers.ReviewStore: Dedup review resolution (internal/importers/pipeline.go)
//   - canonical.Store: Canonical identities, aliases and link audit (internal/canonical/canonical.go)
//   - http.SessionStore, http.ReviewStore, http.CanonicalStore: Read models for the API (internal/http/stores.go)
//
// ## External Service Interfaces
//
//   - canonical.Catalog: Bibliographic search used to verify identities (internal/canonical/canonical.go)
//
// ## Background Work Interfaces
//
//   - tasks.ProvisionalResolver: Re-resolution of provisional identities (internal/tasks/reresolve.go)
//   - tasks.AuditEventCleaner: Audit retention (internal/tasks/cleanup_audit.go)
//   - scheduler.Enqueuer: Hands cron-triggered tasks to the queue (internal/scheduler/scheduler.go)
//
// # Adding a New Import Source
//
// The pipeline only understands Kindle clippings today. A new source needs:
//
//  1. A parser in its own package producing kindle.ParsedBook values
//     (or a shared equivalent) so the normalizer and dedup stages apply unchanged.
//
//  2. A method on importers.Pipeline that opens a session with the new
//     source name and feeds the parsed books through the same stages.
//
//  3. An HTTP handler in internal/http/ and a route in router.go.
//
// # Adding a New Catalog
//
// To verify identities against another provider (e.g., Google Books):
//
//  1. Implement canonical.Catalog in internal/metadata/
//
//     type GoogleBooksClient struct {
//         apiKey     string
//         httpClient *http.Client
//     }
//
//     func (c *GoogleBooksClient) Search(ctx context.Context, title, author string) metadata.SearchResult
//
//     var _ canonical.Catalog = (*GoogleBooksClient)(nil)
//
//  2. Select it in entrypoint.NewApp.
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
