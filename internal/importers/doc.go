// Package importers runs the clippings import pipeline.
//
// # Architecture
//
// One call to Pipeline.Import is one import session:
//
//	raw text → kindle.Parser → validation → canonical.Resolver (per book)
//	         → dedup.Index (per batch) → notes.Batch → ApplyBatch (one transaction)
//
// The Tracker opens the session before anything is parsed and closes it
// with the final counters, or marks it failed when the store refuses the
// batch. Nothing of a failed session is visible afterwards.
//
// Per-entry problems never abort a session: parse failures are counted in
// ParseErrors, entries failing validation or hashing in NotesErrored. Only
// storage failures are fatal and come back as a *StorageError.
//
// # Example Usage
//
//	tracker := importers.NewTracker(sessionRepo, auditService)
//	pipeline := importers.NewPipeline(importers.Dependencies{
//		Notes:    noteRepo,
//		Reviews:  reviewRepo,
//		Resolver: resolver,
//		Tracker:  tracker,
//	}, dedup.DefaultConfig())
//
//	result, err := pipeline.Import(ctx, importers.SourceKindle, rawText)
//
// A nil Resolver runs the pipeline without canonical identities: books are
// then matched by exact title and author only.
package importers
