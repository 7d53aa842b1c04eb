package importers

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/marginalia/internal/canonical"
	"github.com/mrlokans/marginalia/internal/database"
	canonicaldb "github.com/mrlokans/marginalia/internal/database/canonical"
	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/database/reviews"
	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/dedup"
	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/metadata"
)

const (
	// ten distinct words
	quickFox = "the quick brown fox jumps over one lazy sleeping dog"
	// quickFox plus one word: similarity 10/11
	quickFoxToday = quickFox + " today"
	// quickFox with one word swapped: similarity 9/11
	quickFoxCat = "the quick brown fox jumps over one lazy sleeping cat"
)

type fakeCatalog struct {
	mu      sync.Mutex
	down    bool
	results map[string][]metadata.Candidate
	calls   int
}

func (c *fakeCatalog) Search(_ context.Context, title, _ string) metadata.SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.down {
		return metadata.SearchResult{Error: "connection refused"}
	}
	return metadata.SearchResult{Candidates: c.results[title], ProviderAvailable: true}
}

type recordingAudit struct {
	mu        sync.Mutex
	imports   []error
	rollbacks []uint
	reviews   []entities.ReviewResolution
}

func (a *recordingAudit) LogImport(_ uint, _, _ string, _ map[string]int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.imports = append(a.imports, err)
}

func (a *recordingAudit) LogRollback(sessionID uint, _, _ int, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollbacks = append(a.rollbacks, sessionID)
}

func (a *recordingAudit) LogReviewResolve(_ uint, resolution entities.ReviewResolution, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reviews = append(a.reviews, resolution)
}

type testEnv struct {
	db        *database.Database
	notes     *notes.Repository
	sessions  *sessions.Repository
	reviews   *reviews.Repository
	canonical *canonicaldb.Repository
	catalog   *fakeCatalog
	audit     *recordingAudit
	tracker   *Tracker
	pipeline  *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	canonicalRepo, err := canonicaldb.NewRepository(db.DB, 64)
	require.NoError(t, err)

	env := &testEnv{
		db:        db,
		notes:     notes.NewRepository(db.DB),
		sessions:  sessions.NewRepository(db.DB),
		reviews:   reviews.NewRepository(db.DB),
		canonical: canonicalRepo,
		catalog:   &fakeCatalog{results: map[string][]metadata.Candidate{}},
		audit:     &recordingAudit{},
	}
	env.tracker = NewTracker(env.sessions, env.audit)
	env.pipeline = env.newPipeline(env.notes)
	return env
}

func (e *testEnv) newPipeline(store NoteStore) *Pipeline {
	resolver := canonical.NewResolver(e.canonical, e.catalog, canonical.DefaultConfig())
	return NewPipeline(Dependencies{
		Notes:    store,
		Reviews:  e.reviews,
		Resolver: resolver,
		Tracker:  e.tracker,
	}, dedup.DefaultConfig())
}

func (e *testEnv) allNotes(t *testing.T) []entities.Note {
	t.Helper()
	all, err := e.notes.AllNotes(context.Background())
	require.NoError(t, err)
	return all
}

func clip(titleLine, kind, location, body string) string {
	meta := "- Your " + kind + " on page 1 | Location " + location + " | Added on Monday, March 3, 2025 9:00:00 PM"
	return titleLine + "\n" + meta + "\n\n" + body + "\n==========\n"
}

func orwellCandidate() metadata.Candidate {
	return metadata.Candidate{
		CandidateID: "/works/OL1168083W",
		Title:       "1984",
		Authors:     []string{"George Orwell"},
		ISBN13:      "9780451524935",
		CoverURL:    "https://covers.openlibrary.org/b/isbn/9780451524935-L.jpg",
	}
}

func TestPipeline_DoubleImportSkipsDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.catalog.results["1984"] = []metadata.Candidate{orwellCandidate()}

	input := clip("1984 (George Orwell)", "Highlight", "15-16", "War is peace. Freedom is slavery. Ignorance is strength.")

	first, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 1, first.NotesAdded)
	assert.Equal(t, 1, first.BooksCreated)
	assert.Zero(t, first.NotesSkipped)

	second, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NotesAdded)
	assert.Equal(t, 1, second.NotesSkipped)
	assert.Zero(t, second.BooksCreated)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	all := env.allNotes(t)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].LocationStart)
	assert.Equal(t, 15, *all[0].LocationStart)
	require.NotNil(t, all[0].LocationEnd)
	assert.Equal(t, 16, *all[0].LocationEnd)

	book, err := env.notes.GetBookByID(ctx, all[0].BookID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.NoteCount)
	require.NotNil(t, book.CanonicalBookID)

	identity, err := env.canonical.GetCanonical(ctx, *book.CanonicalBookID)
	require.NoError(t, err)
	assert.Equal(t, entities.MatchStatusVerified, identity.MatchStatus)
	assert.Equal(t, entities.MatchSourceAuto, identity.MatchSource)

	session, err := env.sessions.Get(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entities.ImportStatusCompleted, session.Status)
	assert.Equal(t, 1, session.NotesSkipped)
	assert.NotNil(t, session.CompletedAt)

	assert.Len(t, env.audit.imports, 2)
}

func TestPipeline_StandaloneBook(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.pipeline.Import(ctx, SourceKindle, clip("Standalone Book", "Highlight", "7", "Some text."))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesAdded)
	assert.Zero(t, result.ParseErrors)

	book, err := env.notes.FindBook(ctx, "Standalone Book", entities.UnknownAuthor)
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, 1, book.NoteCount)
}

func TestPipeline_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	input := clip("Dune (Frank Herbert)", "Highlight", "100-102", "I must not fear.") +
		clip("Dune (Frank Herbert)", "Note", "100", "Litany against fear") +
		"Dune (Frank Herbert)\n- Your Bookmark on page 9 | Added on Monday, March 3, 2025 9:00:00 PM\n\n==========\n" +
		clip("Emma (Jane Austen)", "Highlight", "5", "It is a truth universally acknowledged.") +
		clip("Standalone Book", "Highlight", "1", "Alone.")

	first, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 5, first.NotesAdded)
	assert.Equal(t, 3, first.BooksCreated)

	second, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Zero(t, second.NotesAdded)
	assert.Zero(t, second.NotesUpdated)
	assert.Zero(t, second.NotesReviewNeeded)
	assert.Zero(t, second.BooksCreated)
	assert.Equal(t, 5, second.NotesSkipped)

	assert.Len(t, env.allNotes(t), 5)
}

func TestPipeline_ContentUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFox))
	require.NoError(t, err)

	result, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5-6", quickFoxToday))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesUpdated)
	assert.Zero(t, result.NotesAdded)

	all := env.allNotes(t)
	require.Len(t, all, 1)
	assert.Equal(t, quickFoxToday, all[0].Text)
	require.NotNil(t, all[0].LocationEnd)
	assert.Equal(t, 6, *all[0].LocationEnd)

	// Rolling back the updating session brings the old text back.
	_, err = env.tracker.Rollback(ctx, result.SessionID)
	require.NoError(t, err)
	all = env.allNotes(t)
	require.Len(t, all, 1)
	assert.Equal(t, quickFox, all[0].Text)
}

func TestPipeline_ManualReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFox))
	require.NoError(t, err)

	result, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxCat))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesReviewNeeded)
	assert.Zero(t, result.NotesAdded)
	assert.Zero(t, result.NotesUpdated)

	pending, err := env.reviews.ListPending(ctx, result.SessionID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, quickFoxCat, pending[0].Text)
	assert.InDelta(t, 9.0/11.0, pending[0].Similarity, 0.001)

	item, err := env.pipeline.ResolveReview(ctx, pending[0].ID, entities.ReviewReplace)
	require.NoError(t, err)
	assert.Equal(t, entities.ReviewStatusResolved, item.Status)

	all := env.allNotes(t)
	require.Len(t, all, 1)
	assert.Equal(t, quickFoxCat, all[0].Text)
	assert.Equal(t, []entities.ReviewResolution{entities.ReviewReplace}, env.audit.reviews)

	// The resolved text is now the stored one; importing it again is a no-op.
	again, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxCat))
	require.NoError(t, err)
	assert.Equal(t, 1, again.NotesSkipped)
}

func TestPipeline_DissimilarTextAtTakenLocation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFox))
	require.NoError(t, err)

	result, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", "entirely unrelated words appear here"))
	require.NoError(t, err)
	assert.Zero(t, result.NotesAdded)
	assert.Equal(t, 1, result.NotesReviewNeeded)

	all := env.allNotes(t)
	require.Len(t, all, 1)
	assert.Equal(t, quickFox, all[0].Text)
}

func TestPipeline_InBatchRevision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	input := clip("Dune (Frank Herbert)", "Highlight", "5", quickFox) +
		clip("Dune (Frank Herbert)", "Highlight", "5-7", quickFoxToday) +
		clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxToday)

	result, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesAdded)
	assert.Equal(t, 1, result.NotesUpdated)
	assert.Equal(t, 1, result.NotesSkipped)

	all := env.allNotes(t)
	require.Len(t, all, 1)
	assert.Equal(t, quickFoxToday, all[0].Text)
	require.NotNil(t, all[0].LocationEnd)
	assert.Equal(t, 7, *all[0].LocationEnd)
}

func TestPipeline_InBatchReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	input := clip("Dune (Frank Herbert)", "Highlight", "5", quickFox) +
		clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxCat)

	result, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesAdded)
	assert.Equal(t, 1, result.NotesReviewNeeded)

	all := env.allNotes(t)
	require.Len(t, all, 1)
	pending, err := env.reviews.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, all[0].ID, pending[0].ExistingNoteID)
}

func TestPipeline_RepeatedConflictKeepsOneReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFox))
	require.NoError(t, err)

	conflict := clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxCat)
	first, err := env.pipeline.Import(ctx, SourceKindle, conflict)
	require.NoError(t, err)
	assert.Equal(t, 1, first.NotesReviewNeeded)

	for i := 0; i < 2; i++ {
		again, err := env.pipeline.Import(ctx, SourceKindle, conflict)
		require.NoError(t, err)
		assert.Zero(t, again.NotesReviewNeeded)
		assert.Equal(t, 1, again.NotesSkipped)
	}

	pending, err := env.reviews.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].ImportSessionID)
	assert.Equal(t, first.SessionID, *pending[0].ImportSessionID)
}

func TestPipeline_IdenticalConflictsInOneBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFox))
	require.NoError(t, err)

	input := clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxCat) +
		clip("Dune (Frank Herbert)", "Highlight", "5", quickFoxCat)
	result, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesReviewNeeded)

	pending, err := env.reviews.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPipeline_ErrorsDoNotAbort(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	input := clip("Dune (Frank Herbert)", "Highlight", "1", "First.") +
		"Dune (Frank Herbert)\n- Your Clipping on page 2\n\nUnknown kind\n==========\n" +
		clip("Dune (Frank Herbert)", "Highlight", "2", "") +
		clip("Dune (Frank Herbert)", "Bookmark", "3", "")

	result, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NotesAdded)
	assert.Equal(t, 1, result.ParseErrors)
	assert.Equal(t, 1, result.NotesErrored)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "block 2")
	assert.Contains(t, result.Errors[1], "content")

	session, err := env.sessions.Get(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.ParseErrors)
	assert.Contains(t, session.Errors, "block 2")
}

func TestPipeline_ProviderDown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.catalog.down = true
	env.catalog.results["1984"] = []metadata.Candidate{orwellCandidate()}

	result, err := env.pipeline.Import(ctx, SourceKindle, clip("1984 (George Orwell)", "Highlight", "15-16", "War is peace."))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesAdded)

	all := env.allNotes(t)
	book, err := env.notes.GetBookByID(ctx, all[0].BookID)
	require.NoError(t, err)
	require.NotNil(t, book.CanonicalBookID)

	identity, err := env.canonical.GetCanonical(ctx, *book.CanonicalBookID)
	require.NoError(t, err)
	assert.Equal(t, entities.MatchStatusProvisional, identity.MatchStatus)
	assert.Nil(t, identity.ExternalCatalogID)

	// Once the catalog is back, the same identity is upgraded and the book
	// is found through it.
	env.catalog.down = false
	again, err := env.pipeline.Import(ctx, SourceKindle, clip("1984 (George Orwell)", "Highlight", "15-16", "War is peace."))
	require.NoError(t, err)
	assert.Equal(t, 1, again.NotesSkipped)

	upgraded, err := env.canonical.GetCanonical(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.MatchStatusVerified, upgraded.MatchStatus)
}

func TestPipeline_VariantsShareOneBook(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.catalog.down = true

	input := clip("1984 (George Orwell)", "Highlight", "15", "War is peace.") +
		clip("1984 [Z-Library] (George Orwell)", "Highlight", "20", "Freedom is slavery.")

	result, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BooksCreated)
	assert.Equal(t, 2, result.NotesAdded)

	books, err := env.notes.GetAllBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "1984", books[0].Title)
	assert.Equal(t, 2, books[0].NoteCount)
}

type failingNotes struct {
	*notes.Repository
}

func (failingNotes) ApplyBatch(context.Context, uint, notes.Batch) (*notes.BatchResult, error) {
	return nil, errors.New("disk I/O error")
}

func TestPipeline_StorageFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pipeline := env.newPipeline(failingNotes{env.notes})

	result, err := pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "1", "First."))
	require.Error(t, err)
	assert.Nil(t, result)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "apply batch", storageErr.Op)

	list, total, err := env.sessions.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, entities.ImportStatusFailed, list[0].Status)
	assert.Contains(t, list[0].ErrorMessage, "disk I/O error")

	assert.Empty(t, env.allNotes(t))
	require.Len(t, env.audit.imports, 1)
	assert.Error(t, env.audit.imports[0])
}

func TestPipeline_Rollback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	input := clip("Dune (Frank Herbert)", "Highlight", "1", "First.")

	result, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)

	rolled, err := env.tracker.Rollback(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rolled.NotesDeleted)
	assert.Equal(t, int64(1), rolled.BooksDeleted)
	assert.Equal(t, []uint{result.SessionID}, env.audit.rollbacks)

	assert.Empty(t, env.allNotes(t))

	session, err := env.tracker.Get(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entities.ImportStatusRolledBack, session.Status)

	_, err = env.tracker.Rollback(ctx, result.SessionID)
	assert.ErrorIs(t, err, sessions.ErrNotRollbackable)

	again, err := env.pipeline.Import(ctx, SourceKindle, input)
	require.NoError(t, err)
	assert.Equal(t, 1, again.NotesAdded)
}

func TestPipeline_Preview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.pipeline.Import(ctx, SourceKindle, clip("Dune (Frank Herbert)", "Highlight", "5", quickFox))
	require.NoError(t, err)
	callsBefore := env.catalog.calls

	input := clip("Dune (Frank Herbert)", "Highlight", "5", quickFox) +
		clip("Dune (Frank Herbert)", "Highlight", "9", "Something new.") +
		clip("Emma (Jane Austen)", "Highlight", "1", "Brand new book.")

	result, err := env.pipeline.Preview(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotesSkipped)
	assert.Equal(t, 2, result.NotesAdded)
	assert.Equal(t, 1, result.BooksCreated)
	assert.Len(t, result.Outcomes, 3)
	assert.Zero(t, result.SessionID)

	assert.Len(t, env.allNotes(t), 1)
	_, total, err := env.sessions.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, callsBefore, env.catalog.calls)
}

func TestPipeline_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	session, err := env.tracker.Start(ctx, SourceKindle)
	require.NoError(t, err)
	cancel()

	_, err = env.pipeline.run(ctx, session.ID, clip("Dune (Frank Herbert)", "Highlight", "1", "First."), true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_EmptyInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, raw := range []string{"", "  \n\r\n", "\ufeff"} {
		_, err := env.pipeline.Import(ctx, SourceKindle, raw)
		assert.ErrorIs(t, err, ErrEmptyInput)

		_, err = env.pipeline.Preview(ctx, raw)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}

	_, total, err := env.sessions.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPipeline_LargeInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.catalog.down = true

	var b strings.Builder
	for i := 1; i <= 500; i++ {
		b.WriteString(clip("Dune (Frank Herbert)", "Highlight", strconv.Itoa(i*10), "Line number "+strconv.Itoa(i)))
	}

	result, err := env.pipeline.Import(ctx, SourceKindle, b.String())
	require.NoError(t, err)
	assert.Equal(t, 500, result.NotesAdded)
	assert.Equal(t, 1, result.BooksCreated)
	assert.Len(t, env.allNotes(t), 500)
}
