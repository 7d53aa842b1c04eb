package reviews

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mrlokans/marginalia/internal/database"
	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/database/sessions"
	"github.com/mrlokans/marginalia/internal/dedup"
	"github.com/mrlokans/marginalia/internal/entities"
)

func intPtr(v int) *int { return &v }

type fixture struct {
	db       *gorm.DB
	repo     *Repository
	notes    *notes.Repository
	sessions *sessions.Repository
	noteID   uint
	bookID   uint
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db.DB,
		repo:     NewRepository(db.DB),
		notes:    notes.NewRepository(db.DB),
		sessions: sessions.NewRepository(db.DB),
	}

	hash, err := dedup.ContentHash("the spice must flow")
	require.NoError(t, err)
	res, err := f.notes.ApplyBatch(ctx, 0, notes.Batch{
		Books: []notes.NewBook{{Key: "k", Title: "Dune", Author: "Frank Herbert"}},
		Notes: []notes.NewNote{{BookKey: "k", Type: entities.EntryTypeHighlight, Text: "the spice must flow", Hash: hash, LocationStart: intPtr(9)}},
	})
	require.NoError(t, err)
	f.bookID = res.BookIDs["k"]

	stored, err := f.notes.NotesByBooks(ctx, []uint{f.bookID})
	require.NoError(t, err)
	f.noteID = stored[0].ID
	return f
}

func (f *fixture) addReview(t *testing.T, sessionID uint, text string) entities.ReviewItem {
	t.Helper()
	_, err := f.notes.ApplyBatch(context.Background(), sessionID, notes.Batch{
		Reviews: []notes.NewReview{{
			BookID:          f.bookID,
			ExistingNoteID:  f.noteID,
			ExistingNotePos: -1,
			Type:            entities.EntryTypeHighlight,
			Text:            text,
			LocationStart:   intPtr(9),
			LocationEnd:     intPtr(11),
			Similarity:      0.8,
		}},
	})
	require.NoError(t, err)

	var item entities.ReviewItem
	require.NoError(t, f.db.Order("id DESC").First(&item).Error)
	return item
}

func TestRepository_ListPending(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session := &entities.ImportSession{Source: "kindle", Status: entities.ImportStatusCompleted}
	require.NoError(t, f.sessions.Create(ctx, session))

	f.addReview(t, 0, "the spice must flow on")
	f.addReview(t, session.ID, "the spice must flow now")

	all, err := f.repo.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bySession, err := f.repo.ListPending(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "the spice must flow now", bySession[0].Text)
}

func TestRepository_ResolveKeepExisting(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	item := f.addReview(t, 0, "the spice must flow on")

	resolved, err := f.repo.Resolve(ctx, item.ID, entities.ReviewKeepExisting)
	require.NoError(t, err)
	assert.Equal(t, entities.ReviewStatusResolved, resolved.Status)
	assert.Equal(t, entities.ReviewKeepExisting, resolved.Resolution)
	assert.NotNil(t, resolved.ResolvedAt)

	note, err := f.notes.GetNoteByID(ctx, f.noteID)
	require.NoError(t, err)
	assert.Equal(t, "the spice must flow", note.Text)

	pending, err := f.repo.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.repo.Resolve(ctx, item.ID, entities.ReviewReplace)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestRepository_ResolveReplace(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session := &entities.ImportSession{Source: "kindle", Status: entities.ImportStatusCompleted}
	require.NoError(t, f.sessions.Create(ctx, session))
	item := f.addReview(t, session.ID, "the spice must flow on")

	_, err := f.repo.Resolve(ctx, item.ID, entities.ReviewReplace)
	require.NoError(t, err)

	note, err := f.notes.GetNoteByID(ctx, f.noteID)
	require.NoError(t, err)
	assert.Equal(t, "the spice must flow on", note.Text)
	expected, err := dedup.ContentHash("the spice must flow on")
	require.NoError(t, err)
	assert.Equal(t, expected, note.ContentHash)
	require.NotNil(t, note.LocationEnd)
	assert.Equal(t, 11, *note.LocationEnd)

	book, err := f.notes.GetBookByID(ctx, f.bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.NoteCount)

	// Rolling back the session that proposed the text restores the note.
	_, err = f.sessions.Rollback(ctx, session.ID)
	require.NoError(t, err)

	note, err = f.notes.GetNoteByID(ctx, f.noteID)
	require.NoError(t, err)
	assert.Equal(t, "the spice must flow", note.Text)
}

func TestRepository_ResolveErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	item := f.addReview(t, 0, "the spice must flow on")

	_, err := f.repo.Resolve(ctx, item.ID, entities.ReviewResolution("merge"))
	assert.Error(t, err)

	_, err = f.repo.Resolve(ctx, 999, entities.ReviewKeepExisting)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	got, err := f.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ReviewStatusPending, got.Status)
}
