package database

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/marginalia/internal/entities"
)

// setupTestDB creates a fresh test database
func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), WithLogLevel(logger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabase(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Ping())

	for _, table := range []string{
		"books", "notes", "note_revisions", "book_link_revisions", "review_items", "import_sessions",
		"canonical_books", "canonical_link_audits", "book_aliases", "audit_events",
	} {
		assert.True(t, db.DB.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestNewDatabase_RecordNotFoundIsNotLogged(t *testing.T) {
	var buf bytes.Buffer
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), WithLogOutput(&buf))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	buf.Reset()

	var alias entities.BookAlias
	err = db.DB.Where("normalized_key = ?", "missing").First(&alias).Error
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Empty(t, buf.String())

	err = db.DB.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	assert.Contains(t, buf.String(), "no_such_table")
}

func TestNewDatabase_BadPath(t *testing.T) {
	_, err := NewDatabase(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	db := setupTestDB(t)

	book := &entities.Book{Title: "Dune", Author: "Frank Herbert"}
	require.NoError(t, db.DB.Create(book).Error)
	require.NoError(t, db.DB.Create(&entities.Note{BookID: book.ID, Type: entities.EntryTypeHighlight, Text: "Fear is the mind-killer."}).Error)
	require.NoError(t, db.DB.Create(&entities.Note{BookID: book.ID, Type: entities.EntryTypeNote, Text: "Litany"}).Error)
	require.NoError(t, db.DB.Create(&entities.CanonicalBook{
		ID:              "b6f1c8a2-0000-4000-8000-000000000001",
		TitleCanonical:  "Dune",
		TitleNormalized: "dune",
		MatchStatus:     entities.MatchStatusProvisional,
		MatchSource:     entities.MatchSourceProvisional,
	}).Error)
	require.NoError(t, db.DB.Create(&entities.ReviewItem{BookID: book.ID, ExistingNoteID: 1, Status: entities.ReviewStatusPending}).Error)
	require.NoError(t, db.DB.Create(&entities.ReviewItem{BookID: book.ID, ExistingNoteID: 1, Status: entities.ReviewStatusResolved}).Error)

	require.NoError(t, db.DB.Create(&entities.ImportSession{Source: "kindle", Status: entities.ImportStatusCompleted}).Error)
	require.NoError(t, db.DB.Create(&entities.ImportSession{Source: "kindle", Status: entities.ImportStatusFailed}).Error)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Books)
	assert.Equal(t, int64(2), stats.Notes)
	assert.Equal(t, int64(1), stats.CanonicalBooks)
	assert.Equal(t, int64(1), stats.ProvisionalBooks)
	assert.Equal(t, int64(1), stats.PendingReviews)
	assert.Equal(t, int64(1), stats.CompletedSessions)
}

func TestCanonicalLinkAudit_WriteOnce(t *testing.T) {
	db := setupTestDB(t)

	row := &entities.CanonicalLinkAudit{
		InputTitle:      "Dune",
		NormalizedKey:   "dune",
		Decision:        entities.DecisionProvisional,
		CanonicalBookID: "b6f1c8a2-0000-4000-8000-000000000001",
	}
	require.NoError(t, db.DB.Create(row).Error)

	err := db.DB.Model(row).Update("decision", entities.DecisionVerified).Error
	assert.ErrorIs(t, err, entities.ErrAuditImmutable)

	err = db.DB.Delete(row).Error
	assert.ErrorIs(t, err, entities.ErrAuditImmutable)

	var count int64
	db.DB.Model(&entities.CanonicalLinkAudit{}).Count(&count)
	assert.Equal(t, int64(1), count)
}
