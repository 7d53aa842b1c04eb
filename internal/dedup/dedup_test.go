package dedup

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/kindle"
)

func words(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func highlight(loc int, text string) kindle.ParsedEntry {
	return kindle.ParsedEntry{
		Type:     entities.EntryTypeHighlight,
		Content:  text,
		Location: &kindle.Location{Start: loc},
	}
}

func storedNote(id, bookID uint, loc int, text string) entities.Note {
	hash, _ := ContentHash(text)
	return entities.Note{
		ID:            id,
		BookID:        bookID,
		Type:          entities.EntryTypeHighlight,
		LocationStart: &loc,
		Text:          text,
		ContentHash:   hash,
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "Fear is the mind-killer.", "Fear is the mind-killer.", 1.0},
		{"formatting only", "Fear is the   MIND-KILLER!", "fear is the mind killer", 1.0},
		{"both empty", "", "  ", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"half", "a b", "a c d", 0.25},
		{"one empty", "word", "", 0.0},
		{"duplicate words", "the the the cat", "the cat", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Similarity(tt.a, tt.b))
		})
	}
}

func TestContentHash(t *testing.T) {
	h1, err := ContentHash("Big Brother is watching you.")
	require.NoError(t, err)
	h2, err := ContentHash("  big brother is WATCHING you ")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)

	h3, err := ContentHash("Big Sister is watching you.")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	_, err = ContentHash("bad \xff\xfe bytes")
	assert.ErrorIs(t, err, ErrUnhashableContent)
}

func TestClassify_ExactMatch(t *testing.T) {
	idx := BuildIndex([]entities.Note{storedNote(7, 1, 40, "Big Brother is watching you.")}, DefaultConfig())

	d := idx.Classify(BookRef(1), highlight(40, "Big Brother is watching you."))
	assert.Equal(t, KindExactMatch, d.Kind)
	assert.Equal(t, uint(7), d.ExistingID)
	assert.Equal(t, 1.0, d.Similarity)
	assert.False(t, d.InBatch())
}

func TestClassify_ExactMatchIgnoresFormatting(t *testing.T) {
	idx := BuildIndex([]entities.Note{storedNote(7, 1, 40, "Big Brother is watching you.")}, DefaultConfig())

	d := idx.Classify(BookRef(1), highlight(40, "BIG brother is watching   you"))
	assert.Equal(t, KindExactMatch, d.Kind)
}

func TestClassify_ThresholdBoundaries(t *testing.T) {
	base := words(10, "w")
	stored := storedNote(1, 1, 100, strings.Join(base, " "))

	tests := []struct {
		name     string
		text     string
		cfg      Config
		expected Kind
		sim      float64
	}{
		{
			name:     "0.9 updates",
			text:     strings.Join(base[:9], " "),
			cfg:      DefaultConfig(),
			expected: KindContentUpdate,
			sim:      0.9,
		},
		{
			name:     "0.9 without auto-update goes to review",
			text:     strings.Join(base[:9], " "),
			cfg:      Config{UpdateThreshold: 0.9, MinThreshold: 0.8, AutoUpdate: false},
			expected: KindManualReview,
			sim:      0.9,
		},
		{
			name:     "0.8 goes to review",
			text:     strings.Join(base[:8], " "),
			cfg:      DefaultConfig(),
			expected: KindManualReview,
			sim:      0.8,
		},
		{
			name:     "0.7 is unique",
			text:     strings.Join(base[:7], " "),
			cfg:      DefaultConfig(),
			expected: KindUnique,
			sim:      0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := BuildIndex([]entities.Note{stored}, tt.cfg)
			d := idx.Classify(BookRef(1), highlight(100, tt.text))
			assert.Equal(t, tt.expected, d.Kind)
			assert.Equal(t, tt.sim, d.Similarity)
			if tt.expected != KindUnique {
				assert.Equal(t, uint(1), d.ExistingID)
			} else {
				assert.True(t, d.Occupied)
			}
		})
	}
}

func TestClassify_BucketIsolation(t *testing.T) {
	text := strings.Join(words(10, "w"), " ")
	edited := strings.Join(words(9, "w"), " ")
	idx := BuildIndex([]entities.Note{storedNote(1, 1, 100, text)}, DefaultConfig())

	// Same text, different location: not a bucket member, so unique.
	d := idx.Classify(BookRef(1), highlight(101, edited))
	assert.Equal(t, KindUnique, d.Kind)
	assert.False(t, d.Occupied)

	// Different book.
	d = idx.Classify(BookRef(2), highlight(100, edited))
	assert.Equal(t, KindUnique, d.Kind)

	// Different type at the same location.
	note := highlight(100, edited)
	note.Type = entities.EntryTypeNote
	d = idx.Classify(BookRef(1), note)
	assert.Equal(t, KindUnique, d.Kind)
}

func TestClassify_BestCandidateWins(t *testing.T) {
	base := words(10, "w")
	loc := 5
	idx := BuildIndex([]entities.Note{
		storedNote(1, 1, loc, strings.Join(base[:8], " ")),
		storedNote(2, 1, loc, strings.Join(base, " ")),
	}, DefaultConfig())

	d := idx.Classify(BookRef(1), highlight(loc, strings.Join(base[:9], " ")))
	assert.Equal(t, KindContentUpdate, d.Kind)
	assert.Equal(t, uint(2), d.ExistingID)
}

func TestClassify_NoLocationUsesHashSet(t *testing.T) {
	idx := BuildIndex([]entities.Note{storedNote(3, 1, 12, "Some text")}, DefaultConfig())

	e := kindle.ParsedEntry{Type: entities.EntryTypeHighlight, Content: "some text!"}
	d := idx.Classify(BookRef(1), e)
	assert.Equal(t, KindExactMatch, d.Kind)
	assert.Equal(t, uint(3), d.ExistingID)

	e.Content = "other text"
	d = idx.Classify(BookRef(1), e)
	assert.Equal(t, KindUnique, d.Kind)
	assert.False(t, d.Occupied)
}

func TestClassify_MalformedEntry(t *testing.T) {
	idx := BuildIndex(nil, DefaultConfig())

	d := idx.Classify(NewBookRef("x"), highlight(1, "bad \xff"))
	assert.Equal(t, KindError, d.Kind)
	assert.ErrorIs(t, d.Err, ErrUnhashableContent)
}

func TestClassifyBatch_InBatchAndPartialResults(t *testing.T) {
	base := words(10, "w")
	book := NewBookRef("Dune (Frank Herbert)")
	items := []Item{
		{BookRef: book, Entry: highlight(10, "Fear is the mind-killer.")},
		{BookRef: book, Entry: highlight(10, "Fear is the mind-killer.")},
		{BookRef: book, Entry: highlight(20, "bad \xff")},
		{BookRef: book, Entry: highlight(30, strings.Join(base, " "))},
		{BookRef: book, Entry: highlight(30, strings.Join(base[:9], " "))},
		{BookRef: book, Entry: highlight(30, strings.Join(base[:9], " "))},
		{BookRef: book, Entry: highlight(40, "first")},
	}

	decisions := newTestIndex().ClassifyBatch(items)
	require.Len(t, decisions, len(items))

	assert.Equal(t, KindUnique, decisions[0].Kind)
	assert.Equal(t, KindExactMatch, decisions[1].Kind)
	assert.Equal(t, 0, decisions[1].BatchPos)
	assert.True(t, decisions[1].InBatch())
	assert.Equal(t, KindError, decisions[2].Kind)
	assert.Equal(t, KindUnique, decisions[3].Kind)
	assert.Equal(t, KindContentUpdate, decisions[4].Kind)
	assert.Equal(t, 1, decisions[4].BatchPos)
	// The revised text is now what later entries compare against.
	assert.Equal(t, KindExactMatch, decisions[5].Kind)
	assert.Equal(t, KindUnique, decisions[6].Kind)
}

func TestClassifyBatch_Idempotence(t *testing.T) {
	entries := []kindle.ParsedEntry{
		highlight(1, "one"),
		highlight(2, "two"),
		{Type: entities.EntryTypeBookmark, Location: &kindle.Location{Start: 3}},
		{Type: entities.EntryTypeNote, Content: "floating note"},
	}

	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = Item{BookRef: BookRef(1), Entry: e}
	}

	first := BuildIndex(nil, DefaultConfig()).ClassifyBatch(items)

	// Simulate the store accepting every unique entry.
	var stored []entities.Note
	for i, d := range first {
		require.Equal(t, KindUnique, d.Kind)
		n := entities.Note{
			ID:          uint(i + 1),
			BookID:      1,
			Type:        entries[i].Type,
			Text:        entries[i].Content,
			ContentHash: d.Hash,
		}
		if entries[i].Location != nil {
			start := entries[i].Location.Start
			n.LocationStart = &start
		}
		stored = append(stored, n)
	}

	second := BuildIndex(stored, DefaultConfig()).ClassifyBatch(items)
	for i, d := range second {
		assert.Equal(t, KindExactMatch, d.Kind, "entry %d", i)
		assert.Equal(t, uint(i+1), d.ExistingID)
	}
}

func TestBuildIndex_HashesNotesWithoutStoredHash(t *testing.T) {
	loc := 9
	idx := BuildIndex([]entities.Note{{ID: 4, BookID: 2, Type: entities.EntryTypeHighlight, LocationStart: &loc, Text: "legacy"}}, DefaultConfig())

	d := idx.Classify(BookRef(2), highlight(9, "Legacy"))
	assert.Equal(t, KindExactMatch, d.Kind)
	assert.Equal(t, uint(4), d.ExistingID)
}

func newTestIndex() *Index {
	return BuildIndex(nil, DefaultConfig())
}
