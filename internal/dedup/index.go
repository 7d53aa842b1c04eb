package dedup

import (
	"strconv"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/kindle"
)

type member struct {
	noteID   uint
	batchPos int
	text     string
	hash     string
}

type Index struct {
	cfg     Config
	exact   map[string]*member
	buckets map[string][]*member
	hashes  map[string]*member
	batch   int
}

type Item struct {
	BookRef string
	Entry   kindle.ParsedEntry
}

// BuildIndex indexes the stored notes. Notes without a stored hash are hashed
// here; notes whose text cannot be hashed are left out.
func BuildIndex(existing []entities.Note, cfg Config) *Index {
	idx := &Index{
		cfg:     cfg,
		exact:   make(map[string]*member, len(existing)),
		buckets: make(map[string][]*member, len(existing)),
		hashes:  make(map[string]*member, len(existing)),
	}

	for i := range existing {
		n := &existing[i]
		hash := n.ContentHash
		if hash == "" {
			h, err := ContentHash(n.Text)
			if err != nil {
				continue
			}
			hash = h
		}
		idx.insert(BookRef(n.BookID), n.Type, n.LocationStart, &member{
			noteID:   n.ID,
			batchPos: -1,
			text:     n.Text,
			hash:     hash,
		})
	}
	return idx
}

func (idx *Index) Config() Config {
	return idx.cfg
}

// Classify decides what to do with one entry of the book identified by bookRef.
func (idx *Index) Classify(bookRef string, e kindle.ParsedEntry) Decision {
	hash, err := ContentHash(e.Content)
	if err != nil {
		return Decision{Kind: KindError, BatchPos: -1, Err: err}
	}

	loc := locationStart(e)

	if m, ok := idx.exact[exactKey(bookRef, e.Type, loc, hash)]; ok {
		return match(KindExactMatch, m, 1.0, hash)
	}
	if loc == nil {
		if m, ok := idx.hashes[hashKey(bookRef, e.Type, hash)]; ok {
			return match(KindExactMatch, m, 1.0, hash)
		}
		return Decision{Kind: KindUnique, BatchPos: -1, Hash: hash}
	}

	candidates := idx.buckets[bucketKey(bookRef, e.Type, loc)]
	var best *member
	bestSim := -1.0
	for _, m := range candidates {
		if sim := Similarity(e.Content, m.text); sim > bestSim {
			best, bestSim = m, sim
		}
	}

	switch {
	case best != nil && bestSim >= idx.cfg.UpdateThreshold && idx.cfg.AutoUpdate:
		return match(KindContentUpdate, best, bestSim, hash)
	case best != nil && bestSim >= idx.cfg.MinThreshold:
		return match(KindManualReview, best, bestSim, hash)
	}

	d := Decision{Kind: KindUnique, BatchPos: -1, Hash: hash}
	if best != nil {
		d.Occupied = true
		d.Similarity = bestSim
		d.ExistingID = best.noteID
		d.BatchPos = best.batchPos
	}
	return d
}

// Add registers an accepted entry so that later entries in the same batch
// are classified against it. It returns the entry's batch position.
func (idx *Index) Add(bookRef string, e kindle.ParsedEntry) (int, error) {
	hash, err := ContentHash(e.Content)
	if err != nil {
		return -1, err
	}
	pos := idx.batch
	idx.batch++
	idx.insert(bookRef, e.Type, locationStart(e), &member{
		batchPos: pos,
		text:     e.Content,
		hash:     hash,
	})
	return pos, nil
}

// Revise replaces the text of the member a content_update decision matched,
// so later entries compare against the newest version.
func (idx *Index) Revise(bookRef string, d Decision, e kindle.ParsedEntry) {
	loc := locationStart(e)
	for _, m := range idx.buckets[bucketKey(bookRef, e.Type, loc)] {
		if (d.ExistingID != 0 && m.noteID == d.ExistingID) || (d.BatchPos >= 0 && m.batchPos == d.BatchPos) {
			m.text = e.Content
			m.hash = d.Hash
			idx.exact[exactKey(bookRef, e.Type, loc, d.Hash)] = m
			idx.hashes[hashKey(bookRef, e.Type, d.Hash)] = m
			return
		}
	}
}

// ClassifyBatch classifies items in order, registering each accepted entry
// before the next one is looked at. A failing entry yields a KindError
// decision and the rest of the batch is still classified.
func (idx *Index) ClassifyBatch(items []Item) []Decision {
	decisions := make([]Decision, len(items))
	for i, it := range items {
		d := idx.Classify(it.BookRef, it.Entry)
		switch {
		case d.Kind == KindUnique && !d.Occupied:
			if _, err := idx.Add(it.BookRef, it.Entry); err != nil {
				d = Decision{Kind: KindError, BatchPos: -1, Err: err}
			}
		case d.Kind == KindContentUpdate:
			idx.Revise(it.BookRef, d, it.Entry)
		}
		decisions[i] = d
	}
	return decisions
}

func (idx *Index) insert(bookRef string, t entities.EntryType, loc *int, m *member) {
	idx.exact[exactKey(bookRef, t, loc, m.hash)] = m
	if _, ok := idx.hashes[hashKey(bookRef, t, m.hash)]; !ok {
		idx.hashes[hashKey(bookRef, t, m.hash)] = m
	}
	if loc != nil {
		key := bucketKey(bookRef, t, loc)
		idx.buckets[key] = append(idx.buckets[key], m)
	}
}

func match(kind Kind, m *member, sim float64, hash string) Decision {
	return Decision{
		Kind:       kind,
		ExistingID: m.noteID,
		BatchPos:   m.batchPos,
		Similarity: sim,
		Hash:       hash,
	}
}

func locationStart(e kindle.ParsedEntry) *int {
	if e.Location == nil {
		return nil
	}
	return &e.Location.Start
}

func locKey(loc *int) string {
	if loc == nil {
		return "-"
	}
	return strconv.Itoa(*loc)
}

func exactKey(bookRef string, t entities.EntryType, loc *int, hash string) string {
	return bookRef + "|" + locKey(loc) + "|" + string(t) + "|" + hash
}

func bucketKey(bookRef string, t entities.EntryType, loc *int) string {
	return bookRef + "|" + locKey(loc) + "|" + string(t)
}

func hashKey(bookRef string, t entities.EntryType, hash string) string {
	return bookRef + "|" + string(t) + "|" + hash
}
