package importers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mrlokans/marginalia/internal/database/notes"
	"github.com/mrlokans/marginalia/internal/dedup"
	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/kindle"
)

// NoteStore is the part of the notes repository the pipeline needs.
type NoteStore interface {
	FindBook(ctx context.Context, title, author string) (*entities.Book, error)
	FindBookByCanonical(ctx context.Context, canonicalID string) (*entities.Book, error)
	NotesByBooks(ctx context.Context, bookIDs []uint) ([]entities.Note, error)
	ApplyBatch(ctx context.Context, sessionID uint, b notes.Batch) (*notes.BatchResult, error)
}

type ReviewStore interface {
	Resolve(ctx context.Context, id uint, resolution entities.ReviewResolution) (*entities.ReviewItem, error)
}

// Resolver maps a raw title/author pair to its canonical identity.
// canonical.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, title, author string) (*entities.CanonicalBook, error)
}

type Dependencies struct {
	Notes    NoteStore
	Reviews  ReviewStore
	Resolver Resolver
	Tracker  *Tracker
}

// Pipeline handles the import workflow:
// parse → validate → resolve → deduplicate → save.
type Pipeline struct {
	parser   *kindle.Parser
	notes    NoteStore
	reviews  ReviewStore
	resolver Resolver
	tracker  *Tracker
	cfg      dedup.Config
}

// NewPipeline creates a new import pipeline.
func NewPipeline(deps Dependencies, cfg dedup.Config) *Pipeline {
	return &Pipeline{
		parser:   kindle.NewParser(),
		notes:    deps.Notes,
		reviews:  deps.Reviews,
		resolver: deps.Resolver,
		tracker:  deps.Tracker,
		cfg:      cfg,
	}
}

// Outcome is what happened to one parsed entry.
type Outcome struct {
	Block  int        `json:"block"`
	Book   string     `json:"book"`
	Kind   dedup.Kind `json:"kind"`
	Detail string     `json:"detail,omitempty"`
}

// Result contains the outcome of an import operation.
type Result struct {
	SessionID         uint      `json:"session_id,omitempty"`
	BooksCreated      int       `json:"books_created"`
	NotesAdded        int       `json:"notes_added"`
	NotesUpdated      int       `json:"notes_updated"`
	NotesSkipped      int       `json:"notes_skipped"`
	NotesReviewNeeded int       `json:"notes_review_needed"`
	NotesErrored      int       `json:"notes_errored"`
	ParseErrors       int       `json:"parse_errors"`
	Errors            []string  `json:"errors,omitempty"`
	Outcomes          []Outcome `json:"-"`
}

// Counts returns the counters keyed by their JSON names.
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"books_created":       r.BooksCreated,
		"notes_added":         r.NotesAdded,
		"notes_updated":       r.NotesUpdated,
		"notes_skipped":       r.NotesSkipped,
		"notes_review_needed": r.NotesReviewNeeded,
		"notes_errored":       r.NotesErrored,
		"parse_errors":        r.ParseErrors,
	}
}

// Import runs one import session over rawText. Per-entry problems are
// reported in the result; the returned error is non-nil only when the
// session failed, in which case nothing of it was stored.
func (p *Pipeline) Import(ctx context.Context, source, rawText string) (*Result, error) {
	if strings.TrimSpace(strings.TrimPrefix(rawText, "\ufeff")) == "" {
		return nil, ErrEmptyInput
	}

	session, err := p.tracker.Start(ctx, source)
	if err != nil {
		return nil, err
	}

	result, err := p.run(ctx, session.ID, rawText, true)
	if err != nil {
		if failErr := p.tracker.Fail(session, err); failErr != nil {
			log.Printf("[IMPORT] Could not record failure of session %d: %v", session.ID, failErr)
		}
		return nil, err
	}
	result.SessionID = session.ID

	if err := p.tracker.Complete(ctx, session, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Preview classifies rawText against the stored notes without writing
// anything: no session, no canonical identities, no notes. Books are matched
// by exact title and author only.
func (p *Pipeline) Preview(ctx context.Context, rawText string) (*Result, error) {
	if strings.TrimSpace(strings.TrimPrefix(rawText, "\ufeff")) == "" {
		return nil, ErrEmptyInput
	}
	return p.run(ctx, 0, rawText, false)
}

// ResolveReview closes a manual review item.
func (p *Pipeline) ResolveReview(ctx context.Context, id uint, resolution entities.ReviewResolution) (*entities.ReviewItem, error) {
	item, err := p.reviews.Resolve(ctx, id, resolution)
	if p.tracker != nil && p.tracker.audit != nil {
		p.tracker.audit.LogReviewResolve(id, resolution, err)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[IMPORT] Review item %d resolved: %s", id, resolution)
	return item, nil
}

// bookPlan is where the entries of one parsed book end up.
type bookPlan struct {
	ref         string
	storedID    uint
	newKey      string
	title       string
	author      string
	canonicalID *string
	queued      bool
}

func (p *Pipeline) run(ctx context.Context, sessionID uint, rawText string, write bool) (*Result, error) {
	result := &Result{}

	parsed := p.parser.Parse(rawText)
	result.ParseErrors = len(parsed.Errors)
	for _, pe := range parsed.Errors {
		result.Errors = append(result.Errors, pe.Error())
	}

	var valid []kindle.ParsedEntry
	for _, e := range parsed.Entries {
		if err := validateEntry(e); err != nil {
			result.NotesErrored++
			result.Errors = append(result.Errors, err.Error())
			result.Outcomes = append(result.Outcomes, Outcome{Block: e.Block, Book: e.BookIdentifier, Kind: dedup.KindError, Detail: err.Error()})
			continue
		}
		valid = append(valid, e)
	}

	wanted := make(map[string]bool, len(parsed.Books))
	for _, e := range valid {
		wanted[e.BookIdentifier] = true
	}

	plans, storedIDs, links, err := p.planBooks(ctx, parsed.Books, wanted, write)
	if err != nil {
		return nil, err
	}

	existing, err := p.notes.NotesByBooks(ctx, storedIDs)
	if err != nil {
		return nil, &StorageError{Op: "load notes", Err: err}
	}
	idx := dedup.BuildIndex(existing, p.cfg)

	items := make([]dedup.Item, len(valid))
	for i, e := range valid {
		items[i] = dedup.Item{BookRef: plans[e.BookIdentifier].ref, Entry: e}
	}
	decisions := idx.ClassifyBatch(items)

	batch := notes.Batch{Links: links}
	t := p.buildBatch(&batch, valid, plans, decisions, result)

	if !write {
		result.BooksCreated = len(batch.Books)
		result.NotesAdded = len(batch.Notes)
		result.NotesUpdated = len(batch.Updates) + t.mergedUpdates
		result.NotesSkipped = t.exact
		result.NotesReviewNeeded = len(batch.Reviews)
		return result, nil
	}

	applied := &notes.BatchResult{}
	if !batch.Empty() {
		applied, err = p.notes.ApplyBatch(ctx, sessionID, batch)
		if err != nil {
			return nil, &StorageError{Op: "apply batch", Err: err}
		}
	}

	result.BooksCreated = applied.BooksCreated
	result.NotesAdded = applied.NotesAdded
	result.NotesUpdated = applied.NotesUpdated + t.mergedUpdates
	result.NotesSkipped = t.exact + applied.NotesConflict + applied.ReviewsPending
	result.NotesReviewNeeded = applied.ReviewsCreated
	return result, nil
}

// planBooks decides for every parsed book with at least one valid entry
// which stored book it belongs to, or that a new one is needed. Parsed books
// resolving to the same canonical identity share one plan.
func (p *Pipeline) planBooks(ctx context.Context, books []kindle.ParsedBook, wanted map[string]bool, resolve bool) (map[string]*bookPlan, []uint, []notes.BookLink, error) {
	plans := make(map[string]*bookPlan, len(books))
	byCanonical := make(map[string]*bookPlan)
	byStored := make(map[uint]*bookPlan)
	var storedIDs []uint
	var links []notes.BookLink

	for _, b := range books {
		if !wanted[b.Identifier] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		var canonicalID *string
		if resolve && p.resolver != nil {
			cb, err := p.resolver.Resolve(ctx, b.Title, b.Author)
			if err != nil {
				return nil, nil, nil, &StorageError{Op: "resolve canonical book", Err: err}
			}
			id := cb.ID
			canonicalID = &id
			if plan, ok := byCanonical[id]; ok {
				plans[b.Identifier] = plan
				continue
			}
		}

		stored, err := p.findStored(ctx, b, canonicalID)
		if err != nil {
			return nil, nil, nil, err
		}

		var plan *bookPlan
		switch {
		case stored != nil && byStored[stored.ID] != nil:
			plan = byStored[stored.ID]
		case stored != nil:
			plan = &bookPlan{ref: dedup.BookRef(stored.ID), storedID: stored.ID}
			byStored[stored.ID] = plan
			storedIDs = append(storedIDs, stored.ID)
			if canonicalID != nil && stored.CanonicalBookID == nil {
				links = append(links, notes.BookLink{BookID: stored.ID, CanonicalBookID: *canonicalID})
			}
		default:
			key := b.Identifier
			if canonicalID != nil {
				key = *canonicalID
			}
			plan = &bookPlan{
				ref:         dedup.NewBookRef(key),
				newKey:      key,
				title:       b.Title,
				author:      b.Author,
				canonicalID: canonicalID,
			}
		}

		plans[b.Identifier] = plan
		if canonicalID != nil {
			byCanonical[*canonicalID] = plan
		}
	}
	return plans, storedIDs, links, nil
}

func (p *Pipeline) findStored(ctx context.Context, b kindle.ParsedBook, canonicalID *string) (*entities.Book, error) {
	if canonicalID != nil {
		book, err := p.notes.FindBookByCanonical(ctx, *canonicalID)
		if err != nil {
			return nil, &StorageError{Op: "find book", Err: err}
		}
		if book != nil {
			return book, nil
		}
	}
	book, err := p.notes.FindBook(ctx, b.Title, b.Author)
	if err != nil {
		return nil, &StorageError{Op: "find book", Err: err}
	}
	return book, nil
}

type tally struct {
	exact         int
	mergedUpdates int
}

// buildBatch turns decisions into batch operations. Batch.Notes is appended
// in the same order the index handed out batch positions, so a decision's
// BatchPos indexes Batch.Notes directly.
func (p *Pipeline) buildBatch(batch *notes.Batch, entries []kindle.ParsedEntry, plans map[string]*bookPlan, decisions []dedup.Decision, result *Result) tally {
	var t tally
	updateAt := make(map[uint]int)

	for i, d := range decisions {
		e := entries[i]
		plan := plans[e.BookIdentifier]
		outcome := Outcome{Block: e.Block, Book: e.BookIdentifier, Kind: d.Kind, Detail: d.String()}

		switch d.Kind {
		case dedup.KindError:
			result.NotesErrored++
			result.Errors = append(result.Errors, fmt.Sprintf("block %d: %v", e.Block, d.Err))

		case dedup.KindExactMatch:
			t.exact++

		case dedup.KindUnique:
			if d.Occupied {
				outcome.Kind = dedup.KindManualReview
				batch.Reviews = append(batch.Reviews, newReview(batch, plan, e, d))
				break
			}
			queueBook(batch, plan)
			batch.Notes = append(batch.Notes, notes.NewNote{
				BookID:        plan.storedID,
				BookKey:       plan.newKey,
				Type:          e.Type,
				Text:          e.Content,
				Hash:          d.Hash,
				Page:          e.Page,
				LocationStart: locStart(e),
				LocationEnd:   locEnd(e),
				DateAdded:     e.Timestamp,
			})

		case dedup.KindContentUpdate:
			if d.InBatch() {
				n := &batch.Notes[d.BatchPos]
				n.Text = e.Content
				n.Hash = d.Hash
				if end := locEnd(e); end != nil {
					n.LocationEnd = end
				}
				t.mergedUpdates++
				break
			}
			u := notes.NoteUpdate{NoteID: d.ExistingID, Text: e.Content, Hash: d.Hash, LocationEnd: locEnd(e)}
			if at, ok := updateAt[d.ExistingID]; ok {
				batch.Updates[at] = u
				t.mergedUpdates++
				break
			}
			updateAt[d.ExistingID] = len(batch.Updates)
			batch.Updates = append(batch.Updates, u)

		case dedup.KindManualReview:
			batch.Reviews = append(batch.Reviews, newReview(batch, plan, e, d))
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}
	return t
}

func newReview(batch *notes.Batch, plan *bookPlan, e kindle.ParsedEntry, d dedup.Decision) notes.NewReview {
	queueBook(batch, plan)
	return notes.NewReview{
		BookID:          plan.storedID,
		BookKey:         plan.newKey,
		ExistingNoteID:  d.ExistingID,
		ExistingNotePos: d.BatchPos,
		Type:            e.Type,
		Text:            e.Content,
		Hash:            d.Hash,
		Page:            e.Page,
		LocationStart:   locStart(e),
		LocationEnd:     locEnd(e),
		DateAdded:       e.Timestamp,
		Similarity:      d.Similarity,
	}
}

// queueBook adds the plan's book to the batch the first time an entry needs it.
func queueBook(batch *notes.Batch, plan *bookPlan) {
	if plan.storedID != 0 || plan.queued {
		return
	}
	plan.queued = true
	batch.Books = append(batch.Books, notes.NewBook{
		Key:             plan.newKey,
		Title:           plan.title,
		Author:          plan.author,
		CanonicalBookID: plan.canonicalID,
	})
}

func locStart(e kindle.ParsedEntry) *int {
	if e.Location == nil {
		return nil
	}
	start := e.Location.Start
	return &start
}

func locEnd(e kindle.ParsedEntry) *int {
	if e.Location == nil {
		return nil
	}
	return e.Location.End
}
