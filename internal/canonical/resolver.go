package canonical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/metadata"
	"github.com/mrlokans/marginalia/internal/titles"
)

func newCanonicalID() string {
	return uuid.NewString()
}

// NormalizedKey is the comparison key a raw title/author pair resolves under.
func NormalizedKey(title, author string) string {
	if key := titles.NormalizeTitleFor(title, author); key != "" {
		return key
	}
	// Titles made only of punctuation still need a stable, non-empty key.
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Resolve returns the canonical identity for a raw title/author pair. A
// failing or unreachable catalog never makes Resolve fail; errors come only
// from the store.
func (r *Resolver) Resolve(ctx context.Context, title, author string) (*entities.CanonicalBook, error) {
	return r.resolve(ctx, NormalizedKey(title, author), title, author)
}

func (r *Resolver) resolve(ctx context.Context, key, title, author string) (*entities.CanonicalBook, error) {
	audit := &entities.CanonicalLinkAudit{
		InputTitle:    title,
		InputAuthor:   author,
		NormalizedKey: key,
	}

	book, err := r.fromAlias(ctx, key)
	if err != nil {
		return nil, err
	}
	if book != nil {
		audit.Decision = entities.DecisionAlias
		audit.Confidence = 1.0
		return r.finish(ctx, audit, book)
	}

	cleanTitle := titles.CleanTitle(title, author)
	cleanAuthor := titles.CleanAuthor(author)

	result := r.search(ctx, cleanTitle, cleanAuthor)
	audit.ProviderAvailable = result.ProviderAvailable
	audit.ProviderError = result.Error

	best, score, err := r.bestCandidate(ctx, key, cleanAuthor, result.Candidates)
	if err != nil {
		return nil, err
	}
	if best != nil {
		recordCandidate(audit, best, score)
	}

	switch {
	case best != nil && score >= r.cfg.VerifiedThreshold:
		audit.Decision = entities.DecisionVerified
		book, err = r.linkVerified(ctx, key, best)
	case best != nil && score >= r.cfg.ConfirmThreshold:
		audit.Decision = entities.DecisionConfirm
		book, err = r.proposeMatch(ctx, key, cleanTitle, cleanAuthor, best)
	default:
		audit.Decision = entities.DecisionProvisional
		book, err = r.findOrCreateProvisional(ctx, key, cleanTitle, cleanAuthor)
	}
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, audit, book)
}

func (r *Resolver) finish(ctx context.Context, audit *entities.CanonicalLinkAudit, book *entities.CanonicalBook) (*entities.CanonicalBook, error) {
	audit.CanonicalBookID = book.ID
	audit.CreatedAt = r.now()
	if err := r.store.AppendAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("failed to append canonical audit: %w", err)
	}
	log.Printf("[CANONICAL] %q -> %s (%s, confidence %.2f, status %s)",
		audit.InputTitle, book.ID, audit.Decision, audit.Confidence, book.MatchStatus)
	return book, nil
}

func (r *Resolver) fromAlias(ctx context.Context, key string) (*entities.CanonicalBook, error) {
	alias, err := r.store.FindAlias(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up alias: %w", err)
	}

	book, err := r.store.GetCanonical(ctx, alias.CanonicalBookID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[CANONICAL] Alias %q points to missing identity %s, resolving again", key, alias.CanonicalBookID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load aliased identity: %w", err)
	}
	return book, nil
}

func (r *Resolver) search(ctx context.Context, title, author string) metadata.SearchResult {
	if r.catalog == nil {
		return metadata.SearchResult{ProviderAvailable: false, Error: "catalog disabled"}
	}
	return r.catalog.Search(ctx, title, author)
}

func (r *Resolver) bestCandidate(ctx context.Context, key, author string, candidates []metadata.Candidate) (*metadata.Candidate, float64, error) {
	var best *metadata.Candidate
	bestScore := -1.0
	for i := range candidates {
		c := &candidates[i]
		if c.CandidateID == "" {
			continue
		}
		_, err := r.store.FindByExternalID(ctx, c.CandidateID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, 0, fmt.Errorf("failed to look up external id: %w", err)
		}
		s := Score(key, author, *c, err == nil)
		if s > bestScore || (s == bestScore && completeness(*c) > completeness(*best)) {
			best, bestScore = c, s
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

// linkVerified applies a high-confidence match. An identity that already
// holds the external id wins, then one with the same normalized title, and
// only then is a new identity created.
func (r *Resolver) linkVerified(ctx context.Context, key string, c *metadata.Candidate) (*entities.CanonicalBook, error) {
	byExt, err := r.store.FindByExternalID(ctx, c.CandidateID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up external id: %w", err)
	}
	byKey, err := r.store.FindByNormalizedTitle(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up normalized title: %w", err)
	}

	if byExt != nil {
		applyCandidate(byExt, c, entities.MatchStatusVerified, entities.MatchSourceAuto)
		if err := r.store.UpdateCanonical(ctx, byExt); err != nil {
			return nil, fmt.Errorf("failed to refresh canonical book: %w", err)
		}
		if byExt.TitleNormalized != key {
			if err := r.linkVariant(ctx, key, byKey, byExt, entities.MatchSourceAuto); err != nil {
				return nil, err
			}
		}
		return byExt, nil
	}

	if byKey != nil {
		if byKey.ExternalCatalogID != nil {
			// Linked to another catalog entry already; keep that link.
			backfill(byKey, c)
		} else {
			applyCandidate(byKey, c, entities.MatchStatusVerified, entities.MatchSourceAuto)
		}
		if err := r.store.UpdateCanonical(ctx, byKey); err != nil {
			return nil, fmt.Errorf("failed to upgrade canonical book: %w", err)
		}
		return byKey, nil
	}

	book := &entities.CanonicalBook{
		ID:              r.newID(),
		TitleNormalized: key,
		MatchStatus:     entities.MatchStatusProvisional,
		MatchSource:     entities.MatchSourceProvisional,
	}
	applyCandidate(book, c, entities.MatchStatusVerified, entities.MatchSourceAuto)
	if err := r.store.CreateCanonical(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to create canonical book: %w", err)
	}
	return book, nil
}

// proposeMatch keeps the identity as it is and flags it for confirmation;
// the candidate itself lives in the audit row.
func (r *Resolver) proposeMatch(ctx context.Context, key, title, author string, c *metadata.Candidate) (*entities.CanonicalBook, error) {
	byExt, err := r.store.FindByExternalID(ctx, c.CandidateID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up external id: %w", err)
	}
	if byExt != nil && byExt.TitleNormalized == key {
		backfill(byExt, c)
		if err := r.store.UpdateCanonical(ctx, byExt); err != nil {
			return nil, fmt.Errorf("failed to refresh canonical book: %w", err)
		}
		return byExt, nil
	}

	book, err := r.findOrCreateProvisional(ctx, key, title, author)
	if err != nil {
		return nil, err
	}
	if book.ExternalCatalogID == nil && !book.AwaitingConfirmation {
		book.AwaitingConfirmation = true
		if err := r.store.UpdateCanonical(ctx, book); err != nil {
			return nil, fmt.Errorf("failed to flag canonical book: %w", err)
		}
	}
	return book, nil
}

func (r *Resolver) findOrCreateProvisional(ctx context.Context, key, title, author string) (*entities.CanonicalBook, error) {
	book, err := r.store.FindByNormalizedTitle(ctx, key)
	if err == nil {
		return book, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up normalized title: %w", err)
	}

	book = &entities.CanonicalBook{
		ID:              r.newID(),
		TitleCanonical:  title,
		TitleNormalized: key,
		MatchStatus:     entities.MatchStatusProvisional,
		MatchSource:     entities.MatchSourceProvisional,
	}
	book.SetAuthors(titles.SplitAuthors(author))
	if err := r.store.CreateCanonical(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to create canonical book: %w", err)
	}
	return book, nil
}

// linkVariant records key as an alias of target and moves books that were
// linked to the variant's own identity over to target.
func (r *Resolver) linkVariant(ctx context.Context, key string, variant, target *entities.CanonicalBook, source entities.MatchSource) error {
	if _, err := r.store.FindAlias(ctx, key); errors.Is(err, ErrNotFound) {
		alias := &entities.BookAlias{
			NormalizedKey:   key,
			CanonicalBookID: target.ID,
			Source:          source,
			CreatedAt:       r.now(),
		}
		if err := r.store.CreateAlias(ctx, alias); err != nil {
			return fmt.Errorf("failed to create alias: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up alias: %w", err)
	}

	// Only identities without a catalog link of their own are merged.
	if variant != nil && variant.ID != target.ID && variant.ExternalCatalogID == nil {
		moved, err := r.store.RelinkBooks(ctx, variant.ID, target.ID)
		if err != nil {
			return fmt.Errorf("failed to relink books: %w", err)
		}
		if variant.AwaitingConfirmation {
			variant.AwaitingConfirmation = false
			if err := r.store.UpdateCanonical(ctx, variant); err != nil {
				return fmt.Errorf("failed to update variant identity: %w", err)
			}
		}
		if moved > 0 {
			log.Printf("[CANONICAL] Relinked %d books from %s to %s", moved, variant.ID, target.ID)
		}
	}
	return nil
}

// applyCandidate links book to the candidate. Status only ever moves up; the
// match source follows the status when it does.
func applyCandidate(book *entities.CanonicalBook, c *metadata.Candidate, status entities.MatchStatus, source entities.MatchSource) {
	id := c.CandidateID
	book.ExternalCatalogID = &id
	if c.Title != "" {
		book.TitleCanonical = c.Title
	}
	if len(c.Authors) > 0 {
		book.SetAuthors(c.Authors)
	}
	if c.ISBN13 != "" {
		isbn := c.ISBN13
		book.ISBN13 = &isbn
	}
	if c.CoverURL != "" {
		cover := c.CoverURL
		book.CoverURL = &cover
	}
	if status.Rank() > book.MatchStatus.Rank() {
		book.MatchStatus = status
		book.MatchSource = source
	}
	book.AwaitingConfirmation = false
}

// backfill fills missing fields without touching the link or the status.
func backfill(book *entities.CanonicalBook, c *metadata.Candidate) {
	if book.ISBN13 == nil && c.ISBN13 != "" {
		isbn := c.ISBN13
		book.ISBN13 = &isbn
	}
	if book.CoverURL == nil && c.CoverURL != "" {
		cover := c.CoverURL
		book.CoverURL = &cover
	}
	if book.Authors == "" && len(c.Authors) > 0 {
		book.SetAuthors(c.Authors)
	}
}

func recordCandidate(audit *entities.CanonicalLinkAudit, c *metadata.Candidate, score float64) {
	audit.CandidateID = c.CandidateID
	audit.CandidateTitle = c.Title
	if len(c.Authors) > 0 {
		data, _ := json.Marshal(c.Authors)
		audit.CandidateAuthors = string(data)
	}
	audit.CandidateISBN13 = c.ISBN13
	audit.CandidateCoverURL = c.CoverURL
	audit.Confidence = score
}
