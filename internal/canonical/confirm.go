package canonical

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/metadata"
)

// Confirm accepts the candidate proposed by a confirm-band audit row. If
// another identity already carries the candidate's external id, the audited
// variant becomes an alias of it and its books are relinked; otherwise the
// audited identity is upgraded in place. A user_confirmed audit row is
// appended either way.
func (r *Resolver) Confirm(ctx context.Context, auditID uint) (*entities.CanonicalBook, error) {
	original, err := r.store.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if original.Decision != entities.DecisionConfirm || original.CandidateID == "" {
		return nil, ErrNotConfirmable
	}

	audited, err := r.store.GetCanonical(ctx, original.CanonicalBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical book: %w", err)
	}

	c := &metadata.Candidate{
		CandidateID: original.CandidateID,
		Title:       original.CandidateTitle,
		Authors:     original.CandidateAuthorList(),
		ISBN13:      original.CandidateISBN13,
		CoverURL:    original.CandidateCoverURL,
	}

	byExt, err := r.store.FindByExternalID(ctx, c.CandidateID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up external id: %w", err)
	}

	var result *entities.CanonicalBook
	switch {
	case byExt != nil && byExt.ID != audited.ID:
		backfill(byExt, c)
		if byExt.MatchStatus.Rank() < entities.MatchStatusVerified.Rank() {
			byExt.MatchStatus = entities.MatchStatusVerified
			byExt.MatchSource = entities.MatchSourceUserConfirmed
		}
		if err := r.store.UpdateCanonical(ctx, byExt); err != nil {
			return nil, fmt.Errorf("failed to update canonical book: %w", err)
		}
		if err := r.linkVariant(ctx, original.NormalizedKey, audited, byExt, entities.MatchSourceUserConfirmed); err != nil {
			return nil, err
		}
		result = byExt

	case audited.ExternalCatalogID != nil && *audited.ExternalCatalogID != c.CandidateID:
		return nil, ErrConflict

	default:
		applyCandidate(audited, c, entities.MatchStatusVerified, entities.MatchSourceUserConfirmed)
		if err := r.store.UpdateCanonical(ctx, audited); err != nil {
			return nil, fmt.Errorf("failed to upgrade canonical book: %w", err)
		}
		result = audited
	}

	confirmation := &entities.CanonicalLinkAudit{
		InputTitle:        original.InputTitle,
		InputAuthor:       original.InputAuthor,
		NormalizedKey:     original.NormalizedKey,
		ProviderAvailable: original.ProviderAvailable,
		CandidateID:       original.CandidateID,
		CandidateTitle:    original.CandidateTitle,
		CandidateAuthors:  original.CandidateAuthors,
		CandidateISBN13:   original.CandidateISBN13,
		CandidateCoverURL: original.CandidateCoverURL,
		Confidence:        1.0,
		Decision:          entities.DecisionUserConfirmed,
		CanonicalBookID:   result.ID,
		CreatedAt:         r.now(),
	}
	if err := r.store.AppendAudit(ctx, confirmation); err != nil {
		return nil, fmt.Errorf("failed to append canonical audit: %w", err)
	}

	log.Printf("[CANONICAL] Confirmed audit %d: %q -> %s", auditID, original.InputTitle, result.ID)
	return result, nil
}
