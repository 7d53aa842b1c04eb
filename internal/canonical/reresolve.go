package canonical

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mrlokans/marginalia/internal/entities"
)

// ReResolveResult summarises a bulk re-resolution run.
type ReResolveResult struct {
	Total    int      `json:"total"`
	Upgraded int      `json:"upgraded"`
	Pending  int      `json:"pending"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ReResolveProvisional runs resolution again for every provisional identity,
// so that identities created while the catalog was down get upgraded in place.
func (r *Resolver) ReResolveProvisional(ctx context.Context) (*ReResolveResult, error) {
	books, err := r.store.ListProvisional(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provisional canonical books: %w", err)
	}

	result := &ReResolveResult{Total: len(books)}

	for _, book := range books {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, "operation cancelled")
			return result, ctx.Err()
		default:
		}

		author := strings.Join(book.AuthorList(), " & ")
		resolved, err := r.resolve(ctx, book.TitleNormalized, book.TitleCanonical, author)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", book.TitleCanonical, err))
			continue
		}

		if resolved.ID != book.ID || resolved.MatchStatus != entities.MatchStatusProvisional {
			result.Upgraded++
		} else {
			result.Pending++
		}
	}

	log.Printf("[CANONICAL] Re-resolved %d provisional books: %d upgraded, %d still provisional, %d failed",
		result.Total, result.Upgraded, result.Pending, result.Failed)

	return result, nil
}
