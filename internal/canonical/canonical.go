// Package canonical resolves raw title/author pairs to shared canonical book
// identities, using an external catalog when it is reachable.
//
// Every call to Resolve ends in exactly one of the bands below and appends
// exactly one CanonicalLinkAudit row:
//
//	alias        a known variant key; no catalog call
//	verified     score >= 0.90, linked automatically
//	confirm      0.70 <= score < 0.90, proposal kept for the user
//	provisional  anything else, including an unavailable catalog
//
// Identities are upgraded in place and never downgraded.
package canonical

import (
	"context"
	"errors"
	"time"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/metadata"
)

var (
	// ErrNotFound is returned by Store lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrNotConfirmable is returned when confirming an audit row that did
	// not propose a candidate.
	ErrNotConfirmable = errors.New("audit entry has no candidate awaiting confirmation")
	// ErrConflict is returned when confirming would replace an identity's
	// existing external catalog link.
	ErrConflict = errors.New("canonical book is already linked to a different catalog entry")
)

// Catalog is the external bibliographic search provider.
type Catalog interface {
	Search(ctx context.Context, title, author string) metadata.SearchResult
}

// Store persists identities, aliases and audit rows. Lookups return
// ErrNotFound when nothing matches.
type Store interface {
	GetCanonical(ctx context.Context, id string) (*entities.CanonicalBook, error)
	FindByExternalID(ctx context.Context, externalID string) (*entities.CanonicalBook, error)
	FindByNormalizedTitle(ctx context.Context, key string) (*entities.CanonicalBook, error)
	FindAlias(ctx context.Context, key string) (*entities.BookAlias, error)
	CreateCanonical(ctx context.Context, book *entities.CanonicalBook) error
	UpdateCanonical(ctx context.Context, book *entities.CanonicalBook) error
	CreateAlias(ctx context.Context, alias *entities.BookAlias) error
	AppendAudit(ctx context.Context, audit *entities.CanonicalLinkAudit) error
	GetAudit(ctx context.Context, id uint) (*entities.CanonicalLinkAudit, error)
	RelinkBooks(ctx context.Context, fromID, toID string) (int64, error)
	ListProvisional(ctx context.Context) ([]entities.CanonicalBook, error)
}

type Config struct {
	VerifiedThreshold float64
	ConfirmThreshold  float64
}

func DefaultConfig() Config {
	return Config{
		VerifiedThreshold: 0.90,
		ConfirmThreshold:  0.70,
	}
}

type Resolver struct {
	store   Store
	catalog Catalog
	cfg     Config
	newID   func() string
	now     func() time.Time
}

// NewResolver creates a resolver. A nil catalog makes every resolution
// behave as if the provider were unreachable.
func NewResolver(store Store, catalog Catalog, cfg Config) *Resolver {
	if cfg.VerifiedThreshold <= 0 {
		cfg.VerifiedThreshold = DefaultConfig().VerifiedThreshold
	}
	if cfg.ConfirmThreshold <= 0 {
		cfg.ConfirmThreshold = DefaultConfig().ConfirmThreshold
	}
	return &Resolver{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		newID:   newCanonicalID,
		now:     time.Now,
	}
}
