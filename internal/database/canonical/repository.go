// Package canonical provides database operations for canonical book
// identities, their aliases and the append-only link audit.
//
// # Interface Implementation
//
//	var _ canonical.Store = (*Repository)(nil)
//
// # Usage
//
//	repo, err := canonical.NewRepository(db, 1024)
//	resolver := canonical.NewResolver(repo, catalog, cfg)
package canonical

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	resolver "github.com/mrlokans/marginalia/internal/canonical"
	"github.com/mrlokans/marginalia/internal/entities"
)

var _ resolver.Store = (*Repository)(nil)

// Repository handles canonical identity database operations. Identity reads
// go through an LRU cache that is purged on every identity write.
type Repository struct {
	db    *gorm.DB
	cache *Cache
}

// NewRepository creates a canonical repository with a cache of cacheSize
// entries. A cacheSize of zero or less disables caching.
func NewRepository(db *gorm.DB, cacheSize int) (*Repository, error) {
	cache, err := NewCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create canonical cache: %w", err)
	}
	return &Repository{db: db, cache: cache}, nil
}

func (r *Repository) GetCanonical(ctx context.Context, id string) (*entities.CanonicalBook, error) {
	return r.findOne(ctx, "id:"+id, "id = ?", id)
}

func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*entities.CanonicalBook, error) {
	return r.findOne(ctx, "ext:"+externalID, "external_catalog_id = ?", externalID)
}

func (r *Repository) FindByNormalizedTitle(ctx context.Context, key string) (*entities.CanonicalBook, error) {
	return r.findOne(ctx, "key:"+key, "title_normalized = ?", key)
}

func (r *Repository) findOne(ctx context.Context, cacheKey, query string, arg any) (*entities.CanonicalBook, error) {
	if book, ok := r.cache.Get(cacheKey); ok {
		return &book, nil
	}

	var book entities.CanonicalBook
	err := r.db.WithContext(ctx).Where(query, arg).First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, resolver.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.cache.Add(cacheKey, book)
	return &book, nil
}

func (r *Repository) CreateCanonical(ctx context.Context, book *entities.CanonicalBook) error {
	defer r.cache.Purge()
	return r.db.WithContext(ctx).Create(book).Error
}

func (r *Repository) UpdateCanonical(ctx context.Context, book *entities.CanonicalBook) error {
	defer r.cache.Purge()
	return r.db.WithContext(ctx).Save(book).Error
}

func (r *Repository) FindAlias(ctx context.Context, key string) (*entities.BookAlias, error) {
	var alias entities.BookAlias
	err := r.db.WithContext(ctx).Where("normalized_key = ?", key).First(&alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, resolver.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

func (r *Repository) CreateAlias(ctx context.Context, alias *entities.BookAlias) error {
	return r.db.WithContext(ctx).Create(alias).Error
}

// ListAliases returns the aliases pointing at a canonical identity.
func (r *Repository) ListAliases(ctx context.Context, canonicalID string) ([]entities.BookAlias, error) {
	var aliases []entities.BookAlias
	err := r.db.WithContext(ctx).Where("canonical_book_id = ?", canonicalID).Order("created_at ASC").Find(&aliases).Error
	return aliases, err
}

func (r *Repository) AppendAudit(ctx context.Context, audit *entities.CanonicalLinkAudit) error {
	return r.db.WithContext(ctx).Create(audit).Error
}

func (r *Repository) GetAudit(ctx context.Context, id uint) (*entities.CanonicalLinkAudit, error) {
	var audit entities.CanonicalLinkAudit
	err := r.db.WithContext(ctx).First(&audit, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, resolver.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

// ListAudits returns the audit trail of a canonical identity, oldest first.
func (r *Repository) ListAudits(ctx context.Context, canonicalID string) ([]entities.CanonicalLinkAudit, error) {
	var audits []entities.CanonicalLinkAudit
	err := r.db.WithContext(ctx).Where("canonical_book_id = ?", canonicalID).Order("id ASC").Find(&audits).Error
	return audits, err
}

// ListAwaitingConfirmation returns identities with a pending catalog proposal.
func (r *Repository) ListAwaitingConfirmation(ctx context.Context) ([]entities.CanonicalBook, error) {
	var books []entities.CanonicalBook
	err := r.db.WithContext(ctx).Where("awaiting_confirmation = ?", true).Order("created_at ASC").Find(&books).Error
	return books, err
}

func (r *Repository) RelinkBooks(ctx context.Context, fromID, toID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Book{}).
		Where("canonical_book_id = ?", fromID).
		Update("canonical_book_id", toID)
	return result.RowsAffected, result.Error
}

func (r *Repository) ListProvisional(ctx context.Context) ([]entities.CanonicalBook, error) {
	var books []entities.CanonicalBook
	err := r.db.WithContext(ctx).Where("match_status = ?", entities.MatchStatusProvisional).Order("created_at ASC").Find(&books).Error
	return books, err
}
