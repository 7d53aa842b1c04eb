package canonical

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/metadata"
)

type memStore struct {
	mu        sync.Mutex
	books     map[string]entities.CanonicalBook
	aliases   map[string]entities.BookAlias
	audits    []entities.CanonicalLinkAudit
	links     map[uint]string // library book id -> canonical id
	failAudit bool
}

func newMemStore() *memStore {
	return &memStore{
		books:   make(map[string]entities.CanonicalBook),
		aliases: make(map[string]entities.BookAlias),
		links:   make(map[uint]string),
	}
}

func (s *memStore) GetCanonical(_ context.Context, id string) (*entities.CanonicalBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *memStore) FindByExternalID(_ context.Context, externalID string) (*entities.CanonicalBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.books {
		if b.ExternalCatalogID != nil && *b.ExternalCatalogID == externalID {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindByNormalizedTitle(_ context.Context, key string) (*entities.CanonicalBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.books {
		if b.TitleNormalized == key {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindAlias(_ context.Context, key string) (*entities.BookAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aliases[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *memStore) CreateCanonical(_ context.Context, book *entities.CanonicalBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.books {
		if b.TitleNormalized == book.TitleNormalized {
			return errors.New("UNIQUE constraint failed: canonical_books.title_normalized")
		}
	}
	s.books[book.ID] = *book
	return nil
}

func (s *memStore) UpdateCanonical(_ context.Context, book *entities.CanonicalBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[book.ID]; !ok {
		return ErrNotFound
	}
	s.books[book.ID] = *book
	return nil
}

func (s *memStore) CreateAlias(_ context.Context, alias *entities.BookAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[alias.NormalizedKey]; ok {
		return errors.New("UNIQUE constraint failed: book_aliases.normalized_key")
	}
	s.aliases[alias.NormalizedKey] = *alias
	return nil
}

func (s *memStore) AppendAudit(_ context.Context, audit *entities.CanonicalLinkAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudit {
		return errors.New("disk I/O error")
	}
	audit.ID = uint(len(s.audits) + 1)
	s.audits = append(s.audits, *audit)
	return nil
}

func (s *memStore) GetAudit(_ context.Context, id uint) (*entities.CanonicalLinkAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 || int(id) > len(s.audits) {
		return nil, ErrNotFound
	}
	a := s.audits[id-1]
	return &a, nil
}

func (s *memStore) RelinkBooks(_ context.Context, fromID, toID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for bookID, canonicalID := range s.links {
		if canonicalID == fromID {
			s.links[bookID] = toID
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListProvisional(_ context.Context) ([]entities.CanonicalBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.CanonicalBook
	for _, b := range s.books {
		if b.MatchStatus == entities.MatchStatusProvisional {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TitleNormalized < out[j].TitleNormalized })
	return out, nil
}

func (s *memStore) book(id string) entities.CanonicalBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.books[id]
}

func (s *memStore) auditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

func (s *memStore) lastAudit() entities.CanonicalLinkAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audits[len(s.audits)-1]
}

type fakeCatalog struct {
	mu      sync.Mutex
	down    bool
	results map[string][]metadata.Candidate // by cleaned title
	calls   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{results: make(map[string][]metadata.Candidate)}
}

func (c *fakeCatalog) Search(_ context.Context, title, _ string) metadata.SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.down {
		return metadata.SearchResult{ProviderAvailable: false, Error: "search books: connection refused"}
	}
	return metadata.SearchResult{Candidates: c.results[title], ProviderAvailable: true}
}

func (c *fakeCatalog) set(title string, candidates ...metadata.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[title] = candidates
}

func (c *fakeCatalog) setDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

func (c *fakeCatalog) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
