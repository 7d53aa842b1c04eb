// Package metadata is the external catalog client used by canonical book
// resolution. It talks to the OpenLibrary search API.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL     = "https://openlibrary.org"
	DefaultTimeout     = 5 * time.Second
	DefaultResultLimit = 5

	userAgent = "Marginalia/1.0 (https://github.com/mrlokans/marginalia)"
)

// Candidate is one catalog search hit.
type Candidate struct {
	CandidateID string   `json:"candidate_id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	ISBN13      string   `json:"isbn13,omitempty"`
	Year        int      `json:"first_publish_year,omitempty"`
}

// SearchResult never carries a Go error: an unreachable or failing provider
// is reported through ProviderAvailable and Error so callers can degrade.
type SearchResult struct {
	Candidates        []Candidate `json:"candidates"`
	ProviderAvailable bool        `json:"provider_available"`
	Error             string      `json:"error,omitempty"`
}

// Config for the catalog client. Zero values fall back to the defaults.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ResultLimit int
	// RateInterval is the minimum gap between two requests.
	RateInterval time.Duration
}

// OpenLibraryClient fetches candidate books from the OpenLibrary API.
type OpenLibraryClient struct {
	httpClient  *http.Client
	baseURL     string
	timeout     time.Duration
	limit       int
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu       sync.Mutex
	lastCall time.Time
	interval time.Duration
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

// wait blocks until the next call is allowed or ctx is done.
func (r *rateLimiter) wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	since := time.Since(r.lastCall)
	if since < r.interval {
		timer := time.NewTimer(r.interval - since)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	r.lastCall = time.Now()
	return nil
}

// NewOpenLibraryClient creates a new OpenLibrary API client with rate limiting.
func NewOpenLibraryClient(cfg Config) *OpenLibraryClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = DefaultResultLimit
	}
	if cfg.RateInterval < 0 {
		cfg.RateInterval = 0
	}

	return &OpenLibraryClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		limit:       cfg.ResultLimit,
		rateLimiter: newRateLimiter(cfg.RateInterval),
	}
}

// Search looks up candidates for a cleaned title and author. The whole call,
// including the optional edition lookup, is bounded by the client timeout.
func (c *OpenLibraryClient) Search(ctx context.Context, title, author string) SearchResult {
	if strings.TrimSpace(title) == "" {
		return SearchResult{ProviderAvailable: true, Error: "title is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	docs, err := c.search(ctx, title, author)
	if err != nil {
		return SearchResult{ProviderAvailable: false, Error: err.Error()}
	}

	candidates := make([]Candidate, 0, len(docs))
	for i := range docs {
		candidates = append(candidates, convertSearchDoc(&docs[i]))
	}

	// If the top hit has no ISBN but we have a cover edition key, fetch edition details
	if len(candidates) > 0 && candidates[0].ISBN13 == "" && docs[0].CoverEditionKey != "" {
		if edition, err := c.fetchEditionDetails(ctx, docs[0].CoverEditionKey); err == nil {
			enrichFromEdition(&candidates[0], edition)
		}
	}

	return SearchResult{Candidates: candidates, ProviderAvailable: true}
}

func (c *OpenLibraryClient) search(ctx context.Context, title, author string) ([]openLibrarySearchDoc, error) {
	if err := c.rateLimiter.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", fmt.Sprintf("%d", c.limit))

	searchURL := fmt.Sprintf("%s/search.json?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search books: timed out after %s", c.timeout)
		}
		return nil, fmt.Errorf("search books: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var searchResult openLibrarySearchResult
	if err := json.NewDecoder(resp.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := searchResult.Docs
	if len(docs) > c.limit {
		docs = docs[:c.limit]
	}
	return docs, nil
}

// fetchEditionDetails fetches detailed edition info including ISBN.
func (c *OpenLibraryClient) fetchEditionDetails(ctx context.Context, editionKey string) (*openLibraryEdition, error) {
	if editionKey == "" {
		return nil, fmt.Errorf("empty edition key")
	}

	if err := c.rateLimiter.wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/books/%s.json", c.baseURL, editionKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status: %d", resp.StatusCode)
	}

	var edition openLibraryEdition
	if err := json.NewDecoder(resp.Body).Decode(&edition); err != nil {
		return nil, err
	}

	return &edition, nil
}

func convertSearchDoc(doc *openLibrarySearchDoc) Candidate {
	cand := Candidate{
		CandidateID: doc.Key,
		Title:       doc.Title,
		Authors:     doc.AuthorName,
		Year:        doc.FirstPublishYear,
	}

	// Prefer ISBN-13, convert the first ISBN-10 otherwise
	for _, isbn := range doc.ISBN {
		if n := normalizeISBN(isbn); len(n) == 13 {
			cand.ISBN13 = n
			break
		}
	}
	if cand.ISBN13 == "" {
		for _, isbn := range doc.ISBN {
			if n := ToISBN13(isbn); n != "" {
				cand.ISBN13 = n
				break
			}
		}
	}

	if cand.ISBN13 != "" {
		cand.CoverURL = fmt.Sprintf("https://covers.openlibrary.org/b/isbn/%s-L.jpg", cand.ISBN13)
	} else if doc.CoverI != 0 {
		cand.CoverURL = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", doc.CoverI)
	}

	return cand
}

func enrichFromEdition(cand *Candidate, edition *openLibraryEdition) {
	for _, isbn := range append(append([]string{}, edition.ISBN13...), edition.ISBN10...) {
		if n := ToISBN13(isbn); n != "" {
			cand.ISBN13 = n
			break
		}
	}

	// Update cover URL if we now have ISBN but no cover
	if cand.ISBN13 != "" && cand.CoverURL == "" {
		cand.CoverURL = fmt.Sprintf("https://covers.openlibrary.org/b/isbn/%s-L.jpg", cand.ISBN13)
	}
	if cand.CoverURL == "" && len(edition.Covers) > 0 && edition.Covers[0] > 0 {
		cand.CoverURL = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", edition.Covers[0])
	}
}

// OpenLibrary API response types (internal)

type openLibrarySearchResult struct {
	NumFound int                    `json:"numFound"`
	Docs     []openLibrarySearchDoc `json:"docs"`
}

type openLibrarySearchDoc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear int      `json:"first_publish_year"`
	ISBN             []string `json:"isbn"`
	CoverI           int      `json:"cover_i"`
	CoverEditionKey  string   `json:"cover_edition_key"`
}

type openLibraryEdition struct {
	Key    string   `json:"key"`
	Title  string   `json:"title"`
	ISBN10 []string `json:"isbn_10"`
	ISBN13 []string `json:"isbn_13"`
	Covers []int    `json:"covers"`
}
