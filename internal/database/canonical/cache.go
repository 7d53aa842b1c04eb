package canonical

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrlokans/marginalia/internal/entities"
)

// Cache keeps recently read canonical identities by lookup key. Values are
// copies, so callers may mutate what they get back.
type Cache struct {
	lru *lru.Cache[string, entities.CanonicalBook]
}

// NewCache returns a cache holding up to size entries; size <= 0 yields a
// cache that never stores anything.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{}, nil
	}
	c, err := lru.New[string, entities.CanonicalBook](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

func (c *Cache) Get(key string) (entities.CanonicalBook, bool) {
	if c.lru == nil {
		return entities.CanonicalBook{}, false
	}
	return c.lru.Get(key)
}

func (c *Cache) Add(key string, book entities.CanonicalBook) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, book)
}

func (c *Cache) Purge() {
	if c.lru == nil {
		return
	}
	c.lru.Purge()
}

func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
