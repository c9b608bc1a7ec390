package fetch

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/matsen/litreview/internal/identifier"
)

// Cached wraps a Source with an in-memory cache of records, counts and
// search results, so retrying a search does not refetch what was just
// downloaded. Calls under a Fresh context go to the source.
type Cached struct {
	src   Source
	cache *cache.Cache
}

// NewCached creates a cache with the given expiration, purging expired
// items every cleanup interval.
func NewCached(src Source, expiration, cleanup time.Duration) *Cached {
	return &Cached{src: src, cache: cache.New(expiration, cleanup)}
}

type freshKey struct{}

// Fresh marks ctx so that Cached sources skip their cache for calls made
// under it. What the source returns is still cached.
func Fresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

func isFresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey{}).(bool)
	return v
}

// get looks key up unless ctx asks for fresh results.
func (c *Cached) get(ctx context.Context, key string) (any, bool) {
	if isFresh(ctx) {
		return nil, false
	}
	return c.cache.Get(key)
}

// Name returns the wrapped source's name.
func (c *Cached) Name() identifier.Source {
	return c.src.Name()
}

// Count returns a cached count or asks the source.
func (c *Cached) Count(ctx context.Context, query string) (int, error) {
	key := "count:" + query
	if x, found := c.get(ctx, key); found {
		return x.(int), nil
	}
	n, err := c.src.Count(ctx, query)
	if err != nil {
		return 0, err
	}
	c.cache.Set(key, n, cache.DefaultExpiration)
	return n, nil
}

// Search returns cached search ids or asks the source.
func (c *Cached) Search(ctx context.Context, query string, max int) ([]string, error) {
	key := "search:" + strconv.Itoa(max) + ":" + query
	if x, found := c.get(ctx, key); found {
		return x.([]string), nil
	}
	ids, err := c.src.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, ids, cache.DefaultExpiration)
	return ids, nil
}

// Fetch serves cached records and fetches only the rest.
func (c *Cached) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	var (
		records []Record
		todo    []string
	)
	for _, id := range ids {
		if x, found := c.get(ctx, "record:"+id); found {
			records = append(records, x.(Record))
		} else {
			todo = append(todo, id)
		}
	}
	if len(todo) == 0 {
		return records, nil
	}

	fetched, err := c.src.Fetch(ctx, todo)
	if err != nil {
		return nil, err
	}
	for _, r := range fetched {
		c.cache.Set("record:"+r.ExternalID, r, cache.DefaultExpiration)
	}
	return append(records, fetched...), nil
}
