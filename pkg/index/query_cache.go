package index

import (
	"container/list"
	"sync"

	"github.com/blevesearch/bleve/v2/search/query"
)

const defaultQueryCacheSize = 256

// queryCache is an LRU of parsed query strings, so repeated searches skip the
// query string parser.
//
// Parsed queries are treated as immutable once cached; bleve builds a fresh
// searcher from them on every search.
type queryCache struct {
	mu      sync.Mutex
	maxSize int
	list    *list.List
	items   map[string]*list.Element

	hits   uint64
	misses uint64
}

type queryEntry struct {
	key string
	q   query.Query
}

func newQueryCache(maxSize int) *queryCache {
	if maxSize <= 0 {
		maxSize = defaultQueryCacheSize
	}
	return &queryCache{
		maxSize: maxSize,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// parse returns the cached query for s, parsing and caching it on a miss.
func (c *queryCache) parse(s string) (query.Query, error) {
	c.mu.Lock()
	if elem, ok := c.items[s]; ok {
		c.list.MoveToFront(elem)
		c.hits++
		q := elem.Value.(*queryEntry).q
		c.mu.Unlock()
		return q, nil
	}
	c.misses++
	c.mu.Unlock()

	q, err := query.NewQueryStringQuery(s).Parse()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[s]; !ok {
		for c.list.Len() >= c.maxSize {
			oldest := c.list.Back()
			c.list.Remove(oldest)
			delete(c.items, oldest.Value.(*queryEntry).key)
		}
		c.items[s] = c.list.PushFront(&queryEntry{key: s, q: q})
	}
	return q, nil
}

// QueryCacheStats reports parsed-query cache usage.
type QueryCacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

func (c *queryCache) stats() QueryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return QueryCacheStats{Size: c.list.Len(), Hits: c.hits, Misses: c.misses}
}
