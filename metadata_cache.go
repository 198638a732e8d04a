package evmrpc

import (
	"sync"
)

type metadataCacheItem struct {
	metadata  *ContractMetadata
	frequency int
	seq       uint64
}

// LFUMetadataCache is a Least Frequently Used cache for contract metadata.
// It stores negative entries too: a nil metadata value marks an address that
// was looked up and found unverified or unavailable, so the resolver issues at
// most one outbound fetch per distinct address. Capacity 0 means unbounded.
type LFUMetadataCache struct {
	capacity int
	mu       sync.Mutex
	seq      uint64
	cache    map[string]*metadataCacheItem // key is the lower-cased address
}

// NewLFUMetadataCache creates a new LFU cache with the given capacity.
func NewLFUMetadataCache(capacity int) *LFUMetadataCache {
	return &LFUMetadataCache{
		capacity: capacity,
		cache:    make(map[string]*metadataCacheItem),
	}
}

// Get retrieves cached metadata for an address. The second return value tells
// a negative entry apart from a miss.
func (c *LFUMetadataCache) Get(address string) (*ContractMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.cache[address]; found {
		item.frequency++
		L.Trace().Msgf("Found contract %s in metadata cache", address)
		return item.metadata, true
	}
	return nil, false
}

// Set adds or updates metadata for an address, nil marks "looked up, not available".
func (c *LFUMetadataCache) Set(address string, metadata *ContractMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if oldItem, found := c.cache[address]; found {
		c.cache[address] = &metadataCacheItem{metadata: metadata, frequency: oldItem.frequency + 1, seq: c.seq}
		return
	}

	if c.capacity > 0 && len(c.cache) >= c.capacity {
		c.evict()
	}
	c.cache[address] = &metadataCacheItem{metadata: metadata, frequency: 1, seq: c.seq}
}

// Len returns the number of cached entries, negative ones included.
func (c *LFUMetadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// evict removes the least frequently used item. If more than one item has the
// same frequency, the oldest insertion is evicted.
func (c *LFUMetadataCache) evict() {
	leastFreq := int(^uint(0) >> 1)
	oldestSeq := ^uint64(0)
	var evictKey string
	for key, item := range c.cache {
		if item.frequency < leastFreq || (item.frequency == leastFreq && item.seq < oldestSeq) {
			evictKey = key
			leastFreq = item.frequency
			oldestSeq = item.seq
		}
	}
	L.Trace().Msgf("Evicted contract %s from metadata cache", evictKey)
	delete(c.cache, evictKey)
}
