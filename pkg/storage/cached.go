package storage

import (
	"container/list"
	"context"
	"sync"

	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/types"
)

const defaultCacheCapacity = 256

// fifoCache is a bounded map with FIFO eviction: the oldest inserted key
// is evicted when a Put would push the map past capacity. Cached kinds
// (Names, Contracts) are immutable, so eviction policy is the whole
// consistency story — no invalidation or coherence protocol needed.
type fifoCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	kind     string
	values   map[K]V
	order    *list.List
	elems    map[K]*list.Element
}

func newFIFOCache[K comparable, V any](capacity int, kind string) *fifoCache[K, V] {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &fifoCache[K, V]{
		capacity: capacity,
		kind:     kind,
		values:   make(map[K]V),
		order:    list.New(),
		elems:    make(map[K]*list.Element),
	}
}

func (c *fifoCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *fifoCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[key]; exists {
		c.values[key] = value
		return
	}
	c.values[key] = value
	c.elems[key] = c.order.PushBack(key)
	if len(c.values) > c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			oldKey := oldest.Value.(K)
			delete(c.values, oldKey)
			delete(c.elems, oldKey)
			c.order.Remove(oldest)
			metrics.CacheEvictionsTotal.WithLabelValues(c.kind).Inc()
		}
	}
}

func (c *fifoCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Cached wraps a StorageMechanism with a read-through/write-through cache
// over the two immutable kinds (Names->Citation, Contracts->Contract).
// Drafts, documents-by-citation, and messages are pure pass-through
//.
type Cached struct {
	inner     StorageMechanism
	names     *fifoCache[string, types.Citation]
	contracts *fifoCache[string, types.Contract]
}

// NewCached wraps inner with bounded FIFO caches of the given capacity
// (0 uses defaultCacheCapacity).
func NewCached(inner StorageMechanism, capacity int) *Cached {
	return &Cached{
		inner:     inner,
		names:     newFIFOCache[string, types.Citation](capacity, "name"),
		contracts: newFIFOCache[string, types.Contract](capacity, "contract"),
	}
}

func (c *Cached) NameExists(ctx context.Context, name types.Name) (bool, error) {
	if _, ok := c.names.Get(name.Key()); ok {
		metrics.CacheHitsTotal.WithLabelValues("name").Inc()
		return true, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("name").Inc()
	return c.inner.NameExists(ctx, name)
}

func (c *Cached) ReadName(ctx context.Context, name types.Name) (*types.Citation, error) {
	if citation, ok := c.names.Get(name.Key()); ok {
		metrics.CacheHitsTotal.WithLabelValues("name").Inc()
		cp := citation
		return &cp, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("name").Inc()
	citation, err := c.inner.ReadName(ctx, name)
	if err != nil || citation == nil {
		return citation, err
	}
	c.names.Put(name.Key(), *citation)
	metrics.CacheSize.WithLabelValues("name").Set(float64(c.names.Size()))
	return citation, nil
}

func (c *Cached) WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error) {
	written, err := c.inner.WriteName(ctx, name, citation)
	if err != nil {
		return types.Citation{}, err
	}
	c.names.Put(name.Key(), written)
	metrics.CacheSize.WithLabelValues("name").Set(float64(c.names.Size()))
	return written, nil
}

func (c *Cached) DocumentExists(ctx context.Context, citation types.Citation) (bool, error) {
	return c.inner.DocumentExists(ctx, citation)
}

func (c *Cached) ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	return c.inner.ReadDocument(ctx, citation)
}

func (c *Cached) WriteDocument(ctx context.Context, document types.Document) (types.Citation, error) {
	return c.inner.WriteDocument(ctx, document)
}

func (c *Cached) DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	return c.inner.DeleteDocument(ctx, citation)
}

func (c *Cached) ContractExists(ctx context.Context, citation types.Citation) (bool, error) {
	if _, ok := c.contracts.Get(citation.Key()); ok {
		metrics.CacheHitsTotal.WithLabelValues("contract").Inc()
		return true, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("contract").Inc()
	return c.inner.ContractExists(ctx, citation)
}

func (c *Cached) ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error) {
	if contract, ok := c.contracts.Get(citation.Key()); ok {
		metrics.CacheHitsTotal.WithLabelValues("contract").Inc()
		cp := contract
		return &cp, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("contract").Inc()
	contract, err := c.inner.ReadContract(ctx, citation)
	if err != nil || contract == nil {
		return contract, err
	}
	c.contracts.Put(citation.Key(), *contract)
	metrics.CacheSize.WithLabelValues("contract").Set(float64(c.contracts.Size()))
	return contract, nil
}

func (c *Cached) WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error) {
	citation, err := c.inner.WriteContract(ctx, contract)
	if err != nil {
		return types.Citation{}, err
	}
	c.contracts.Put(citation.Key(), contract)
	metrics.CacheSize.WithLabelValues("contract").Set(float64(c.contracts.Size()))
	return citation, nil
}

func (c *Cached) MessageAvailable(ctx context.Context, bag types.Citation) (bool, error) {
	return c.inner.MessageAvailable(ctx, bag)
}

func (c *Cached) MessageCount(ctx context.Context, bag types.Citation) (int, error) {
	return c.inner.MessageCount(ctx, bag)
}

func (c *Cached) AddMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	return c.inner.AddMessage(ctx, bag, message)
}

func (c *Cached) RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error) {
	return c.inner.RemoveMessage(ctx, bag)
}

func (c *Cached) ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	return c.inner.ReturnMessage(ctx, bag, message)
}

func (c *Cached) DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error) {
	return c.inner.DeleteMessage(ctx, bag, citation)
}

// ListProcessing forwards to inner if it supports ProcessingLister, so a
// Cached-wrapped LocalFS/InMemory backend still exposes it to the sweeper.
func (c *Cached) ListProcessing(ctx context.Context, bag types.Citation) ([]ProcessingEntry, error) {
	lister, ok := c.inner.(ProcessingLister)
	if !ok {
		return nil, nil
	}
	return lister.ListProcessing(ctx, bag)
}
