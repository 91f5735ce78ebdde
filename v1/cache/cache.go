package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

// Cache defines the operations the request layer needs from a cache.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves a value for the given key. The boolean return
	// indicates whether a live entry was found.
	Get(key string) (T, bool)
	// Put stores the value for the given key.
	Put(key string, value T)
	// Clear removes every entry.
	Clear()
	// Size reports how many entries are physically held.
	Size() int
}

// Entry is a stored value together with the time it was written.
type Entry[T any] struct {
	Value      T
	InsertedAt time.Time
}

// Clock is the time source used to stamp and age entries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// EvictReason tells an OnEvict callback why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity means the entry was the oldest one when a new key
	// arrived at a full cache.
	EvictCapacity EvictReason = iota
	// EvictExpired means a read found the entry older than the TTL.
	EvictExpired
	// EvictCleared means the whole cache was cleared.
	EvictCleared
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	case EvictCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// FIFO is a bounded in-memory cache whose entries expire after a fixed TTL.
//
// Eviction follows insertion order: when a new key arrives at a full cache
// the entry written earliest is dropped, however often it was read.
// Overwriting a key moves it to the newest position. Expired entries are
// removed lazily by the read that observes them; there is no sweeper.
type FIFO[T any] struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // Front = oldest, Back = newest
	maxEntries int
	ttl        time.Duration
	clock      Clock
	onEvict    func(key string, value T, reason EvictReason)

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	hitCounter        prometheus.Counter
	missCounter       prometheus.Counter
	evictionCounter   prometheus.Counter
	expirationCounter prometheus.Counter
}

type element[T any] struct {
	key   string
	entry Entry[T]
}

type removed[T any] struct {
	key    string
	value  T
	reason EvictReason
}

// Option configures a FIFO cache.
type Option[T any] func(*FIFO[T])

// WithClock replaces the wall clock used to stamp and age entries.
func WithClock[T any](clock Clock) Option[T] {
	return func(c *FIFO[T]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithOnEvict registers a callback invoked for every entry that leaves the
// cache other than by overwrite. It runs after the cache lock is released.
func WithOnEvict[T any](fn func(key string, value T, reason EvictReason)) Option[T] {
	return func(c *FIFO[T]) {
		c.onEvict = fn
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics[T any](reg prometheus.Registerer) Option[T] {
	return func(c *FIFO[T]) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warp_cache_hits_total",
			Help: "Total number of cache hits",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warp_cache_misses_total",
			Help: "Total number of cache misses",
		})
		c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warp_cache_evictions_total",
			Help: "Total number of entries evicted to make room for new keys",
		})
		c.expirationCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warp_cache_expirations_total",
			Help: "Total number of entries removed on access after their TTL",
		})
		size := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "warp_cache_entries",
			Help: "Entries currently held, including expired ones not yet observed",
		}, func() float64 { return float64(c.Size()) })
		reg.MustRegister(c.hitCounter, c.missCounter, c.evictionCounter, c.expirationCounter, size)
	}
}

// New returns a FIFO cache holding at most maxEntries entries, each treated
// as absent once older than ttl. A non-positive ttl or maxEntries is
// rejected with errors.ErrInvalidConfig.
func New[T any](ttl time.Duration, maxEntries int, opts ...Option[T]) (*FIFO[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: cache ttl must be positive, got %s", warperrors.ErrInvalidConfig, ttl)
	}
	if maxEntries <= 0 {
		return nil, fmt.Errorf("%w: cache max entries must be positive, got %d", warperrors.ErrInvalidConfig, maxEntries)
	}
	c := &FIFO[T]{
		items:      make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get implements Cache.Get.
//
// An entry older than the TTL is deleted and reported as a miss, so Get
// may shrink Size. A hit leaves the entry's eviction position unchanged.
func (c *FIFO[T]) Get(key string) (T, bool) {
	now := c.clock.Now()
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		var zero T
		return zero, false
	}
	e := el.Value.(*element[T])
	if c.expiredLocked(e, now) {
		c.removeLocked(el)
		c.mu.Unlock()
		c.recordExpiration()
		c.recordMiss()
		c.notify(removed[T]{key: key, value: e.entry.Value, reason: EvictExpired})
		var zero T
		return zero, false
	}
	value := e.entry.Value
	c.mu.Unlock()
	c.recordHit()
	return value, true
}

// Has reports whether key holds a live entry. Like Get, it removes the
// entry when it has expired.
func (c *FIFO[T]) Has(key string) bool {
	now := c.clock.Now()
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e := el.Value.(*element[T])
	if !c.expiredLocked(e, now) {
		c.mu.Unlock()
		return true
	}
	c.removeLocked(el)
	c.mu.Unlock()
	c.recordExpiration()
	c.notify(removed[T]{key: key, value: e.entry.Value, reason: EvictExpired})
	return false
}

// Put implements Cache.Put.
//
// A new key arriving at a full cache evicts the oldest entry first. An
// existing key is overwritten in place, gets a fresh insertion time and
// moves to the newest position; it never causes an eviction.
func (c *FIFO[T]) Put(key string, value T) {
	now := c.clock.Now()
	var dropped *removed[T]

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*element[T])
		e.entry = Entry[T]{Value: value, InsertedAt: now}
		c.order.MoveToBack(el)
		c.mu.Unlock()
		return
	}
	if len(c.items) >= c.maxEntries {
		if head := c.order.Front(); head != nil {
			e := head.Value.(*element[T])
			c.removeLocked(head)
			dropped = &removed[T]{key: e.key, value: e.entry.Value, reason: EvictCapacity}
		}
	}
	c.items[key] = c.order.PushBack(&element[T]{
		key:   key,
		entry: Entry[T]{Value: value, InsertedAt: now},
	})
	c.mu.Unlock()

	if dropped != nil {
		c.evictions.Add(1)
		if c.evictionCounter != nil {
			c.evictionCounter.Inc()
		}
		c.notify(*dropped)
	}
}

// Clear implements Cache.Clear.
func (c *FIFO[T]) Clear() {
	c.mu.Lock()
	var gone []removed[T]
	if c.onEvict != nil {
		gone = make([]removed[T], 0, len(c.items))
		for el := c.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*element[T])
			gone = append(gone, removed[T]{key: e.key, value: e.entry.Value, reason: EvictCleared})
		}
	}
	c.items = make(map[string]*list.Element, c.maxEntries)
	c.order.Init()
	c.mu.Unlock()

	for _, r := range gone {
		c.notify(r)
	}
}

// Size implements Cache.Size.
//
// The count includes entries that have expired but have not been read
// since, so it can exceed the number of keys Get would return.
func (c *FIFO[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the stored keys oldest first, expired ones included.
// It does not expire or reorder anything.
func (c *FIFO[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*element[T]).key)
	}
	return out
}

// Limits describes the fixed bounds of a cache.
type Limits struct {
	MaxEntries int
	TTL        time.Duration
}

// Limits returns the bounds the cache was constructed with.
func (c *FIFO[T]) Limits() Limits {
	return Limits{MaxEntries: c.maxEntries, TTL: c.ttl}
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
}

// Metrics returns current metrics for the cache.
func (c *FIFO[T]) Metrics() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        c.Size(),
	}
}

func (c *FIFO[T]) expiredLocked(e *element[T], now time.Time) bool {
	return now.Sub(e.entry.InsertedAt) > c.ttl
}

func (c *FIFO[T]) removeLocked(el *list.Element) {
	e := el.Value.(*element[T])
	c.order.Remove(el)
	delete(c.items, e.key)
}

func (c *FIFO[T]) notify(r removed[T]) {
	if c.onEvict != nil {
		c.onEvict(r.key, r.value, r.reason)
	}
}

func (c *FIFO[T]) recordHit() {
	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
}

func (c *FIFO[T]) recordMiss() {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
}

func (c *FIFO[T]) recordExpiration() {
	c.expirations.Add(1)
	if c.expirationCounter != nil {
		c.expirationCounter.Inc()
	}
}
