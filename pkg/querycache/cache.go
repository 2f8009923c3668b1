package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCanceled is returned by a fetch that was canceled before it finished
// and left nothing cached for its key.
var ErrCanceled = errors.New("querycache: fetch canceled")

// Key identifies a query, most general part first: {"tasks", workspaceID}.
type Key []string

var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// String joins the elements with "|", escaping "|" and "\" inside them so
// distinct keys never share a string.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = keyEscaper.Replace(p)
	}
	return strings.Join(parts, "|")
}

// HasPrefix reports whether p matches the leading elements of k.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

func matchesAny(k Key, prefixes []Key) bool {
	for _, p := range prefixes {
		if k.HasPrefix(p) {
			return true
		}
	}
	return false
}

// Persister stores fetched values between runs.
type Persister interface {
	Put(ctx context.Context, key string, value []byte, at time.Time) error
	Get(ctx context.Context, key string) (value []byte, at time.Time, ok bool, err error)
	Delete(ctx context.Context, prefix string) error
}

// EventKind says what happened to a cache entry.
type EventKind int

const (
	EventSet EventKind = iota
	EventInvalidated
	EventRemoved
)

type Event struct {
	Key  Key
	Kind EventKind
}

type Options struct {
	// TTL is how long a fetched value is served without refetching.
	TTL        time.Duration
	MaxEntries int
	Persister  Persister
	// Fallback decides which fetch errors may be answered from the
	// persister. Nil disables the fallback.
	Fallback func(error) bool
	Logger   *zap.Logger
	Now      func() time.Time
}

type entry struct {
	key       Key
	value     any
	updatedAt time.Time
	stale     bool
	used      uint64
}

// flight is one fetch of a key. It is registered before it starts so a
// Cancel issued at any point reaches it.
type flight struct {
	id       string
	key      Key
	ctx      context.Context
	cancel   context.CancelFunc
	canceled bool
	finished bool
	val      any
	err      error
}

type listener struct {
	prefix Key
	fn     func(Event)
}

// Cache holds query results shared by every data operation.
type Cache struct {
	ttl      time.Duration
	max      int
	persist  Persister
	fallback func(error) bool
	log      *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	entries   map[string]*entry
	inflight  map[string]*flight
	listeners map[int]listener
	nextID    int
	tick      uint64
	flights   uint64
}

func New(opts Options) *Cache {
	c := &Cache{
		ttl:       opts.TTL,
		max:       opts.MaxEntries,
		persist:   opts.Persister,
		fallback:  opts.Fallback,
		log:       logging.OrNop(opts.Logger),
		now:       opts.Now,
		entries:   make(map[string]*entry),
		inflight:  make(map[string]*flight),
		listeners: make(map[int]listener),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.max <= 0 {
		c.max = 256
	}
	return c
}

// FetchFunc loads the value for a key from the backend.
type FetchFunc func(ctx context.Context) (any, error)

// Fetch returns the cached value for key while it is fresh, otherwise runs
// fn. Concurrent fetches of one key share a single call of fn.
func (c *Cache) Fetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	k := key.String()
	if v, ok := c.fresh(k); ok {
		return v, nil
	}

	f := c.register(ctx, key, k)
	ch := c.group.DoChan(f.id, func() (any, error) {
		return c.run(ctx, key, k, f, fn)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Query is Fetch with a typed result. When the fetch fails with an error
// the Fallback accepts and a persisted value exists, that value is
// returned and kept as a stale entry.
func Query[T any](ctx context.Context, c *Cache, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if out, ok := loadPersisted[T](ctx, c, key, err); ok {
			return out, nil
		}
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T, want %T", key, v, zero)
	}
	return out, nil
}

func loadPersisted[T any](ctx context.Context, c *Cache, key Key, cause error) (T, bool) {
	var out T
	if c.persist == nil || c.fallback == nil || !c.fallback(cause) {
		return out, false
	}
	raw, at, ok, err := c.persist.Get(ctx, key.String())
	if err != nil || !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn("discarding unreadable persisted query", zap.String("key", key.String()), zap.Error(err))
		return out, false
	}

	c.mu.Lock()
	k := key.String()
	if _, exists := c.entries[k]; !exists {
		c.tick++
		c.entries[k] = &entry{key: key, value: out, updatedAt: at, stale: true, used: c.tick}
		c.evictLocked()
	}
	c.mu.Unlock()

	c.log.Info("serving persisted query while offline",
		zap.String("key", key.String()), zap.Time("saved_at", at), zap.Error(cause))
	return out, true
}

// register returns the in-flight fetch of k, creating it when none runs.
// The flight outlives the caller's cancellation.
func (c *Cache) register(ctx context.Context, key Key, k string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.inflight[k]; ok {
		return f
	}
	c.flights++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{id: k + "#" + strconv.FormatUint(c.flights, 10), key: key, ctx: fctx, cancel: cancel}
	c.inflight[k] = f
	return f
}

func (c *Cache) run(ctx context.Context, key Key, k string, f *flight, fn FetchFunc) (any, error) {
	c.mu.Lock()
	switch {
	case f.finished:
		// joined after the call completed
		v, err := f.val, f.err
		c.mu.Unlock()
		return v, err
	case f.canceled:
		v, err := c.canceledLocked(k)
		c.mu.Unlock()
		return v, err
	}
	c.mu.Unlock()

	v, err := fn(f.ctx)
	f.cancel()

	c.mu.Lock()
	if c.inflight[k] == f {
		delete(c.inflight, k)
	}
	if f.canceled {
		v, err := c.canceledLocked(k)
		c.mu.Unlock()
		return v, err
	}
	f.finished, f.val, f.err = true, v, err
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.setLocked(key, k, v)
	c.mu.Unlock()

	c.emit(Event{Key: key, Kind: EventSet})
	c.save(ctx, key, v)
	return v, nil
}

// canceledLocked is the result of a canceled fetch: whatever was written
// meanwhile, never the fetched value. Caller holds mu.
func (c *Cache) canceledLocked(k string) (any, error) {
	if e, ok := c.entries[k]; ok {
		return e.value, nil
	}
	return nil, ErrCanceled
}

func (c *Cache) save(ctx context.Context, key Key, v any) {
	if c.persist == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cannot persist query", zap.String("key", key.String()), zap.Error(err))
		return
	}
	if err := c.persist.Put(context.WithoutCancel(ctx), key.String(), raw, c.now()); err != nil {
		c.log.Warn("cannot persist query", zap.String("key", key.String()), zap.Error(err))
	}
}

func (c *Cache) fresh(k string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || e.stale {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.updatedAt) >= c.ttl {
		return nil, false
	}
	c.tick++
	e.used = c.tick
	return e.value, true
}

// setLocked stores v. Caller holds mu.
func (c *Cache) setLocked(key Key, k string, v any) {
	c.tick++
	c.entries[k] = &entry{key: key, value: v, updatedAt: c.now(), used: c.tick}
	c.evictLocked()
}

// evictLocked drops least recently used entries beyond the limit.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.max {
		var oldest string
		var oldestUsed uint64
		first := true
		for k, e := range c.entries {
			if first || e.used < oldestUsed {
				oldest, oldestUsed, first = k, e.used, false
			}
		}
		delete(c.entries, oldest)
	}
}

// Get returns the cached value for key, fresh or not.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	c.tick++
	e.used = c.tick
	return e.value, true
}

// Set stores v under key as if it had just been fetched.
func (c *Cache) Set(key Key, v any) {
	c.mu.Lock()
	c.setLocked(key, key.String(), v)
	c.mu.Unlock()
	c.emit(Event{Key: key, Kind: EventSet})
}

// Update replaces the value under key with fn(old). It does nothing when
// key is not cached and reports whether it ran. fn must not modify old in
// place: snapshots share it.
func (c *Cache) Update(key Key, fn func(old any) any) bool {
	k := key.String()
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.tick++
	c.entries[k] = &entry{key: key, value: fn(e.value), updatedAt: e.updatedAt, stale: e.stale, used: c.tick}
	c.mu.Unlock()
	c.emit(Event{Key: key, Kind: EventSet})
	return true
}

// Keys lists cached keys matching any of the prefixes.
func (c *Cache) Keys(prefixes ...Key) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Key
	for _, e := range c.entries {
		if matchesAny(e.key, prefixes) {
			out = append(out, e.key)
		}
	}
	return out
}

// Invalidate marks matching entries stale so the next Fetch refetches. It
// returns how many entries were marked.
func (c *Cache) Invalidate(prefixes ...Key) int {
	c.mu.Lock()
	var hit []Key
	for _, e := range c.entries {
		if matchesAny(e.key, prefixes) {
			e.stale = true
			hit = append(hit, e.key)
		}
	}
	c.mu.Unlock()

	for _, k := range hit {
		c.emit(Event{Key: k, Kind: EventInvalidated})
	}
	return len(hit)
}

// Remove drops matching entries, including persisted copies.
func (c *Cache) Remove(ctx context.Context, prefixes ...Key) int {
	c.mu.Lock()
	var hit []Key
	for k, e := range c.entries {
		if matchesAny(e.key, prefixes) {
			delete(c.entries, k)
			hit = append(hit, e.key)
		}
	}
	c.mu.Unlock()

	if c.persist != nil {
		for _, p := range prefixes {
			if err := c.persist.Delete(ctx, p.String()); err != nil {
				c.log.Warn("cannot delete persisted queries", zap.String("prefix", p.String()), zap.Error(err))
			}
		}
	}
	for _, k := range hit {
		c.emit(Event{Key: k, Kind: EventRemoved})
	}
	return len(hit)
}

// Cancel aborts in-flight fetches matching the prefixes. Their results are
// dropped, and later Fetch calls start a new fetch instead of joining the
// canceled one.
func (c *Cache) Cancel(prefixes ...Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, f := range c.inflight {
		if matchesAny(f.key, prefixes) {
			f.canceled = true
			f.cancel()
			c.group.Forget(f.id)
			delete(c.inflight, k)
			n++
		}
	}
	return n
}

// Snapshot captures the entries under the prefixes for Restore.
type Snapshot struct {
	prefixes []Key
	entries  map[string]entry
}

func (c *Cache) Snapshot(prefixes ...Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{prefixes: prefixes, entries: make(map[string]entry)}
	for k, e := range c.entries {
		if matchesAny(e.key, prefixes) {
			s.entries[k] = *e
		}
	}
	return s
}

// Restore puts the snapshotted prefixes back exactly as they were: entries
// created since are removed, changed ones reverted.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	var touched []Key
	for k, e := range c.entries {
		if matchesAny(e.key, s.prefixes) {
			if _, ok := s.entries[k]; !ok {
				delete(c.entries, k)
				touched = append(touched, e.key)
			}
		}
	}
	for k, e := range s.entries {
		restored := e
		c.tick++
		restored.used = c.tick
		c.entries[k] = &restored
		touched = append(touched, e.key)
	}
	c.evictLocked()
	c.mu.Unlock()

	for _, k := range touched {
		c.emit(Event{Key: k, Kind: EventSet})
	}
}

// Subscribe calls fn for events on keys under prefix until the returned
// func is called. fn runs on the goroutine that changed the cache.
func (c *Cache) Subscribe(prefix Key, fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener{prefix: prefix, fn: fn}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Cache) emit(ev Event) {
	c.mu.Lock()
	var fns []func(Event)
	for _, l := range c.listeners {
		if ev.Key.HasPrefix(l.prefix) {
			fns = append(fns, l.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
