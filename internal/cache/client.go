package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads a query result from the gateway
type FetchFunc func(ctx context.Context) (interface{}, error)

// Listener is told which keys were invalidated
type Listener func(keys []Key)

// Client is the query layer shared by every reconciler. It serves cached
// responses, refetches stale ones, and lets mutations invalidate what they
// changed. A response that was in flight when its key was invalidated is
// handed to its callers but never written back.
type Client struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	seq       uint64
	flights   map[string]*flight
	listeners []Listener
}

// flight tracks a key while loads for it are running. gen moves on every
// invalidation so a load can tell its response is outdated. The entry is
// dropped once no load holds it; generations are never reused.
type flight struct {
	gen  uint64
	refs int
}

// NewClient creates a query client. Entries older than ttl are refetched;
// ttl <= 0 keeps entries until they are invalidated.
func NewClient(store Store, ttl time.Duration, log *zap.Logger) *Client {
	return &Client{
		store:   store,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
		flights: make(map[string]*flight),
	}
}

// OnInvalidate registers a listener for invalidations
func (c *Client) OnInvalidate(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// acquire registers a load of key and returns the generation it started in.
// InvalidateOperation sees acquired keys even before they reach the store.
func (c *Client) acquire(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		c.seq++
		f = &flight{gen: c.seq}
		c.flights[key] = f
	}
	f.refs++
	return f.gen
}

func (c *Client) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[key]; ok {
		f.refs--
		if f.refs <= 0 {
			delete(c.flights, key)
		}
	}
}

func (c *Client) current(key string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	return ok && f.gen == gen
}

// bump outdates every load of key that is running
func (c *Client) bump(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[key]; ok {
		c.seq++
		f.gen = c.seq
	}
}

func (c *Client) fresh(e *Entry) bool {
	if e.Stale {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(e.UpdatedAt) < c.ttl
}

// Fetch decodes the cached response for key into dst, loading it through
// fetch when it is missing, stale or expired.
func (c *Client) Fetch(ctx context.Context, key Key, fetch FetchFunc, dst interface{}) error {
	k := key.String()

	entry, err := c.store.Get(ctx, k)
	switch {
	case err == nil && c.fresh(entry):
		return json.Unmarshal(entry.Data, dst)
	case err != nil && !errors.Is(err, ErrNotFound):
		c.log.Warn("cache read failed, loading from gateway", zap.String("key", k), zap.Error(err))
	}

	data, err := c.load(ctx, k, fetch)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// Refetch loads key through fetch regardless of what is cached
func (c *Client) Refetch(ctx context.Context, key Key, fetch FetchFunc, dst interface{}) error {
	data, err := c.load(ctx, key.String(), fetch)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// load runs fetch once per key generation. Concurrent callers share the call,
// which runs detached from their contexts so one caller going away does not
// fail the others; each caller still stops waiting when its own ctx ends.
func (c *Client) load(ctx context.Context, k string, fetch FetchFunc) (json.RawMessage, error) {
	gen := c.acquire(k)
	defer c.release(k)
	flightKey := k + "#" + strconv.FormatUint(gen, 10)

	fctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		c.acquire(k)
		defer c.release(k)

		result, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		c.write(fctx, k, gen, data)
		return json.RawMessage(data), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// write stores a response loaded in generation gen. An invalidation that lands
// while the entry is written leaves it stale.
func (c *Client) write(ctx context.Context, k string, gen uint64, data []byte) {
	if !c.current(k, gen) {
		c.log.Debug("discarding response for invalidated query", zap.String("key", k))
		return
	}
	if err := c.store.Set(ctx, k, &Entry{Data: data, UpdatedAt: c.now()}); err != nil {
		c.log.Warn("cache write failed", zap.String("key", k), zap.Error(err))
		return
	}
	if !c.current(k, gen) {
		if err := c.store.MarkStale(ctx, k); err != nil {
			c.log.Warn("cache invalidate failed", zap.String("key", k), zap.Error(err))
		}
	}
}

// SetQueryData stores a server-confirmed response for key
func (c *Client) SetQueryData(ctx context.Context, key Key, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key.Operation, err)
	}
	k := key.String()
	c.bump(k)
	return c.store.Set(ctx, k, &Entry{Data: data, UpdatedAt: c.now()})
}

// Invalidate marks keys stale so their next read refetches, then notifies
// listeners. Store failures are logged; the remaining keys are still processed.
func (c *Client) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}

	var firstErr error
	for _, key := range keys {
		k := key.String()
		c.bump(k)
		if err := c.store.MarkStale(ctx, k); err != nil {
			c.log.Warn("cache invalidate failed", zap.String("key", k), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.notify(keys)
	return firstErr
}

// InvalidateOperation invalidates every known op key whose variables include match
func (c *Client) InvalidateOperation(ctx context.Context, op string, match Vars) error {
	prefix := operationPrefix(op)

	stored, err := c.store.Keys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s keys: %w", op, err)
	}

	seen := make(map[string]bool, len(stored))
	candidates := append([]string(nil), stored...)
	c.mu.Lock()
	for k := range c.flights {
		if strings.HasPrefix(k, prefix) {
			candidates = append(candidates, k)
		}
	}
	c.mu.Unlock()

	var keys []Key
	for _, k := range candidates {
		if seen[k] {
			continue
		}
		seen[k] = true

		key, err := ParseKey(k)
		if err != nil {
			c.log.Warn("skipping malformed cache key", zap.String("key", k), zap.Error(err))
			continue
		}
		if key.Matches(op, match) {
			keys = append(keys, key)
		}
	}
	return c.Invalidate(ctx, keys...)
}

func (c *Client) notify(keys []Key) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(keys)
	}
}
