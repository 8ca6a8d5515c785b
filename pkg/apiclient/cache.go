package apiclient

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	errCacheDisabled = errors.New("cache disabled")
	errCacheStopped  = errors.New("cache stopped")
	errNoLoader      = errors.New("no loader")
)

// cacheRequest is either a lookup (loader set) or an invalidation
// (prefix set, loader nil).
type cacheRequest struct {
	ctx        context.Context
	key        string
	loader     func(context.Context) ([]byte, error)
	invalidate bool
	reply      chan cacheResponse
}

type cacheResponse struct {
	data []byte
	hit  bool
	err  error
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// ResponseCache keeps upstream GET bodies for a short TTL. A single
// goroutine owns the map; callers talk to it over a channel.
type ResponseCache struct {
	ttl      time.Duration
	requests chan cacheRequest
	quit     chan struct{}
	now      func() time.Time
}

// NewResponseCache starts the cache goroutine. A non-positive ttl returns
// nil, and a nil cache simply never hits.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		return nil
	}
	c := &ResponseCache{
		ttl:      ttl,
		requests: make(chan cacheRequest),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go c.loop()
	return c
}

// Close stops the cache goroutine. Safe to call more than once.
func (c *ResponseCache) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
}

// Get returns a cached body for key or runs loader to fill it. The bool
// reports a cache hit. Failed loads are never stored.
func (c *ResponseCache) Get(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if c == nil {
		return nil, false, errCacheDisabled
	}
	resp, err := c.send(ctx, cacheRequest{ctx: ctx, key: key, loader: loader})
	if err != nil {
		return nil, false, err
	}
	if resp.err != nil {
		return nil, false, resp.err
	}
	out := make([]byte, len(resp.data))
	copy(out, resp.data)
	return out, resp.hit, nil
}

// Invalidate drops every entry whose key starts with prefix. Mutations
// call it so the next read goes upstream.
func (c *ResponseCache) Invalidate(ctx context.Context, prefix string) {
	if c == nil {
		return
	}
	_, _ = c.send(ctx, cacheRequest{ctx: ctx, key: prefix, invalidate: true})
}

func (c *ResponseCache) send(ctx context.Context, req cacheRequest) (cacheResponse, error) {
	req.reply = make(chan cacheResponse, 1)
	select {
	case <-ctx.Done():
		return cacheResponse{}, ctx.Err()
	case <-c.quit:
		return cacheResponse{}, errCacheStopped
	case c.requests <- req:
	}
	select {
	case <-ctx.Done():
		return cacheResponse{}, ctx.Err()
	case <-c.quit:
		return cacheResponse{}, errCacheStopped
	case resp := <-req.reply:
		return resp, nil
	}
}

func (c *ResponseCache) loop() {
	store := make(map[string]cacheEntry)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.requests:
			if req.invalidate {
				for k := range store {
					if strings.HasPrefix(k, req.key) {
						delete(store, k)
					}
				}
				req.reply <- cacheResponse{}
				continue
			}
			now := c.now()
			if e, ok := store[req.key]; ok && now.Before(e.expires) {
				req.reply <- cacheResponse{data: e.data, hit: true}
				continue
			}
			if req.loader == nil {
				req.reply <- cacheResponse{err: errNoLoader}
				continue
			}
			data, err := req.loader(req.ctx)
			if err != nil {
				delete(store, req.key)
			} else {
				buf := make([]byte, len(data))
				copy(buf, data)
				store[req.key] = cacheEntry{data: buf, expires: now.Add(c.ttl)}
			}
			req.reply <- cacheResponse{data: data, err: err}
		}
	}
}
