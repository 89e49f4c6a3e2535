// Package fetch downloads map images and capabilities documents
// asynchronously. Requests are registered under a request key; a second
// Fetch with the same key returns the registered handle instead of opening
// another transfer.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
)

const (
	DefaultRegistrySize = 4096
	maxBodyBytes        = 32 << 20
)

// Store is an optional second-level cache of response bodies.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type Option func(*Client)

func WithStore(s Store) Option {
	return func(c *Client) { c.store = s }
}

func WithRegistrySize(n int) Option {
	return func(c *Client) { c.registrySize = n }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

type Client struct {
	logger       *slog.Logger
	http         *http.Client
	store        Store
	registrySize int
	timeout      time.Duration

	mu       sync.Mutex
	registry *lru.Cache[string, *Request]
	// gens counts Forget calls per key. Transfers only join or write back
	// within their own generation.
	gens     map[string]uint64
	inflight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		logger:       slog.Default(),
		http:         httpClient,
		registrySize: DefaultRegistrySize,
		timeout:      30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.registrySize <= 0 {
		c.registrySize = DefaultRegistrySize
	}
	c.registry, _ = lru.New[string, *Request](c.registrySize)
	c.gens = make(map[string]uint64)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Fetch returns the request registered under key, starting a download of
// url when there is none. It never blocks on the network.
func (c *Client) Fetch(url, key string) *Request {
	c.mu.Lock()
	if r, ok := c.registry.Get(key); ok {
		c.mu.Unlock()
		observability.IncTileRequestDeduped()
		return r
	}
	r := newRequest(url, key)
	r.gen = c.gens[key]
	c.registry.Add(key, r)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(r)
	return r
}

// Lookup returns the registered request for key, if any.
func (c *Client) Lookup(key string) (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Peek(key)
}

// Forget drops keys from the registry so the next Fetch starts a new
// transfer, even while an older one for the same key is still running.
// Handles already returned stay valid; their bodies are not written to the
// store any more.
func (c *Client) Forget(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.registry.Remove(k)
		c.gens[k]++
	}
}

func (c *Client) current(key string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key] == gen
}

// Purge forgets keys and removes their bodies from the store.
func (c *Client) Purge(ctx context.Context, keys ...string) error {
	c.Forget(keys...)
	if c.store == nil || len(keys) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("purge %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Len()
}

// Close aborts in-flight transfers and waits for their goroutines.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Client) run(r *Request) {
	defer c.wg.Done()
	r.start()

	observability.AddTileFetchInflight(1)
	defer observability.AddTileFetchInflight(-1)

	flight := r.key
	if r.gen > 0 {
		flight = fmt.Sprintf("%s#%d", r.key, r.gen)
	}
	v, err, shared := c.inflight.Do(flight, func() (any, error) {
		return c.load(r.url, r.key, r.gen)
	})
	if shared {
		c.logger.Debug("joined in-flight transfer", "key", r.key)
	}
	if err != nil {
		c.logger.Warn("fetch failed", "key", r.key, "url", r.url, "err", err)
		r.finish(nil, err)
		return
	}
	body, _ := v.([]byte)
	r.finish(body, nil)
}

func (c *Client) load(url, key string, gen uint64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	if c.store != nil {
		start := time.Now()
		body, ok, err := c.store.Get(ctx, key)
		switch {
		case err != nil:
			// the store is best effort; fall through to the network
			c.logger.Warn("tile store read failed", "key", key, "err", err)
		case ok:
			observability.ObserveTileFetch("store", "ok", time.Since(start).Seconds())
			return body, nil
		}
	}

	start := time.Now()
	body, err := c.get(ctx, url)
	dur := time.Since(start).Seconds()
	if err != nil {
		observability.ObserveTileFetch("network", "error", dur)
		return nil, err
	}
	observability.ObserveTileFetch("network", "ok", dur)
	c.logger.Debug("fetch done", "key", key, "bytes", len(body), "duration", time.Duration(dur*float64(time.Second)).String())

	if c.store != nil && c.current(key, gen) {
		if err := c.store.Put(ctx, key, body); err != nil {
			c.logger.Warn("tile store write failed", "key", key, "err", err)
		}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return b, nil
}
