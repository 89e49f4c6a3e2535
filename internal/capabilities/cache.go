// Package capabilities fetches and caches parsed WMS GetCapabilities
// documents, one per server and version.
package capabilities

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/keys"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/ogc"
	"github.com/mohammed-shakir/wms-lod-stream/internal/fetch"
)

var ErrUnknownKey = errors.New("unknown capabilities request")

type Fetcher interface {
	Fetch(url, key string) *fetch.Request
	Forget(keys ...string)
}

// Status is what a UI shows for one request. Message is set for errors.
type Status struct {
	State        fetch.State
	Capabilities *model.Capabilities
	Message      string
}

type entry struct {
	url  string
	req  *fetch.Request
	caps *model.Capabilities
	err  error
}

type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func New(f Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{fetcher: f, logger: logger, entries: map[string]*entry{}}
}

// Request starts fetching the capabilities of server unless a request for
// the same server and version exists. It returns the request key.
func (c *Cache) Request(server, version string) (string, error) {
	if err := ogc.ValidateServerURL(server); err != nil {
		observability.IncCapabilitiesRequest("invalid")
		return "", err
	}
	if version == "" {
		version = keys.DefaultWMSVersion
	}
	key := keys.Capabilities(server, version)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		observability.IncCapabilitiesRequest("cached")
		return key, nil
	}
	e := &entry{url: ogc.CapabilitiesURL(server, version)}
	e.req = c.fetcher.Fetch(e.url, key)
	c.entries[key] = e
	observability.IncCapabilitiesRequest("fetched")
	return key, nil
}

// Status never blocks. The document is parsed once, on the first call
// after the download finished.
func (c *Cache) Status(key string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Status{State: fetch.NotStarted, Message: ErrUnknownKey.Error()}
	}
	return c.resolve(key, e)
}

func (c *Cache) resolve(key string, e *entry) Status {
	if e.caps != nil {
		return Status{State: fetch.OK, Capabilities: e.caps}
	}
	if e.err != nil {
		return Status{State: fetch.Error, Message: e.err.Error()}
	}

	st := e.req.Status()
	switch st.State {
	case fetch.OK:
		caps, err := ogc.ParseCapabilities(st.Body)
		if err != nil {
			e.err = err
			c.logger.Warn("capabilities parse failed", "key", key, "err", err)
			return Status{State: fetch.Error, Message: err.Error()}
		}
		e.caps = caps
		return Status{State: fetch.OK, Capabilities: caps}
	case fetch.Error:
		e.err = st.Err
		c.logger.Warn("capabilities fetch failed", "key", key, "err", st.Err)
		return Status{State: fetch.Error, Message: st.Err.Error()}
	}
	return Status{State: st.State}
}

// Wait blocks until the request for key finishes or ctx is done.
func (c *Cache) Wait(ctx context.Context, key string) (Status, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return Status{}, ErrUnknownKey
	}
	select {
	case <-e.req.Done():
	case <-ctx.Done():
		return c.Status(key), ctx.Err()
	}
	return c.Status(key), nil
}

// Refresh drops the cached result and downloads the document again.
func (c *Cache) Refresh(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return ErrUnknownKey
	}
	c.fetcher.Forget(key)
	c.entries[key] = &entry{url: e.url, req: c.fetcher.Fetch(e.url, key)}
	observability.IncCapabilitiesRequest("refreshed")
	return nil
}

func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}
