// Package httpclient configures the HTTP client used for map servers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type options struct {
	timeout    time.Duration
	userAgent  string
	maxPerHost int
}

type Option func(*options)

// WithTimeout bounds a whole request including the body read.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithUserAgent is sent on every request that does not set its own.
// Some tile services reject the Go default.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithMaxConnsPerHost caps parallel tile downloads per map server.
func WithMaxConnsPerHost(n int) Option { return func(o *options) { o.maxPerHost = n } }

// NewOutbound creates the client shared by tile and capabilities fetches
func NewOutbound(opts ...Option) *http.Client {
	o := options{timeout: 30 * time.Second, maxPerHost: 16}
	for _, fn := range opts {
		fn(&o)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   o.maxPerHost,
		MaxConnsPerHost:       o.maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	var rt http.RoundTripper = transport
	if o.userAgent != "" {
		rt = &userAgentTransport{next: transport, ua: o.userAgent}
	}
	return &http.Client{Transport: rt, Timeout: o.timeout}
}

type userAgentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}
