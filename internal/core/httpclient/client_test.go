package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOutbound_SetsUserAgent(t *testing.T) {
	got := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewOutbound(WithUserAgent("lodstream/test"), WithTimeout(2*time.Second))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if ua := <-got; ua != "lodstream/test" {
		t.Fatalf("user-agent=%q", ua)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if ua := <-got; ua != "custom" {
		t.Fatalf("explicit user-agent overridden: %q", ua)
	}
}

func TestNewOutbound_Defaults(t *testing.T) {
	c := NewOutbound()
	if c.Timeout != 30*time.Second {
		t.Fatalf("timeout=%v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport=%T want *http.Transport without a user agent", c.Transport)
	}
	if tr.MaxConnsPerHost != 16 {
		t.Fatalf("max conns per host=%d", tr.MaxConnsPerHost)
	}
}
