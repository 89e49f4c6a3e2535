package bookmarks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/redisstore"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedis(cli, ""), mr
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Bookmark(ctx, "  ", "http://x"); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("empty title: %v", err)
	}
	if err := s.Bookmark(ctx, "Lantmateriet", "http://lm.example/wms"); err != nil {
		t.Fatalf("bookmark: %v", err)
	}
	if err := s.Bookmark(ctx, "Demo", "http://demo.example/wms"); err != nil {
		t.Fatalf("bookmark: %v", err)
	}

	titles, err := s.Titles(ctx)
	if err != nil || strings.Join(titles, ",") != "Demo,Lantmateriet" {
		t.Fatalf("titles = %v err=%v", titles, err)
	}
	u, ok, err := s.URL(ctx, "Demo")
	if err != nil || !ok || u != "http://demo.example/wms" {
		t.Fatalf("url = %q %v %v", u, ok, err)
	}
	if b, _ := s.IsBookmarked(ctx, "http://lm.example/wms"); !b {
		t.Fatal("lm should be bookmarked")
	}

	// replacing keeps a single entry per title
	if err := s.Bookmark(ctx, "Demo", "http://demo2.example/wms"); err != nil {
		t.Fatalf("rebookmark: %v", err)
	}
	if b, _ := s.IsBookmarked(ctx, "http://demo.example/wms"); b {
		t.Fatal("old url still bookmarked")
	}

	if err := s.Remove(ctx, "Demo"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.URL(ctx, "Demo"); ok {
		t.Fatal("removed title still present")
	}
	if err := s.Remove(ctx, "never-there"); err != nil {
		t.Fatalf("removing a missing title: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedisStore(t *testing.T) {
	s, mr := newRedisStore(t)
	exerciseStore(t, s)

	if got := mr.HGet(DefaultRedisKey, "Lantmateriet"); got != "http://lm.example/wms" {
		t.Fatalf("hash field = %q", got)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	if _, err := s.Titles(context.Background()); err == nil {
		t.Fatal("expected error with redis down")
	}
}
