package bookmarks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/redisstore"
)

const DefaultRedisKey = "lodstream:bookmarks"

// Redis keeps all bookmarks in one hash, title -> url.
type Redis struct {
	cli *redisstore.Client
	key string
}

var _ Store = (*Redis)(nil)

func NewRedis(cli *redisstore.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{cli: cli, key: key}
}

func (r *Redis) Bookmark(ctx context.Context, title, url string) error {
	title, url, err := validate(title, url)
	if err != nil {
		return err
	}
	if err := r.cli.HSet(ctx, r.key, title, url); err != nil {
		return fmt.Errorf("bookmark %q: %w", title, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, title string) error {
	if err := r.cli.HDel(ctx, r.key, strings.TrimSpace(title)); err != nil {
		return fmt.Errorf("remove bookmark %q: %w", title, err)
	}
	return nil
}

func (r *Redis) all(ctx context.Context) (map[string]string, error) {
	m, err := r.cli.HGetAll(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("load bookmarks: %w", err)
	}
	return m, nil
}

func (r *Redis) Titles(ctx context.Context) ([]string, error) {
	m, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) URL(ctx context.Context, title string) (string, bool, error) {
	m, err := r.all(ctx)
	if err != nil {
		return "", false, err
	}
	u, ok := m[strings.TrimSpace(title)]
	return u, ok, nil
}

func (r *Redis) IsBookmarked(ctx context.Context, url string) (bool, error) {
	m, err := r.all(ctx)
	if err != nil {
		return false, err
	}
	url = strings.TrimSpace(url)
	for _, u := range m {
		if u == url {
			return true, nil
		}
	}
	return false, nil
}
