// Package bookmarks stores WMS servers the user wants to come back to,
// keyed by title.
package bookmarks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrEmptyTitle = errors.New("bookmark title is empty")

type Store interface {
	// Bookmark adds or replaces the entry for title.
	Bookmark(ctx context.Context, title, url string) error
	Remove(ctx context.Context, title string) error
	// Titles is sorted.
	Titles(ctx context.Context) ([]string, error)
	URL(ctx context.Context, title string) (string, bool, error)
	IsBookmarked(ctx context.Context, url string) (bool, error)
}

func validate(title, url string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", ErrEmptyTitle
	}
	return title, strings.TrimSpace(url), nil
}

type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: map[string]string{}}
}

func (m *Memory) Bookmark(_ context.Context, title, url string) error {
	title, url, err := validate(title, url)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[title] = url
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, title string) error {
	m.mu.Lock()
	delete(m.entries, strings.TrimSpace(title))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Titles(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for t := range m.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) URL(_ context.Context, title string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.entries[strings.TrimSpace(title)]
	return u, ok, nil
}

func (m *Memory) IsBookmarked(_ context.Context, url string) (bool, error) {
	url = strings.TrimSpace(url)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.entries {
		if u == url {
			return true, nil
		}
	}
	return false, nil
}
