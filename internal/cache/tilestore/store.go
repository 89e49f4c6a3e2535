// Package tilestore persists downloaded tile bodies in Redis so that other
// processes (and restarts) can skip the network for tiles already fetched.
package tilestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/keys"
	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/redisstore"
)

const namespace = "tile"

type Store struct {
	cli        *redisstore.Client
	defaultTTL time.Duration
}

func New(cli *redisstore.Client, defaultTTL time.Duration) *Store {
	return &Store{cli: cli, defaultTTL: defaultTTL}
}

// Get returns the body stored under a request key; ok is false on a miss.
func (s *Store) Get(ctx context.Context, requestKey string) ([]byte, bool, error) {
	b, err := s.cli.Get(ctx, keys.StoreKey(namespace, requestKey))
	if errors.Is(err, redisstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tilestore get: %w", err)
	}
	return b, true, nil
}

func (s *Store) Put(ctx context.Context, requestKey string, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if err := s.cli.Set(ctx, keys.StoreKey(namespace, requestKey), body, s.defaultTTL); err != nil {
		return fmt.Errorf("tilestore put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, requestKeys ...string) error {
	if len(requestKeys) == 0 {
		return nil
	}
	ks := make([]string, len(requestKeys))
	for i, k := range requestKeys {
		ks[i] = keys.StoreKey(namespace, k)
	}
	if err := s.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("tilestore delete: %w", err)
	}
	return nil
}
