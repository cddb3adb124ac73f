// Package cache provides the TTL read cache used in front of the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Namespace groups keys of one resource. Invalidate bumps a generation
// counter so every key written under the previous generation becomes unreachable.
type Namespace struct {
	cache Cache
	name  string
}

func NewNamespace(c Cache, name string) *Namespace {
	return &Namespace{cache: c, name: name}
}

func (n *Namespace) genKey() string { return "chatterfix:gen:" + n.name }

func (n *Namespace) generation(ctx context.Context) (string, error) {
	raw, err := n.cache.Get(ctx, n.genKey())
	if errors.Is(err, ErrMiss) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Key returns the fully qualified key for k in the current generation.
func (n *Namespace) Key(ctx context.Context, k string) (string, error) {
	gen, err := n.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("chatterfix:%s:%s:%s", n.name, gen, k), nil
}

// Invalidate makes all cached entries of the namespace stale.
func (n *Namespace) Invalidate(ctx context.Context) {
	if _, err := n.cache.Incr(ctx, n.genKey()); err != nil {
		log.Printf("⚠️  Cache invalidation for %s failed: %v", n.name, err)
	}
}

// GetOrLoad returns the cached value for key, or calls load and caches its result.
// Cache failures are logged and bypassed; load errors are never cached.
func GetOrLoad[T any](ctx context.Context, ns *Namespace, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	fullKey, err := ns.Key(ctx, key)
	if err != nil {
		log.Printf("⚠️  Cache unavailable, loading %s/%s directly: %v", ns.name, key, err)
		return load(ctx)
	}

	if raw, err := ns.cache.Get(ctx, fullKey); err == nil {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, ErrMiss) {
		log.Printf("⚠️  Cache read for %s failed: %v", fullKey, err)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if raw, err := json.Marshal(value); err == nil {
		if err := ns.cache.Set(ctx, fullKey, raw, ttl); err != nil {
			log.Printf("⚠️  Cache write for %s failed: %v", fullKey, err)
		}
	}
	return value, nil
}
