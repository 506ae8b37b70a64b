/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = cache.ErrCacheMiss

// Cache stores msgpack-encoded values with a TTL.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the value stored under key into data, which must be a
	// pointer. It returns ErrCacheMiss when nothing is stored.
	Get(ctx context.Context, key string, data interface{}) error

	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on top of Redis, optionally fronted by a
// TinyLFU in-process cache.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache builds a cache over client. localSize > 0 enables the in-process
// TinyLFU layer; values mutated by other processes may then be read stale
// for up to localTTL, so shared mutable state should use localSize 0.
func NewCache(client redis.UniversalClient, localSize int, localTTL time.Duration) *RedisCache {
	opts := &cache.Options{Redis: client}
	if localSize > 0 {
		opts.LocalCache = cache.NewTinyLFU(localSize, localTTL)
	}
	return &RedisCache{cache: cache.New(opts)}
}

// Set stores data under key for ttl in Redis and the local cache.
func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get loads key into data. It returns ErrCacheMiss when nothing is stored.
func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	return r.cache.Get(ctx, key, data)
}

// Delete removes key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
