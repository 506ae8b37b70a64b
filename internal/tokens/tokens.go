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

// Package tokens keeps the push token registered by each user's device.
package tokens

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const registryKey = "ordersync:push_tokens"

// ErrInvalidToken reports a malformed device token.
var ErrInvalidToken = errors.New("push token must be a non-empty ExponentPushToken[...] value")

// Registry resolves the device token a notification is sent to.
type Registry interface {
	Register(ctx context.Context, userID, token string) error
	// Lookup returns an empty token and no error when the user has none.
	Lookup(ctx context.Context, userID string) (string, error)
	Remove(ctx context.Context, userID string) error
}

// RedisRegistry stores tokens in a single Redis hash keyed by user id.
type RedisRegistry struct {
	client redis.UniversalClient
}

// NewRedisRegistry stores tokens in client.
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	if !strings.HasSuffix(token, "]") {
		return false
	}
	for _, prefix := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(token, prefix) && len(token) > len(prefix)+1 {
			return true
		}
	}
	return false
}

// Register stores token as userID's device token, replacing any previous one.
func (r *RedisRegistry) Register(ctx context.Context, userID, token string) error {
	if !ValidToken(token) {
		return ErrInvalidToken
	}
	return r.client.HSet(ctx, registryKey, userID, token).Err()
}

// Lookup returns userID's token, or "" when none is registered.
func (r *RedisRegistry) Lookup(ctx context.Context, userID string) (string, error) {
	token, err := r.client.HGet(ctx, registryKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

// Remove forgets userID's token.
func (r *RedisRegistry) Remove(ctx context.Context, userID string) error {
	return r.client.HDel(ctx, registryKey, userID).Err()
}
