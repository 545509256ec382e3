// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inboxdeal/scanner/internal/identity"
)

// keyPrefix namespaces handle keys in Redis.
const keyPrefix = "scanner:handle:"

// RedisStore keeps credential bundles in Redis with a TTL. GETDEL makes
// consumption atomic across replicas.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed handle store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Put stores the bundle under a fresh random handle and returns the handle.
func (s *RedisStore) Put(ctx context.Context, b *identity.Bundle) (string, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	handle := uuid.New().String()
	if err := s.rdb.Set(ctx, keyPrefix+handle, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}

	return handle, nil
}

// Take retrieves and deletes the bundle in one round trip.
func (s *RedisStore) Take(ctx context.Context, handle string) (*identity.Bundle, error) {
	payload, err := s.rdb.GetDel(ctx, keyPrefix+handle).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take bundle: %w", err)
	}

	var b identity.Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}

	return &b, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
