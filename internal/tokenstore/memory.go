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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboxdeal/scanner/internal/identity"
)

// MemoryStore is a process-local handle store for single-instance
// deployments without Redis. Same single-use and TTL semantics.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	bundle  *identity.Bundle
	expires time.Time
}

// NewMemoryStore creates an in-process handle store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores the bundle under a fresh random handle and returns the handle.
func (s *MemoryStore) Put(_ context.Context, b *identity.Bundle) (string, error) {
	handle := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[handle] = memoryEntry{bundle: b, expires: s.now().Add(s.ttl)}

	return handle, nil
}

// Take retrieves and deletes the bundle under the lock, so a handle can
// only ever be consumed by one caller.
func (s *MemoryStore) Take(_ context.Context, handle string) (*identity.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[handle]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, handle)

	if s.now().After(entry.expires) {
		return nil, ErrNotFound
	}

	return entry.bundle, nil
}
