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

// Package tokenstore holds credential bundles behind single-use opaque
// handles. A handle is minted at token exchange, consumed exactly once by
// the scan (or raw-messages) endpoint, and expires after a bounded TTL —
// whichever comes first. Raw credentials never leave the process.
package tokenstore

import (
	"context"
	"errors"

	"github.com/inboxdeal/scanner/internal/identity"
)

// ErrNotFound is returned when a handle is unknown, expired, or has
// already been consumed.
var ErrNotFound = errors.New("token handle not found")

// Store maps opaque handles to credential bundles. Take is consume-once:
// the handle is atomically deleted on retrieval, so a handle can never be
// read twice or observed half-consumed.
type Store interface {
	Put(ctx context.Context, b *identity.Bundle) (string, error)
	Take(ctx context.Context, handle string) (*identity.Bundle, error)
}
