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

// Package gmail retrieves candidate promotional messages from the Gmail
// API and normalizes them for the scan pipeline. One listing call bounds
// the batch; detail fetches fan out in parallel but results keep the
// listing order.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/inboxdeal/scanner/internal/models"
)

// user is the Gmail API shorthand for the authenticated account.
const user = "me"

// Source lists and fetches messages for one authenticated mailbox.
type Source struct {
	svc *gmailapi.Service

	lookbackMonths int
	callTimeout    time.Duration
	fetchParallel  int
}

// SourceConfig tunes a mailbox source.
type SourceConfig struct {
	LookbackMonths int           // fallback query window when no watermark
	CallTimeout    time.Duration // per Gmail API call
	FetchParallel  int           // concurrent detail fetches
}

// NewSource creates a mailbox source. Callers supply the authenticated
// HTTP client (or a test endpoint) through client options.
func NewSource(ctx context.Context, cfg SourceConfig, opts ...option.ClientOption) (*Source, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	if cfg.LookbackMonths <= 0 {
		cfg.LookbackMonths = 6
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.FetchParallel <= 0 {
		cfg.FetchParallel = 8
	}

	return &Source{
		svc:            svc,
		lookbackMonths: cfg.LookbackMonths,
		callTimeout:    cfg.CallTimeout,
		fetchParallel:  cfg.FetchParallel,
	}, nil
}

// Profile returns the mailbox's email address.
func (s *Source) Profile(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	profile, err := s.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}

	return profile.EmailAddress, nil
}

// Fetch lists up to maxResults promotional messages and fetches each one's
// content. A listing failure is fatal for the whole fetch; a failure on an
// individual message drops that message and the scan continues. The
// returned slice preserves listing order.
func (s *Source) Fetch(ctx context.Context, maxResults int64, after *time.Time) ([]models.Message, error) {
	query := buildQuery(after, s.lookbackMonths)

	listCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	listing, err := s.svc.Users.Messages.List(user).
		Q(query).
		MaxResults(maxResults).
		Context(listCtx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if len(listing.Messages) == 0 {
		slog.Info("no promotional messages found", "query", query)
		return nil, nil
	}

	// Detail fetches are order-independent; write each result into its
	// listing slot so the output stays in listing order.
	slots := make([]*models.Message, len(listing.Messages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchParallel)

	for i, stub := range listing.Messages {
		g.Go(func() error {
			msg, err := s.fetchOne(gctx, stub.Id)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				// Dropped silently — downstream never sees this message.
				slog.Warn("fetch message failed, dropping",
					"message_id", stub.Id,
					"error", err,
				)
				return nil
			}
			slots[i] = msg
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(slots))
	for _, m := range slots {
		if m != nil {
			messages = append(messages, *m)
		}
	}

	slog.Info("fetched promotional messages",
		"listed", len(listing.Messages),
		"fetched", len(messages),
	)

	return messages, nil
}

// fetchOne retrieves and normalizes a single message.
func (s *Source) fetchOne(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	full, err := s.svc.Users.Messages.Get(user, id).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	msg, err := parseMessage(full)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	return msg, nil
}

// buildQuery bounds the search window. A watermark wins over the fixed
// lookback; Gmail's "after:" takes seconds since epoch.
func buildQuery(after *time.Time, lookbackMonths int) string {
	if after != nil {
		return fmt.Sprintf("category:promotions after:%d", after.Unix())
	}
	return fmt.Sprintf("category:promotions newer_than:%dm", lookbackMonths)
}
