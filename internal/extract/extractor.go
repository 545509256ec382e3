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

// Package extract turns one normalized message into at most one typed
// opportunity record via the external inference service. Every failure
// mode below the orchestrator degrades to "no record found" — a single
// message never aborts a scan.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxdeal/scanner/internal/models"
)

// errRateLimited marks a transient rate-limit signal from the inference
// service; it is the only error class that triggers a retry.
var errRateLimited = errors.New("inference rate limited")

// Extractor is the per-message extraction worker.
type Extractor struct {
	client *inferenceClient

	minBodyChars  int
	promptBodyCap int
	maxAttempts   int
	backoffBase   time.Duration
}

// Config holds the extractor's tuning knobs. Zero values pick the
// production defaults.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	MinBodyChars  int           // bodies shorter than this never reach inference
	PromptBodyCap int           // body excerpt length sent to inference
	Timeout       time.Duration // per inference attempt
	MaxAttempts   int           // total attempts on rate limit
	BackoffBase   time.Duration // first retry delay, doubled per attempt
}

// New creates an extraction worker.
func New(cfg Config) *Extractor {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MinBodyChars <= 0 {
		cfg.MinBodyChars = 50
	}
	if cfg.PromptBodyCap <= 0 {
		cfg.PromptBodyCap = 3000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}

	return &Extractor{
		client:        newInferenceClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout),
		minBodyChars:  cfg.MinBodyChars,
		promptBodyCap: cfg.PromptBodyCap,
		maxAttempts:   cfg.MaxAttempts,
		backoffBase:   cfg.BackoffBase,
	}
}

// Extract produces zero or one opportunity record for the message. The
// returned error is non-nil only when the context is done; every other
// failure degrades to (nil, nil).
func (e *Extractor) Extract(ctx context.Context, msg models.Message) (*models.Opportunity, error) {
	// Heuristic gate: short bodies never cost an inference call.
	if len(msg.Body) < e.minBodyChars {
		return nil, nil
	}

	prompt := e.buildPrompt(msg)

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		content, err := e.client.complete(ctx, prompt)
		if err == nil {
			return e.parseRecord(content, msg), nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !errors.Is(err, errRateLimited) {
			slog.Error("inference failed",
				"message_id", msg.ID,
				"error", err,
			)
			return nil, nil
		}

		if attempt == e.maxAttempts {
			slog.Warn("rate limit retries exhausted",
				"message_id", msg.ID,
				"attempts", attempt,
			)
			return nil, nil
		}

		delay := e.backoffBase << (attempt - 1)
		slog.Info("rate limited, backing off",
			"message_id", msg.ID,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, nil
}

// buildPrompt renders the extraction instruction for one message. The body
// excerpt is capped so oversized emails don't blow the prompt budget.
func (e *Extractor) buildPrompt(msg models.Message) string {
	body := msg.Body
	if len(body) > e.promptBodyCap {
		body = body[:e.promptBodyCap]
	}

	return fmt.Sprintf(`You are a highly intelligent Shopping & Opportunity Assistant Agent.
Your goal is to extract TWO types of value from the email:
1. COUPONS/DISCOUNTS (Standard retail offers)
2. PAID SURVEYS/OPPORTUNITIES (Emails offering money/gift cards for feedback/surveys)

Email Sender: %s
Email Subject: %s
Email Body (Truncated): %s

Return valid JSON only. No markdown.
Schema:
{
    "company_name": "string",
    "profit_amount": "string (e.g. 20%% Off, $10 Credit, Earn $50, $5 Gift Card)",
    "description": "short summary of deal or survey opportunity",
    "expiry_date": "ISO8601 or null",
    "code": "coupon code or null",
    "category": "Retail, Food, Tech, Travel, Survey, or Other"
}

For Surveys:
- Set 'category' to 'Survey'.
- Set 'profit_amount' to the reward amount (e.g. "$10 Reward").
- If no clear monetary reward is stated, ignore it.

If NO clear coupon/deal/paid-survey is found, return { "error": "not_found" }.`,
		msg.Sender, msg.Subject, body)
}
