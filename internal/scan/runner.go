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

package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/inboxdeal/scanner/internal/models"
)

// Extractor turns one message into at most one opportunity record. An
// error is only expected when the context is done.
type Extractor interface {
	Extract(ctx context.Context, msg models.Message) (*models.Opportunity, error)
}

// Runner drives one scan: messages in, ordered event stream out.
type Runner struct {
	extractor Extractor
}

// NewRunner creates a scan runner.
func NewRunner(extractor Extractor) *Runner {
	return &Runner{extractor: extractor}
}

// Run processes the messages strictly in order and returns the event
// channel. The channel is unbuffered, so each event reaches the consumer
// before the pipeline takes its next step; it is closed when the scan
// finishes or the context is cancelled.
func (r *Runner) Run(ctx context.Context, msgs []models.Message) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)
		r.run(ctx, msgs, events)
	}()

	return events
}

func (r *Runner) run(ctx context.Context, msgs []models.Message, events chan<- Event) {
	total := len(msgs)
	seen := make(map[string]struct{})
	var found []models.Opportunity

	for i, msg := range msgs {
		if !emit(ctx, events, Logf(fmt.Sprintf("Scanning: %s...", truncate(msg.Subject, 40)))) {
			return
		}

		// Percent is computed before processing message i, so the final
		// message never reaches 100 here; the forced event below does.
		if !emit(ctx, events, Event{
			Type:    EventProgress,
			Percent: i * 100 / total,
			Message: fmt.Sprintf("Scanning %d of %d emails...", i+1, total),
		}) {
			return
		}

		rec, err := r.extractor.Extract(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Worker-level failures degrade to "no record found".
			continue
		}
		if rec == nil {
			continue
		}

		key := Fingerprint(rec)
		if _, dup := seen[key]; dup {
			if !emit(ctx, events, Logf(fmt.Sprintf("Skipping duplicate: %s", rec.CompanyName))) {
				return
			}
			continue
		}
		seen[key] = struct{}{}
		found = append(found, *rec)

		if !emit(ctx, events, Logf(fmt.Sprintf("Found Deal: %s (%s)", rec.CompanyName, rec.ProfitAmount))) {
			return
		}
		if !emit(ctx, events, Event{Type: EventResult, Record: rec}) {
			return
		}
	}

	if !emit(ctx, events, Event{
		Type:    EventProgress,
		Percent: 100,
		Message: "Finalizing results...",
	}) {
		return
	}

	emit(ctx, events, Event{
		Type:    EventComplete,
		Count:   len(found),
		Records: found,
	})
}

// emit delivers one event, or reports false when the scan is cancelled.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Fingerprint derives the dedup identity of a record: normalized company
// and reward label plus the literal code. Source message and thread are
// deliberately excluded.
func Fingerprint(rec *models.Opportunity) string {
	return strings.ToLower(strings.TrimSpace(rec.CompanyName)) + "|" +
		strings.ToLower(strings.TrimSpace(rec.ProfitAmount)) + "|" +
		rec.Code
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
