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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inboxdeal/scanner/internal/models"
	"github.com/inboxdeal/scanner/internal/scan"
	"github.com/inboxdeal/scanner/internal/tokenstore"
)

// handleScan runs a full server-side scan over a one-shot push channel.
// The credential handle is consumed atomically before anything else, so a
// disconnect mid-scan can never leave it half-used — a new scan always
// starts from a fresh exchange.
//
// Wire format: named server-sent events (log / progress / coupon /
// complete), one UTF-8 JSON frame each, terminated by a blank line and
// flushed before the pipeline takes its next step. Terminal failures
// arrive as an error-tagged log event.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.store.Take(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid Token ID"})
			return
		}
		slog.Error("handle store failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "handle store failure"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &eventWriter{w: w, flusher: flusher}

	sse.log("Connecting to mailbox...")
	sse.log(watermarkStatus(bundle.Watermark))

	ctx := r.Context()

	src, err := h.openMail(ctx, bundle)
	if err != nil {
		slog.Error("open mail source failed", "error", err)
		sse.fail("Could not connect to the mailbox")
		return
	}

	messages, err := src.Fetch(ctx, h.maxResults, bundle.Watermark)
	if err != nil {
		// Listing failure is fatal for the scan: one terminal event, no
		// partial results.
		slog.Error("message fetch failed", "error", err)
		sse.fail("Failed to fetch messages")
		return
	}

	runner := scan.NewRunner(h.extractor)
	for ev := range runner.Run(ctx, messages) {
		sse.relay(ev)
	}
}

// watermarkStatus renders the resumption status line for the client.
func watermarkStatus(watermark *time.Time) string {
	if watermark != nil {
		return fmt.Sprintf("Resuming: scanning messages received after %s", watermark.Format("Jan 2, 2006"))
	}
	return "Scanning recent promotional messages..."
}

// eventWriter serializes scan events onto the push channel. One event per
// frame, flushed immediately — ordering is part of the contract.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *eventWriter) write(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event failed", "event", name, "error", err)
		return
	}

	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}

func (s *eventWriter) log(msg string) {
	s.write("log", map[string]any{"msg": msg})
}

// fail emits the terminal error-tagged log event that ends the stream.
func (s *eventWriter) fail(msg string) {
	s.write("log", map[string]any{"msg": msg, "error": true})
}

// relay maps one orchestrator event onto the wire.
func (s *eventWriter) relay(ev scan.Event) {
	switch ev.Type {
	case scan.EventLog:
		s.log(ev.Message)
	case scan.EventProgress:
		s.write("progress", map[string]any{
			"percent": ev.Percent,
			"msg":     ev.Message,
		})
	case scan.EventResult:
		s.write("coupon", ev.Record)
	case scan.EventComplete:
		records := ev.Records
		if records == nil {
			records = []models.Opportunity{}
		}
		s.write("complete", map[string]any{
			"count":   ev.Count,
			"coupons": records,
		})
	case scan.EventError:
		s.fail(ev.Message)
	}
}
