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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inboxdeal/scanner/internal/identity"
	"github.com/inboxdeal/scanner/internal/models"
	"github.com/inboxdeal/scanner/internal/tokenstore"
)

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	name string
	data map[string]any
}

// parseSSE splits a response body into named event frames.
func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()

	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		var frame sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				payload := strings.TrimPrefix(line, "data: ")
				if err := json.Unmarshal([]byte(payload), &frame.data); err != nil {
					t.Fatalf("frame data not JSON: %v\n%s", err, payload)
				}
			}
		}
		if frame.name == "" {
			t.Fatalf("frame without event name: %q", block)
		}
		frames = append(frames, frame)
	}
	return frames
}

func framesOf(frames []sseFrame, name string) []sseFrame {
	var out []sseFrame
	for _, f := range frames {
		if f.name == name {
			out = append(out, f)
		}
	}
	return out
}

// newScanHandler wires a handler around canned messages and extraction
// results, and stores one bundle, returning its handle.
func newScanHandler(t *testing.T, bundle *identity.Bundle, src MailSource, openErr error, records map[string]*models.Opportunity) (*Handler, string) {
	t.Helper()

	store := tokenstore.NewMemoryStore(time.Minute)
	handle, err := store.Put(context.Background(), bundle)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	h := NewHandler(HandlerConfig{
		Identity:    identity.NewService("id", "secret", "http://localhost:8000/auth/callback"),
		Store:       store,
		OpenMail:    opener(src, openErr),
		Extractor:   &fakeExtractor{records: records},
		FrontendURL: frontendURL,
	})

	return h, handle
}

func TestHandleScan_Stream(t *testing.T) {
	src := &fakeSource{
		email: "user@x.com",
		messages: []models.Message{
			{ID: "m1", Subject: "Big Sale"},
			{ID: "m2", Subject: "Newsletter"},
			{ID: "m3", Subject: "Free Lunch"},
		},
	}
	records := map[string]*models.Opportunity{
		"m1": {CompanyName: "ShopCo", ProfitAmount: "20% Off", Code: "SAVE20", Category: models.CategoryRetail},
		"m3": {CompanyName: "FoodCo", ProfitAmount: "$10 Credit", Category: models.CategoryFood},
	}

	h, handle := newScanHandler(t, &identity.Bundle{AccessToken: "at-1"}, src, nil, records)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/"+handle, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	frames := parseSSE(t, rec.Body.String())

	// The stream opens with the connection and watermark status lines.
	if frames[0].name != "log" || frames[0].data["msg"] != "Connecting to mailbox..." {
		t.Errorf("frames[0] = %+v", frames[0])
	}
	if frames[1].name != "log" || frames[1].data["msg"] != "Scanning recent promotional messages..." {
		t.Errorf("frames[1] = %+v", frames[1])
	}

	coupons := framesOf(frames, "coupon")
	if len(coupons) != 2 {
		t.Fatalf("got %d coupon frames, want 2", len(coupons))
	}
	if coupons[0].data["company_name"] != "ShopCo" {
		t.Errorf("coupon[0] = %v", coupons[0].data)
	}
	if coupons[1].data["company_name"] != "FoodCo" {
		t.Errorf("coupon[1] = %v", coupons[1].data)
	}

	progress := framesOf(frames, "progress")
	if len(progress) != 4 {
		t.Fatalf("got %d progress frames, want 4", len(progress))
	}
	if last := progress[len(progress)-1]; last.data["percent"] != float64(100) {
		t.Errorf("final progress = %v", last.data)
	}

	final := frames[len(frames)-1]
	if final.name != "complete" {
		t.Fatalf("final frame = %q, want complete", final.name)
	}
	if final.data["count"] != float64(2) {
		t.Errorf("complete count = %v", final.data["count"])
	}
	results, _ := final.data["coupons"].([]any)
	if len(results) != 2 {
		t.Errorf("complete coupons = %d, want 2", len(results))
	}

	// The handle was consumed up front.
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/"+handle, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second scan status = %d, want 404", rec.Code)
	}
}

// TestHandleScan_WatermarkStatus verifies a resumed scan announces the
// watermark date.
func TestHandleScan_WatermarkStatus(t *testing.T) {
	watermark := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	bundle := &identity.Bundle{AccessToken: "at-1", Watermark: &watermark}

	h, handle := newScanHandler(t, bundle, &fakeSource{}, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/"+handle, nil))

	frames := parseSSE(t, rec.Body.String())
	msg, _ := frames[1].data["msg"].(string)
	if msg != "Resuming: scanning messages received after Nov 14, 2023" {
		t.Errorf("status line = %q", msg)
	}
}

// TestHandleScan_EmptyMailbox verifies the degenerate scan still reaches a
// clean completion.
func TestHandleScan_EmptyMailbox(t *testing.T) {
	h, handle := newScanHandler(t, &identity.Bundle{AccessToken: "at-1"}, &fakeSource{}, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/"+handle, nil))

	frames := parseSSE(t, rec.Body.String())

	final := frames[len(frames)-1]
	if final.name != "complete" || final.data["count"] != float64(0) {
		t.Fatalf("final frame = %+v", final)
	}
	if coupons, ok := final.data["coupons"].([]any); !ok || len(coupons) != 0 {
		t.Errorf("coupons = %v, want empty array", final.data["coupons"])
	}
}

// TestHandleScan_FetchFailure verifies a listing failure ends the stream
// with one error-tagged log event and nothing after it.
func TestHandleScan_FetchFailure(t *testing.T) {
	src := &fakeSource{fetchErr: context.DeadlineExceeded}
	h, handle := newScanHandler(t, &identity.Bundle{AccessToken: "at-1"}, src, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/"+handle, nil))

	frames := parseSSE(t, rec.Body.String())

	final := frames[len(frames)-1]
	if final.name != "log" {
		t.Fatalf("final frame = %q, want log", final.name)
	}
	if final.data["msg"] != "Failed to fetch messages" || final.data["error"] != true {
		t.Errorf("final frame data = %v", final.data)
	}

	if got := len(framesOf(frames, "complete")); got != 0 {
		t.Errorf("got %d complete frames after failure, want 0", got)
	}
}

// TestHandleScan_OpenFailure verifies a connection failure is reported the
// same way.
func TestHandleScan_OpenFailure(t *testing.T) {
	h, handle := newScanHandler(t, &identity.Bundle{AccessToken: "at-1"}, nil, context.DeadlineExceeded, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/"+handle, nil))

	frames := parseSSE(t, rec.Body.String())

	final := frames[len(frames)-1]
	if final.data["msg"] != "Could not connect to the mailbox" || final.data["error"] != true {
		t.Errorf("final frame data = %v", final.data)
	}
}

func TestHandleScan_UnknownToken(t *testing.T) {
	h, _ := newScanHandler(t, &identity.Bundle{AccessToken: "at-1"}, &fakeSource{}, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/scan/no-such-token", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}
