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

package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inboxdeal/scanner/internal/models"
)

// promoBody is long enough to pass the minimum-length gate.
var promoBody = strings.Repeat("Huge savings on everything in store this week! ", 3)

func promoMessage() models.Message {
	return models.Message{
		ID:       "m1",
		ThreadID: "t1",
		Subject:  "Big Sale",
		Sender:   "deals@shop.com",
		Body:     promoBody,
	}
}

// newTestExtractor wires an extractor to a fake inference server with a
// fast retry clock.
func newTestExtractor(t *testing.T, handler http.Handler) *Extractor {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(Config{
		BaseURL:     server.URL,
		BackoffBase: time.Millisecond,
		Timeout:     5 * time.Second,
	})
}

// completionWith wraps extraction output in a chat-completions response.
func completionWith(t *testing.T, content string) string {
	t.Helper()

	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal completion: %v", err)
	}
	return string(data)
}

// TestExtract_ShortBodySkipsInference verifies the length gate: no
// inference call is made at all.
func TestExtract_ShortBodySkipsInference(t *testing.T) {
	calls := 0
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	msg := promoMessage()
	msg.Body = "short"

	rec, err := ex.Extract(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
	if calls != 0 {
		t.Errorf("inference called %d times, want 0", calls)
	}
}

func TestExtract_Success(t *testing.T) {
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(t, `{
			"company_name": "ShopCo",
			"profit_amount": "20% Off",
			"description": "Sitewide sale",
			"expiry_date": "2099-12-31",
			"code": "SAVE20",
			"category": "Retail"
		}`)))
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}

	if rec.CompanyName != "ShopCo" || rec.ProfitAmount != "20% Off" || rec.Code != "SAVE20" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Category != models.CategoryRetail {
		t.Errorf("category = %q, want Retail", rec.Category)
	}
	if rec.SourceEmailID != "m1" || rec.ThreadID != "t1" {
		t.Errorf("provenance = %q/%q", rec.SourceEmailID, rec.ThreadID)
	}
	if rec.ExpiryDate == nil || rec.IsExpired {
		t.Errorf("expiry = %v, expired = %v", rec.ExpiryDate, rec.IsExpired)
	}
}

// TestExtract_NotFoundSentinel verifies the explicit "nothing here" answer
// yields no record and no retry.
func TestExtract_NotFoundSentinel(t *testing.T) {
	calls := 0
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(t, `{"error": "not_found"}`)))
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
	if calls != 1 {
		t.Errorf("inference called %d times, want 1", calls)
	}
}

// TestExtract_RateLimitRetry verifies two 429s then success lands on the
// third and final attempt.
func TestExtract_RateLimitRetry(t *testing.T) {
	calls := 0
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(t, `{"company_name": "ShopCo", "profit_amount": "$10 Credit"}`)))
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record after retries")
	}
	if calls != 3 {
		t.Errorf("inference called %d times, want 3", calls)
	}
}

// TestExtract_RateLimitExhausted verifies persistent 429s degrade to no
// record after exactly three attempts.
func TestExtract_RateLimitExhausted(t *testing.T) {
	calls := 0
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
	if calls != 3 {
		t.Errorf("inference called %d times, want 3", calls)
	}
}

// TestExtract_ServerErrorNoRetry verifies non-429 failures are permanent
// for the message.
func TestExtract_ServerErrorNoRetry(t *testing.T) {
	calls := 0
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
	if calls != 1 {
		t.Errorf("inference called %d times, want 1", calls)
	}
}

// TestExtract_MalformedOutput verifies non-JSON inference output degrades
// to no record.
func TestExtract_MalformedOutput(t *testing.T) {
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(t, "Sure! Here is the coupon you asked for:")))
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
}

// TestExtract_FieldDefaults verifies sparse output is defaulted, never
// rejected.
func TestExtract_FieldDefaults(t *testing.T) {
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(t, `{"description": "something vague", "category": "Jewelry"}`)))
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}

	if rec.CompanyName != "Unknown" {
		t.Errorf("company = %q, want Unknown", rec.CompanyName)
	}
	if rec.ProfitAmount != "Deal" {
		t.Errorf("profit = %q, want Deal", rec.ProfitAmount)
	}
	if rec.Category != models.CategoryOther {
		t.Errorf("category = %q, want Other", rec.Category)
	}
	if rec.ExpiryDate != nil || rec.IsExpired {
		t.Errorf("expiry = %v, expired = %v", rec.ExpiryDate, rec.IsExpired)
	}
}

// TestExtract_PastExpiry verifies records with a past expiry are kept but
// flagged.
func TestExtract_PastExpiry(t *testing.T) {
	ex := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(t, `{"company_name": "ShopCo", "expiry_date": "2020-01-01"}`)))
	}))

	rec, err := ex.Extract(context.Background(), promoMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.ExpiryDate == nil || !rec.IsExpired {
		t.Errorf("expiry = %v, expired = %v, want past and flagged", rec.ExpiryDate, rec.IsExpired)
	}
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"2026-12-31", true},
		{"2026-12-31T23:59:59", true},
		{"2026-12-31T23:59:59Z", true},
		{"null", false},
		{"", false},
		{"end of the month", false},
	}

	for _, tt := range tests {
		got := parseExpiry(tt.value)
		if (got != nil) != tt.want {
			t.Errorf("parseExpiry(%q) = %v, want present=%v", tt.value, got, tt.want)
		}
	}
}
