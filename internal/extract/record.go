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
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/inboxdeal/scanner/internal/models"
)

// llmRecord mirrors the JSON schema the inference prompt requests. All
// fields are optional — partial output is defaulted, never rejected.
type llmRecord struct {
	Error       string `json:"error"`
	CompanyName string `json:"company_name"`
	Profit      string `json:"profit_amount"`
	Description string `json:"description"`
	ExpiryDate  string `json:"expiry_date"`
	Code        string `json:"code"`
	Category    string `json:"category"`
}

// expiryLayouts are the date shapes the inference service has been seen to
// emit for expiry_date.
var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseRecord is the single place untyped inference output becomes a typed
// record. It returns nil for the not_found sentinel and for malformed
// payloads; missing fields get defaults.
func (e *Extractor) parseRecord(content string, msg models.Message) *models.Opportunity {
	var data llmRecord
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		slog.Warn("inference output not valid JSON",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	if data.Error == "not_found" {
		return nil
	}

	rec := &models.Opportunity{
		ID:            msg.ID,
		CompanyName:   defaultString(data.CompanyName, "Unknown"),
		ProfitAmount:  defaultString(data.Profit, "Deal"),
		Description:   data.Description,
		Code:          data.Code,
		SourceEmailID: msg.ID,
		ThreadID:      msg.ThreadID,
		Category:      models.ParseCategory(data.Category),
	}

	if expiry := parseExpiry(data.ExpiryDate); expiry != nil {
		rec.ExpiryDate = expiry
		rec.IsExpired = expiry.Before(time.Now())
	}

	return rec
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// parseExpiry tries the known expiry layouts; an unparseable date is
// treated as absent.
func parseExpiry(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil
	}

	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}

	slog.Debug("unparseable expiry date", "value", s)
	return nil
}
