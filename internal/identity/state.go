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

package identity

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"
)

// State is the payload carried through the OAuth2 state parameter as
// base64url-encoded JSON. scan_history maps account email to the last
// successful scan timestamp in milliseconds; last_scan is the legacy
// single-account scalar.
type State struct {
	ScanHistory map[string]string `json:"scan_history,omitempty"`
	LastScan    string            `json:"last_scan,omitempty"`
}

// EncodeState wraps the client's scan-history JSON into the state parameter.
// Unparseable input is dropped rather than failing the login.
func EncodeState(scanHistory string) string {
	st := State{}
	if scanHistory != "" {
		if err := json.Unmarshal([]byte(scanHistory), &st.ScanHistory); err != nil {
			slog.Warn("ignoring unparseable scan_history", "error", err)
			st.ScanHistory = nil
		}
	}

	payload, _ := json.Marshal(st)
	return base64.URLEncoding.EncodeToString(payload)
}

// DecodeState recovers the state payload from the callback. Decoding failure
// is non-fatal: the scan proceeds without a watermark.
func DecodeState(state string) *State {
	if state == "" {
		return nil
	}

	payload, err := base64.URLEncoding.DecodeString(state)
	if err != nil {
		if payload, err = base64.RawURLEncoding.DecodeString(state); err != nil {
			slog.Warn("state decode failed", "error", err)
			return nil
		}
	}

	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		slog.Warn("state payload not valid JSON", "error", err)
		return nil
	}

	return &st
}

// Watermark resolves the resumption cursor for the given account. Timestamps
// travel as millisecond strings; the returned time bounds the mail query.
func (st *State) Watermark(email string) *time.Time {
	if st == nil {
		return nil
	}

	raw := ""
	if email != "" {
		raw = st.ScanHistory[email]
	}
	if raw == "" {
		raw = st.LastScan
	}
	if raw == "" {
		return nil
	}

	millis, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("unparseable watermark timestamp", "value", raw, "error", err)
		return nil
	}

	t := time.UnixMilli(int64(millis)).UTC()
	return &t
}
