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

// Package scan sequences normalized messages through the extraction
// worker, deduplicates the results, and produces the single ordered
// lifecycle event stream the transport relays to the client.
package scan

import "github.com/inboxdeal/scanner/internal/models"

// EventType discriminates the lifecycle event variants.
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventResult   EventType = "coupon"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one entry in a scan's ordered lifecycle stream. Which fields
// are meaningful depends on Type; events are never mutated after emission.
type Event struct {
	Type    EventType
	Message string

	// Progress
	Percent int

	// Result
	Record *models.Opportunity

	// Complete
	Count   int
	Records []models.Opportunity
}

// Logf builds a log event.
func Logf(msg string) Event {
	return Event{Type: EventLog, Message: msg}
}

// Errorf builds a terminal error event.
func Errorf(msg string) Event {
	return Event{Type: EventError, Message: msg}
}
