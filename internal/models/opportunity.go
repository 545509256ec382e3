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

package models

import "time"

// Category classifies an extracted opportunity.
type Category string

const (
	CategoryRetail Category = "Retail"
	CategoryFood   Category = "Food"
	CategoryTech   Category = "Tech"
	CategoryTravel Category = "Travel"
	CategorySurvey Category = "Survey"
	CategoryOther  Category = "Other"
)

// ParseCategory maps a free-form category label onto the fixed enum.
// Anything unrecognised becomes CategoryOther.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryRetail, CategoryFood, CategoryTech, CategoryTravel, CategorySurvey, CategoryOther:
		return Category(s)
	}
	return CategoryOther
}

// Opportunity is a typed value record extracted from a single message —
// a coupon, a discount, or a paid-survey offer.
//
// This struct's JSON serialisation is the wire contract consumed by the
// frontend; field names must stay in sync with it.
type Opportunity struct {
	ID            string     `json:"id"`
	CompanyName   string     `json:"company_name"`
	ProfitAmount  string     `json:"profit_amount"`
	Description   string     `json:"description"`
	ExpiryDate    *time.Time `json:"expiry_date"`
	Code          string     `json:"code,omitempty"`
	SourceEmailID string     `json:"source_email_id"`
	ThreadID      string     `json:"thread_id,omitempty"`
	Category      Category   `json:"category"`
	IsExpired     bool       `json:"is_expired"`
}
