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

package gmail

import (
	"encoding/base64"
	"fmt"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/inboxdeal/scanner/internal/models"
)

// parseMessage normalizes a full Gmail message. The body prefers a
// text/plain part, falls back to text/html verbatim (no stripping), and
// stays empty when neither is present — downstream treats empty bodies as
// "no opportunity", not as an error.
func parseMessage(m *gmailapi.Message) (*models.Message, error) {
	if m == nil || m.Payload == nil {
		return nil, fmt.Errorf("message has no payload")
	}

	msg := &models.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Subject:  "No Subject",
	}

	for _, h := range m.Payload.Headers {
		switch h.Name {
		case "Subject":
			msg.Subject = h.Value
		case "From":
			msg.Sender = h.Value
		case "Date":
			msg.Date = h.Value
		}
	}

	msg.Body = extractBody(m.Payload)

	return msg, nil
}

// extractBody picks the message body from the MIME payload.
func extractBody(payload *gmailapi.MessagePart) string {
	if len(payload.Parts) == 0 {
		if payload.Body != nil {
			return decodeBody(payload.Body.Data)
		}
		return ""
	}

	var html string
	for _, part := range payload.Parts {
		if part.Body == nil || part.Body.Data == "" {
			continue
		}
		switch part.MimeType {
		case "text/plain":
			if body := decodeBody(part.Body.Data); body != "" {
				return body
			}
		case "text/html":
			if html == "" {
				html = decodeBody(part.Body.Data)
			}
		}
	}

	return html
}

// decodeBody decodes the Gmail API's url-safe base64 body data. Gmail
// omits padding on some payloads, so both variants are tried.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}

	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(data); err != nil {
			return ""
		}
	}

	return string(raw)
}
