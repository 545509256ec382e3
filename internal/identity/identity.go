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

// Package identity handles the OAuth2 consent flow against Google: building
// the consent URL (with a resumption watermark folded into the state
// parameter), exchanging the authorization code for tokens, and producing
// the credential bundle that one scan attempt owns.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"

// Bundle is the credential material issued to exactly one scan attempt.
// It is immutable once issued and referenced only through an opaque handle.
type Bundle struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	Expiry       time.Time  `json:"expiry,omitempty"`
	Email        string     `json:"email,omitempty"`
	Watermark    *time.Time `json:"watermark,omitempty"`
}

// Token converts the bundle back into an oauth2 token.
func (b *Bundle) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    b.TokenType,
		Expiry:       b.Expiry,
	}
}

// Service performs the code-for-token exchange with the identity provider.
type Service struct {
	cfg *oauth2.Config
}

// NewService creates an identity service for the given OAuth2 client.
// The endpoint defaults to Google's and can be overridden for tests.
func NewService(clientID, clientSecret, redirectURI string) *Service {
	return &Service{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{gmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// SetEndpoint overrides the provider endpoint (used by tests).
func (s *Service) SetEndpoint(authURL, tokenURL string) {
	s.cfg.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
}

// Configured reports whether provider credentials are present. A scan
// request against an unconfigured service is a configuration error.
func (s *Service) Configured() bool {
	return s.cfg.ClientID != "" && s.cfg.ClientSecret != ""
}

// ConsentURL builds the provider consent URL. scanHistory is the client's
// JSON map of account email to last-scan timestamp (milliseconds); it is
// carried through the redirect inside the base64url state parameter.
func (s *Service) ConsentURL(scanHistory string) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("missing server credentials")
	}

	state := EncodeState(scanHistory)
	return s.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// Exchange performs the single code-for-token round trip. Provider-reported
// errors come back as *oauth2.RetrieveError so the caller can surface the
// provider payload verbatim; exchanges are never retried.
func (s *Service) Exchange(ctx context.Context, code string) (*Bundle, error) {
	tok, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}, nil
}

// HTTPClient returns an HTTP client that authenticates with (and refreshes)
// the bundle's tokens.
func (s *Service) HTTPClient(ctx context.Context, b *Bundle) *http.Client {
	return s.cfg.Client(ctx, b.Token())
}
