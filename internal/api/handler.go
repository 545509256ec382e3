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

// Package api exposes the scanner's HTTP surface: the OAuth2 consent and
// callback endpoints, the streaming scan channel, and the one-shot
// raw-messages endpoint for client-side extraction.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/oauth2"

	"github.com/inboxdeal/scanner/internal/identity"
	"github.com/inboxdeal/scanner/internal/models"
	"github.com/inboxdeal/scanner/internal/scan"
	"github.com/inboxdeal/scanner/internal/tokenstore"
)

// MailSource is the slice of the mail provider the handlers need.
// Implemented by gmail.Source.
type MailSource interface {
	Profile(ctx context.Context) (string, error)
	Fetch(ctx context.Context, maxResults int64, after *time.Time) ([]models.Message, error)
}

// MailOpener builds an authenticated mail source from a credential bundle.
type MailOpener func(ctx context.Context, b *identity.Bundle) (MailSource, error)

// Pinger is implemented by stores with a health-checkable backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the scanner HTTP API.
type Handler struct {
	identity  *identity.Service
	store     tokenstore.Store
	openMail  MailOpener
	extractor scan.Extractor

	frontendURL     string
	maxResults      int64
	exchangeTimeout time.Duration
}

// HandlerConfig holds the handler's collaborators.
type HandlerConfig struct {
	Identity        *identity.Service
	Store           tokenstore.Store
	OpenMail        MailOpener
	Extractor       scan.Extractor
	FrontendURL     string
	MaxResults      int64
	ExchangeTimeout time.Duration
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 60
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 15 * time.Second
	}

	return &Handler{
		identity:        cfg.Identity,
		store:           cfg.Store,
		openMail:        cfg.OpenMail,
		extractor:       cfg.Extractor,
		frontendURL:     cfg.FrontendURL,
		maxResults:      cfg.MaxResults,
		exchangeTimeout: cfg.ExchangeTimeout,
	}
}

// Routes builds the router. The frontend is a browser app on another
// origin, so CORS is part of the contract.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.frontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.handleLogin)
		r.Get("/callback", h.handleCallback)
		r.Get("/scan/{token}", h.handleScan)
		r.Get("/raw_messages/{token}", h.handleRawMessages)
	})

	return r
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "inbox deal scanner",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "handle store unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleLogin returns the provider consent URL. Missing server credentials
// are a configuration error surfaced immediately, never retried.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.identity.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Missing Server Credentials",
		})
		return
	}

	url, err := h.identity.ConsentURL(r.URL.Query().Get("scan_history"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":  url,
		"mode": "live",
	})
}

// handleCallback exchanges the authorization code, resolves the resumption
// watermark, and redirects the user agent to the scanning page carrying an
// opaque handle — never the raw credentials.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.exchangeTimeout)
	defer cancel()

	bundle, err := h.identity.Exchange(ctx, code)
	if err != nil {
		// Provider-reported rejections go back to the caller verbatim.
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write(rerr.Body)
			return
		}
		slog.Error("token exchange failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "token exchange failed"})
		return
	}

	h.resolveWatermark(r.Context(), bundle, r.URL.Query().Get("state"))

	handle, err := h.store.Put(r.Context(), bundle)
	if err != nil {
		slog.Error("failed to store credential bundle", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue scan token"})
		return
	}

	http.Redirect(w, r, h.frontendURL+"/scanning?token="+handle, http.StatusTemporaryRedirect)
}

// resolveWatermark decodes the state payload and, when it carries scan
// history, looks up the account's last-scan cursor. Every failure here is
// non-fatal: the scan just runs without a watermark.
func (h *Handler) resolveWatermark(ctx context.Context, bundle *identity.Bundle, state string) {
	st := identity.DecodeState(state)
	if st == nil || (len(st.ScanHistory) == 0 && st.LastScan == "") {
		return
	}

	// Picking the right history entry needs the account email.
	src, err := h.openMail(ctx, bundle)
	if err != nil {
		slog.Warn("watermark resolution: open mail source failed", "error", err)
		return
	}

	email, err := src.Profile(ctx)
	if err != nil {
		slog.Warn("watermark resolution: profile lookup failed", "error", err)
		return
	}

	bundle.Email = email
	bundle.Watermark = st.Watermark(email)
}

// handleRawMessages is the one-shot alternative to the streaming scan:
// it returns the normalized messages in a single response for client-side
// extraction. The handle is consumed up front, so a second request with
// the same token is a not-found error.
func (h *Handler) handleRawMessages(w http.ResponseWriter, r *http.Request) {
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

	src, err := h.openMail(r.Context(), bundle)
	if err != nil {
		slog.Error("open mail source failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "mail source unavailable"})
		return
	}

	email := bundle.Email
	if email == "" {
		if email, err = src.Profile(r.Context()); err != nil {
			slog.Error("profile lookup failed", "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "profile lookup failed"})
			return
		}
	}

	messages, err := src.Fetch(r.Context(), h.maxResults, bundle.Watermark)
	if err != nil {
		slog.Error("message fetch failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "message fetch failed"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"email":    email,
		"messages": messages,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
