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

// Inbox Deal Scanner — API server
//
// Entry point for the scanner backend. It:
//  1. Loads configuration from config.yaml / environment
//  2. Connects the credential-handle store (Redis, or in-process)
//  3. Wires the OAuth2 identity service, Gmail source, and extraction worker
//  4. Serves the consent, callback, streaming-scan and raw-messages endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/inboxdeal/scanner/internal/api"
	"github.com/inboxdeal/scanner/internal/config"
	"github.com/inboxdeal/scanner/internal/extract"
	"github.com/inboxdeal/scanner/internal/gmail"
	"github.com/inboxdeal/scanner/internal/identity"
	"github.com/inboxdeal/scanner/internal/tokenstore"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting inbox deal scanner backend")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"max_results", cfg.Scan.MaxResults,
		"handle_ttl", cfg.HandleTTL,
	)

	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		// Not fatal: the login endpoint reports the configuration error
		// to the caller.
		slog.Warn("Google client credentials missing — login requests will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Credential Handle Store ---
	var store tokenstore.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		redisStore := tokenstore.NewRedisStore(rdb, cfg.HandleTTL)
		if err := redisStore.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis handle store")
		store = redisStore
	} else {
		slog.Info("using in-process handle store")
		store = tokenstore.NewMemoryStore(cfg.HandleTTL)
	}

	// --- Identity Service ---
	ident := identity.NewService(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURI)

	// --- Extraction Worker ---
	extractor := extract.New(extract.Config{
		BaseURL:       cfg.Inference.BaseURL,
		APIKey:        cfg.Inference.APIKey,
		Model:         cfg.Inference.Model,
		MinBodyChars:  cfg.Scan.MinBodyChars,
		PromptBodyCap: cfg.Scan.PromptBodyCap,
		Timeout:       cfg.InferenceTimeout,
		MaxAttempts:   cfg.InferAttempts,
		BackoffBase:   cfg.InferBackoffBase,
	})

	// --- Mail Source factory ---
	openMail := func(ctx context.Context, b *identity.Bundle) (api.MailSource, error) {
		return gmail.NewSource(ctx, gmail.SourceConfig{
			LookbackMonths: cfg.Scan.LookbackMonths,
			CallTimeout:    cfg.MailCallTimeout,
			FetchParallel:  cfg.Scan.FetchParallel,
		}, option.WithHTTPClient(ident.HTTPClient(ctx, b)))
	}

	// --- API Handler ---
	handler := api.NewHandler(api.HandlerConfig{
		Identity:        ident,
		Store:           store,
		OpenMail:        openMail,
		Extractor:       extractor,
		FrontendURL:     cfg.FrontendURL,
		MaxResults:      cfg.Scan.MaxResults,
		ExchangeTimeout: cfg.ExchangeTimeout,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler.Routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the scan stream stays open for the whole run;
		// per-call timeouts bound the external work instead.
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("scanner backend listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("scanner backend stopped")
}
