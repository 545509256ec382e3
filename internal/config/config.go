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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GoogleConfig holds the OAuth2 client credentials for the identity provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// InferenceConfig holds the connection settings for the extraction service.
type InferenceConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ScanConfig tunes a single scan run.
type ScanConfig struct {
	MaxResults     int64
	LookbackMonths int
	MinBodyChars   int
	PromptBodyCap  int
	FetchParallel  int
}

// Config holds all configuration for the scanner service.
type Config struct {
	Google    GoogleConfig
	Inference InferenceConfig
	Scan      ScanConfig

	// FrontendURL is the browser app the callback redirects back to.
	FrontendURL string

	// RedisURL selects the Redis-backed handle store; empty falls back to
	// the in-process store.
	RedisURL string

	// HandleTTL bounds how long an unconsumed credential handle stays valid.
	HandleTTL time.Duration

	// Per-call timeouts for the three external collaborators.
	ExchangeTimeout  time.Duration
	MailCallTimeout  time.Duration
	InferenceTimeout time.Duration

	// Rate-limit retry policy for the extraction worker.
	InferAttempts    int
	InferBackoffBase time.Duration

	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURI  string `yaml:"redirect_uri"`
	} `yaml:"google"`
	Frontend struct {
		URL string `yaml:"url"`
	} `yaml:"frontend"`
	Inference struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"inference"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Scan struct {
		MaxResults     int64  `yaml:"max_results"`
		LookbackMonths int    `yaml:"lookback_months"`
		MinBodyChars   int    `yaml:"min_body_chars"`
		PromptBodyCap  int    `yaml:"prompt_body_cap"`
		FetchParallel  int    `yaml:"fetch_parallel"`
		HandleTTL      string `yaml:"handle_ttl"`
	} `yaml:"scan"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing config file is not an error — everything
// can be supplied through the environment.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Env-only configuration
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Google: GoogleConfig{
			ClientID:     firstNonEmpty(raw.Google.ClientID, os.Getenv("GOOGLE_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Google.ClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET")),
			RedirectURI:  firstNonEmpty(raw.Google.RedirectURI, envOrDefault("REDIRECT_URI", "http://localhost:8000/auth/callback")),
		},
		FrontendURL: firstNonEmpty(raw.Frontend.URL, envOrDefault("FRONTEND_URL", "http://localhost:3000")),
		Inference: InferenceConfig{
			BaseURL: firstNonEmpty(raw.Inference.BaseURL, envOrDefault("OPENAI_BASE_URL", "https://api.openai.com")),
			APIKey:  firstNonEmpty(raw.Inference.APIKey, os.Getenv("OPENAI_API_KEY")),
			Model:   firstNonEmpty(raw.Inference.Model, envOrDefault("OPENAI_MODEL", "gpt-4o")),
		},
		RedisURL: firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		Scan: ScanConfig{
			MaxResults:     firstPositive64(raw.Scan.MaxResults, envInt64("SCAN_MAX_RESULTS"), 60),
			LookbackMonths: firstPositive(raw.Scan.LookbackMonths, envInt("SCAN_LOOKBACK_MONTHS"), 6),
			MinBodyChars:   firstPositive(raw.Scan.MinBodyChars, envInt("SCAN_MIN_BODY_CHARS"), 50),
			PromptBodyCap:  firstPositive(raw.Scan.PromptBodyCap, envInt("SCAN_PROMPT_BODY_CAP"), 3000),
			FetchParallel:  firstPositive(raw.Scan.FetchParallel, envInt("SCAN_FETCH_PARALLEL"), 8),
		},
		HandleTTL:        firstDuration(raw.Scan.HandleTTL, os.Getenv("HANDLE_TTL"), 10*time.Minute),
		ExchangeTimeout:  envOrDefaultDuration("EXCHANGE_TIMEOUT", 15*time.Second),
		MailCallTimeout:  envOrDefaultDuration("MAIL_CALL_TIMEOUT", 30*time.Second),
		InferenceTimeout: envOrDefaultDuration("INFERENCE_TIMEOUT", 60*time.Second),
		InferAttempts:    firstPositive(envInt("INFER_ATTEMPTS"), 3),
		InferBackoffBase: envOrDefaultDuration("INFER_BACKOFF_BASE", 2*time.Second),
		Port:             envOrDefaultInt("PORT", 8000),
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func envInt64(key string) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositive64(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(yamlValue, envValue string, fallback time.Duration) time.Duration {
	for _, v := range []string{yamlValue, envValue} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
