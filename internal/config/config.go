// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package config provides layered configuration management for HookWise.
//
// Configuration is loaded in three layers with clear precedence:
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, /etc/hookwise/config.yaml, or
//     the path named by CONFIG_PATH)
//  3. Environment variables (highest priority)
//
// Secrets never live in source: the database location, NATS store, JWT
// secret, and master secret all arrive through the environment in
// production deployments.
package config

import (
	"time"
)

// Config is the root configuration for the HookWise server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	NATS        NATSConfig        `koanf:"nats"`
	Delivery    DeliveryConfig    `koanf:"delivery"`
	Prober      ProberConfig      `koanf:"prober"`
	Reconcile   ReconcileConfig   `koanf:"reconcile"`
	Sweeper     SweeperConfig     `koanf:"sweeper"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Security    SecurityConfig    `koanf:"security"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// PublicURL is the externally reachable base URL of this deployment.
	// It is stamped into outbound delivery headers so destinations can
	// identify the forwarding instance.
	PublicURL string `koanf:"public_url"`

	// Environment is "development" or "production". Production enforces
	// secret presence at startup.
	Environment string `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings for the event store.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// NATSConfig holds settings for the Watermill/NATS JetStream task queue.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName       string        `koanf:"stream_name"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`

	// Router middleware settings (Watermill Router).
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// DeliveryConfig tunes the delivery worker and replay engine.
type DeliveryConfig struct {
	// Timeout is the per-attempt deadline for destination POSTs.
	Timeout time.Duration `koanf:"timeout"`

	// RetryTimeout is the extended deadline used when retrying after a
	// timeout classification.
	RetryTimeout time.Duration `koanf:"retry_timeout"`

	// ServerErrorBackoff is the pause before retrying a 503.
	ServerErrorBackoff time.Duration `koanf:"server_error_backoff"`

	// RateLimitFallback is the pause before retrying a 429 when the
	// destination sent no usable Retry-After header.
	RateLimitFallback time.Duration `koanf:"rate_limit_fallback"`

	// ReplayBatchSize is how many pending queue items one replay iteration
	// loads.
	ReplayBatchSize int `koanf:"replay_batch_size"`

	// ReplaySkipBudget is the attempts ceiling after which a queue item is
	// marked skipped so it cannot block later positions.
	ReplaySkipBudget int `koanf:"replay_skip_budget"`
}

// ProberConfig tunes the health prober for OPEN endpoints.
type ProberConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

// ReconcileConfig tunes the provider reconciliation puller.
type ReconcileConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`

	// Lookback bounds how far back a cycle compares provider events against
	// local ones.
	Lookback time.Duration `koanf:"lookback"`

	// Provider API base URLs, overridable for tests and regional endpoints.
	StripeAPIBase  string `koanf:"stripe_api_base"`
	ShopifyAPIBase string `koanf:"shopify_api_base"`

	PageSize int           `koanf:"page_size"`
	Timeout  time.Duration `koanf:"timeout"`
}

// SweeperConfig tunes the orphan repair job.
type SweeperConfig struct {
	Interval time.Duration `koanf:"interval"`

	// MinAge is how old an event without a delivery must be before the
	// sweeper re-emits it.
	MinAge time.Duration `koanf:"min_age"`
}

// IdempotencyConfig holds the Badger marker store settings.
type IdempotencyConfig struct {
	Path string        `koanf:"path"`
	TTL  time.Duration `koanf:"ttl"`
}

// SecurityConfig holds secrets and API protection settings.
type SecurityConfig struct {
	// Secret is the master secret; the credential encryption key and JWT
	// signing key are both derived from it via HKDF.
	Secret string `koanf:"secret"`

	// JWTSecret optionally overrides the derived JWT signing key.
	JWTSecret string `koanf:"jwt_secret"`

	SessionTimeout    time.Duration `koanf:"session_timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// APIConfig holds pagination limits for list endpoints.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
