// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package main

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hookwise/hookwise/internal/breaker"
	"github.com/hookwise/hookwise/internal/config"
	"github.com/hookwise/hookwise/internal/database"
	"github.com/hookwise/hookwise/internal/delivery"
	"github.com/hookwise/hookwise/internal/idempotency"
	"github.com/hookwise/hookwise/internal/logging"
	"github.com/hookwise/hookwise/internal/queue"
)

// QueueComponents holds the task queue stack for lifecycle management.
type QueueComponents struct {
	server            *queue.EmbeddedServer
	natsConn          *natsgo.Conn
	streamInitializer *queue.StreamInitializer
	publisher         *queue.Publisher
	router            *queue.Router

	// One durable subscriber per handler so each topic keeps its own
	// consumer position.
	receivedSub *queue.Subscriber
	retrySub    *queue.Subscriber
	replaySub   *queue.Subscriber
}

// InitQueue brings up the task queue: embedded NATS (when configured), the
// stream, the resilient publisher, and the router with the delivery worker
// and replay engine handlers registered.
func InitQueue(cfg *config.Config, db *database.DB, brk *breaker.Breaker, transport *delivery.Transport, idem *idempotency.Store) (*QueueComponents, error) {
	logging.Info().Msg("Initializing task queue...")

	components := &QueueComponents{}
	wmLogger := queue.NewWatermillLogger()

	// Step 1: embedded NATS server, when enabled.
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		server, err := queue.NewEmbeddedServer(&queue.ServerConfig{
			Host:              "127.0.0.1",
			Port:              4222,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		})
		if err != nil {
			return nil, err
		}
		components.server = server
		natsURL = server.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	// Step 2: connect and provision the stream.
	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	components.natsConn = nc

	js, err := jetstream.New(nc)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := queue.DefaultStreamConfig(cfg.NATS.StreamName)
	initializer, err := queue.NewStreamInitializer(js, &streamCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}
	components.streamInitializer = initializer

	ensureCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := initializer.EnsureStream(ensureCtx); err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	logging.Info().Str("stream", cfg.NATS.StreamName).Msg("Task stream ready")

	// Step 3: publisher with breaker protection.
	publisher, err := queue.NewPublisher(queue.DefaultPublisherConfig(natsURL), wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	publisher.SetCircuitBreaker(queue.NewPublishBreaker())
	components.publisher = publisher

	// Step 4: subscribers, one durable consumer per handler.
	components.receivedSub, err = newSubscriber(cfg, natsURL, "received", wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}
	components.retrySub, err = newSubscriber(cfg, natsURL, "retry", wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}
	components.replaySub, err = newSubscriber(cfg, natsURL, "replay", wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}

	// Step 5: router with the pipeline handlers.
	routerCfg := queue.RouterConfig{
		CloseTimeout:         cfg.NATS.RouterCloseTimeout,
		RetryMaxRetries:      cfg.NATS.RouterRetryCount,
		RetryInitialInterval: cfg.NATS.RouterRetryInitialInterval,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     cfg.NATS.RouterPoisonQueueTopic,
	}
	router, err := queue.NewRouter(&routerCfg, publisher.AsStandardPublisher(), wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create router: %w", err)
	}
	components.router = router

	worker := delivery.NewWorker(db, brk, transport, publisher, idem, cfg.Delivery)
	engine := delivery.NewEngine(db, brk, transport, publisher, idem, cfg.Delivery)

	router.AddHandler("delivery-worker", queue.TopicWebhookReceived, components.receivedSub, worker.HandleWebhookReceived)
	router.AddHandler("retry-worker", queue.TopicWebhookRetry, components.retrySub, worker.HandleWebhookRetry)
	router.AddHandler("replay-engine", queue.TopicReplayStarted, components.replaySub, engine.HandleReplayStarted)

	logging.Info().Msg("Task queue initialized")
	return components, nil
}

// newSubscriber builds one durable subscriber named after its handler.
func newSubscriber(cfg *config.Config, natsURL, name string, logger *queue.WatermillLogger) (*queue.Subscriber, error) {
	subCfg := queue.SubscriberConfig{
		URL:              natsURL,
		StreamName:       cfg.NATS.StreamName,
		DurableName:      cfg.NATS.DurableName + "-" + name,
		QueueGroup:       cfg.NATS.QueueGroup,
		SubscribersCount: cfg.NATS.SubscribersCount,
		AckWaitTimeout:   cfg.NATS.AckWaitTimeout,
		CloseTimeout:     cfg.NATS.RouterCloseTimeout,
		MaxDeliver:       cfg.NATS.MaxDeliver,
		MaxAckPending:    cfg.NATS.MaxAckPending,
		MaxReconnects:    cfg.NATS.MaxReconnects,
		ReconnectWait:    cfg.NATS.ReconnectWait,
	}
	sub, err := queue.NewSubscriber(&subCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s subscriber: %w", name, err)
	}
	return sub, nil
}

// Publisher returns the task publisher.
func (c *QueueComponents) Publisher() *queue.Publisher {
	return c.publisher
}

// Router returns the message router.
func (c *QueueComponents) Router() *queue.Router {
	return c.router
}

// Stream returns the stream initializer, which doubles as the queue health
// probe for readiness checks.
func (c *QueueComponents) Stream() *queue.StreamInitializer {
	return c.streamInitializer
}

// Shutdown tears the stack down in reverse dependency order.
func (c *QueueComponents) Shutdown(ctx context.Context) {
	if c.router != nil {
		if err := c.router.Close(); err != nil {
			logging.Error().Err(err).Msg("Router close failed")
		}
	}
	for _, sub := range []*queue.Subscriber{c.receivedSub, c.retrySub, c.replaySub} {
		if sub != nil {
			if err := sub.Close(); err != nil {
				logging.Error().Err(err).Msg("Subscriber close failed")
			}
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Publisher close failed")
		}
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Embedded NATS shutdown failed")
		}
	}
}
