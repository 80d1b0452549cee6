// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hookwise/hookwise/internal/metrics"
)

// Publisher wraps the Watermill NATS publisher with resilience patterns:
// circuit breaker protection, automatic reconnection handling, and
// Nats-Msg-Id deduplication.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewPublisher creates a resilient Watermill NATS publisher configured for
// JetStream with message ID tracking.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // Stream is pre-created by StreamInitializer
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{
		publisher: pub,
		logger:    logger,
	}, nil
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	p.circuitBreaker = cb
}

// Publish sends a message to the specified topic. The message UUID is used
// as Nats-Msg-Id for broker-side deduplication if not already set.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	var err error
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}

	metrics.RecordQueuePublish(topic, err)
	return err
}

// PublishTask serializes a task payload and publishes it under the given
// message id. Passing the same id twice inside the stream's duplicate
// window is a no-op at the broker, which is what makes task emission safe
// to retry.
func (p *Publisher) PublishTask(ctx context.Context, topic, msgID string, task interface{}) error {
	data, err := MarshalTask(task)
	if err != nil {
		return err
	}

	if msgID == "" {
		msgID = uuid.New().String()
	}

	msg := message.NewMessage(msgID, data)
	return p.Publish(ctx, topic, msg)
}

// asStandardPublisher adapts Publisher to the standard message.Publisher
// interface for Watermill components (such as the poison queue middleware)
// that expect that interface instead of the context-aware Publish.
type asStandardPublisher struct {
	p *Publisher
}

// Publish implements message.Publisher by delegating to the underlying
// context-aware Publish, preserving circuit breaker protection.
func (a asStandardPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		if err := a.p.Publish(context.Background(), topic, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close implements message.Publisher by delegating to the underlying
// Publisher's Close.
func (a asStandardPublisher) Close() error {
	return a.p.Close()
}

// AsStandardPublisher returns a message.Publisher view of this Publisher.
func (p *Publisher) AsStandardPublisher() message.Publisher {
	return asStandardPublisher{p: p}
}

// Close shuts down the publisher. Subsequent publishes fail fast.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// NewPublishBreaker returns the gobreaker instance protecting queue
// publishes: five consecutive failures trip it, and it re-closes after the
// timeout elapses with a successful probe.
func NewPublishBreaker() *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "queue-publish",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
