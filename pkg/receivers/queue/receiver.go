// Package queue consumes inbound WhatsApp messages from a Redis list and
// feeds them to the funnel trigger matchers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultQueue = "funnel:inbound"

// InboundMessage is one message popped off the queue. The webhook bridge on
// the messaging side pushes these as JSON.
type InboundMessage struct {
	CompanyID string    `json:"company_id"`
	ContactID string    `json:"contact_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg InboundMessage) error

// Receiver blocks on a Redis list and dispatches each popped message to the
// handler on its own goroutine.
type Receiver struct {
	queue   string
	client  redis.UniversalClient
	handler Handler
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Config carries the Redis connection settings for a receiver.
type Config struct {
	Addr     string
	Password string
	DB       string
	Queue    string
}

func NewReceiver(cfg Config, logger *slog.Logger) (*Receiver, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}

	db := 0

	if cfg.DB != "" {
		var err error

		db, err = strconv.Atoi(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("invalid db value: %w", err)
		}
	}

	return &Receiver{
		queue: cfg.Queue,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       db,
		}),
		logger: logger.With("module", "queue_receiver", "queue", cfg.Queue),
		stopCh: make(chan struct{}),
	}, nil
}

func (r *Receiver) Start(ctx context.Context, handler Handler) error {
	r.handler = handler

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Starting queue receiver")

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Queue receiver stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping queue receiver")

			return
		default:
			if err := r.processMessage(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var msg InboundMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return fmt.Errorf("failed to decode inbound message: %w", err)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	go func() {
		if err := r.handler(ctx, msg); err != nil {
			r.logger.ErrorContext(ctx, "Error handling inbound message",
				"company_id", msg.CompanyID,
				"contact_id", msg.ContactID,
				"error", err)
		}
	}()

	return nil
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping queue receiver")

	close(r.stopCh)
	r.wg.Wait()

	if err := r.client.Close(); err != nil {
		r.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
	}

	return nil
}
