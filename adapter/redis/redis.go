// Package redis publishes completion events to a Redis pub/sub channel.
//
// Events are encoded with the configured codec (JSON by default) and sent
// with PUBLISH, retrying with exponential backoff on failure.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/NATS/adapter"
	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/protocol"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "pcapbus:analysis_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultBackoff is the pause before the first retry; it doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: pcapbus:analysis_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Codec encodes events (default JSON).
	Codec protocol.Codec
	// Backoff returns the pause before retry n (1-based).
	Backoff func(n int) time.Duration
	// Logger receives retry warnings (optional).
	Logger *log.Logger
}

// Adapter publishes completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
	logger *log.Logger
}

// New creates a Redis pub/sub adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSONCodec{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = bus.ExponentialBackoff(DefaultBackoff, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
		logger: logger.Named("redis_adapter"),
	}, nil
}

// Publish sends the encoded event to the configured channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.AnalysisCompletedEvent) error {
	body, err := a.config.Codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if i > 0 {
			if err := bus.SleepContext(ctx, a.config.Backoff(i)); err != nil {
				return fmt.Errorf("redis: context canceled during backoff: %w", err)
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.client.Publish(publishCtx, a.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
		a.logger.Warn("publish attempt failed", map[string]any{
			"attempt":    i + 1,
			"channel":    a.config.Channel,
			"session_id": event.SessionID,
			"error":      lastErr.Error(),
		})
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
