// Package app assembles a pcapbus process from its configuration: the bus
// connection, the transfer coordinator, and the optional completion adapter,
// archive and ledger. A Context is built once per command and passed down.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AlibekovAA/NATS/adapter"
	redisadapter "github.com/AlibekovAA/NATS/adapter/redis"
	"github.com/AlibekovAA/NATS/adapter/webhook"
	"github.com/AlibekovAA/NATS/archive"
	"github.com/AlibekovAA/NATS/bus"
	"github.com/AlibekovAA/NATS/bus/bustest"
	busnats "github.com/AlibekovAA/NATS/bus/nats"
	busredis "github.com/AlibekovAA/NATS/bus/redis"
	"github.com/AlibekovAA/NATS/chunk"
	"github.com/AlibekovAA/NATS/cli/config"
	"github.com/AlibekovAA/NATS/log"
	"github.com/AlibekovAA/NATS/metrics"
	"github.com/AlibekovAA/NATS/protocol"
	"github.com/AlibekovAA/NATS/transfer"
	"github.com/AlibekovAA/NATS/types"
	"github.com/AlibekovAA/NATS/worker"
)

// Bus types.
const (
	BusNATS   = "nats"
	BusRedis  = "redis"
	BusMemory = "memory"
)

// Default endpoints per bus type.
const (
	DefaultRedisURL  = "redis://localhost:6379"
	DefaultMemoryURL = "memory://local"
)

// SessionsPrefix is the archive key prefix of session objects. The ledger
// dataset shares the store under its own datasets/ tree.
const SessionsPrefix = "sessions"

// Context holds the components of one pcapbus process.
type Context struct {
	Config    *config.Config
	Logger    *log.Logger
	Metrics   *metrics.Collector
	Manager   *bus.Manager
	Transport *bus.Transport

	// Adapter, Archive and Ledger are nil when not configured.
	Adapter adapter.Adapter
	Archive *archive.Archive
	Ledger  *archive.Ledger

	transfer  transfer.Config
	encoding  types.Encoding
	worker    *worker.Worker
	closeOnce sync.Once
	closeErr  error
}

// New builds a Context. It does not connect; see Connect.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Context, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrValidation, "app", "", err)
	}
	if logger == nil {
		logger = log.Nop()
	}

	busType, endpoint := BusEndpoint(cfg.Bus)
	a := &Context{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(busType, endpoint),
	}

	var err error
	if a.transfer, err = TransferConfig(cfg.Transfer, cfg.Bus.SubjectPrefix); err != nil {
		return nil, err
	}
	a.encoding = types.EncodingHex
	if cfg.Transfer.Encoding != "" {
		a.encoding = types.Encoding(cfg.Transfer.Encoding)
	}

	var dialer bus.Dialer
	switch busType {
	case BusNATS:
		dialer = busnats.NewDialer(busnats.Options{
			Name:           cfg.Bus.Name,
			ConnectTimeout: cfg.Bus.AttemptTimeout.Duration,
			Logger:         logger,
		})
	case BusRedis:
		dialer = busredis.NewDialer(busredis.Options{Logger: logger})
	case BusMemory:
		dialer = bustest.NewNetwork()
		a.worker = worker.New(a.transfer.Codec, a.transfer.Subjects, logger)
	}

	a.Manager, err = bus.NewManager(bus.ManagerOptions{
		Endpoint:        endpoint,
		Dialer:          dialer,
		Retry:           RetryPolicy(cfg.Bus),
		MonitorInterval: cfg.Bus.MonitorInterval.Duration,
		Logger:          logger,
		Metrics:         a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	a.Transport = bus.NewTransport(a.Manager, logger)

	if a.Adapter, err = NewAdapter(cfg.Adapter, a.transfer.Codec, logger); err != nil {
		_ = a.Manager.Close()
		return nil, err
	}
	if err := a.openArchive(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.Debug("app initialized", map[string]any{
		"bus":      busType,
		"endpoint": endpoint,
		"codec":    a.transfer.Codec.Name(),
		"adapter":  cfg.Adapter.Type,
		"archive":  cfg.Archive.Backend,
	})
	return a, nil
}

// BusEndpoint returns the effective bus type and endpoint.
func BusEndpoint(c config.BusConfig) (busType, endpoint string) {
	busType = c.Type
	if busType == "" {
		busType = BusNATS
	}
	endpoint = c.URL
	if endpoint == "" {
		switch busType {
		case BusRedis:
			endpoint = DefaultRedisURL
		case BusMemory:
			endpoint = DefaultMemoryURL
		default:
			endpoint = busnats.DefaultURL
		}
	}
	return busType, endpoint
}

// RetryPolicy maps the bus section onto a connection retry policy. Unset
// fields keep the bus defaults.
func RetryPolicy(c config.BusConfig) bus.RetryPolicy {
	p := bus.DefaultRetryPolicy()
	if c.ConnectAttempts > 0 {
		p.MaxAttempts = c.ConnectAttempts
	}
	if c.AttemptTimeout.Duration != 0 {
		p.AttemptTimeout = c.AttemptTimeout.Duration
	}
	if c.ConnectBackoff.Duration > 0 {
		p.Backoff = bus.LinearBackoff(c.ConnectBackoff.Duration)
	}
	return p
}

// TransferConfig maps the transfer section onto coordinator parameters.
func TransferConfig(c config.TransferConfig, subjectPrefix string) (transfer.Config, error) {
	codec := protocol.Codec(protocol.JSONCodec{})
	if c.Codec != "" {
		var err error
		if codec, err = protocol.ParseCodec(c.Codec); err != nil {
			return transfer.Config{}, err
		}
	}

	splitter := chunk.DefaultConfig()
	if c.MaxFileSize > 0 {
		splitter.MaxFileSize = c.MaxFileSize
	}
	if c.ValidateHeader != nil && !*c.ValidateHeader {
		splitter.SkipValidation = true
	}

	return transfer.Config{
		ChunkSize:     c.ChunkSize,
		Concurrency:   c.Concurrency,
		ChunkTimeout:  c.ChunkTimeout.Duration,
		FinishTimeout: c.FinishTimeout.Duration,
		Subjects:      protocol.NewSubjects(subjectPrefix),
		Codec:         codec,
		Splitter:      splitter,
	}, nil
}

// NewAdapter builds the configured completion adapter, or nil.
func NewAdapter(c config.AdapterConfig, codec protocol.Codec, logger *log.Logger) (adapter.Adapter, error) {
	switch c.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if c.Retries != nil {
			retries = *c.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     c.URL,
			Headers: c.Headers,
			Timeout: c.Timeout.Duration,
			Retries: retries,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		retries := redisadapter.DefaultRetries
		if c.Retries != nil {
			retries = *c.Retries
		}
		a, err := redisadapter.New(redisadapter.Config{
			URL:     c.URL,
			Channel: c.Channel,
			Timeout: c.Timeout.Duration,
			Retries: retries,
			Codec:   codec,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", c.Type)
	}
}

func (a *Context) openArchive(ctx context.Context) error {
	c := a.Config.Archive
	var (
		backend *archive.Backend
		err     error
	)
	switch c.Backend {
	case "":
		return nil
	case "fs":
		if backend, err = archive.NewFSBackend(c.Path); err != nil {
			return err
		}
	case "s3":
		bucket, prefix := archive.ParseS3Path(c.Path)
		if backend, err = archive.NewS3Backend(ctx, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       c.Region,
			Endpoint:     c.Endpoint,
			UsePathStyle: c.S3PathStyle,
		}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Backend)
	}

	a.Archive = archive.New(backend, SessionsPrefix)
	if c.Ledger {
		if a.Ledger, err = archive.NewLedger(backend.Factory()); err != nil {
			return err
		}
	}
	a.Logger.Debug("archive enabled", map[string]any{
		"backend": c.Backend,
		"path":    c.Path,
		"ledger":  c.Ledger,
	})
	return nil
}

// Encoding returns the configured default chunk encoding.
func (a *Context) Encoding() types.Encoding {
	return a.encoding
}

// TransferConfig returns the coordinator parameters.
func (a *Context) TransferConfig() transfer.Config {
	return a.transfer
}

// Connect opens the bus connection. On the memory bus it also starts the
// in-process worker.
func (a *Context) Connect(ctx context.Context) error {
	if err := a.Manager.Connect(ctx); err != nil {
		return err
	}
	if a.worker != nil {
		if err := a.worker.Serve(ctx, a.Transport); err != nil {
			return err
		}
	}
	return nil
}

// NewCoordinator returns a coordinator over the transport. Coordinators
// are stateless; one is created per observer.
func (a *Context) NewCoordinator(observer transfer.Observer, override func(*transfer.Config)) *transfer.Coordinator {
	cfg := a.transfer
	if override != nil {
		override(&cfg)
	}
	return transfer.NewCoordinator(a.Transport, transfer.Options{
		Config:   cfg,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
		Observer: observer,
	})
}

// Close releases the bus connection and the adapter. It is safe to call
// more than once.
func (a *Context) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.Adapter != nil {
			if err := a.Adapter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close adapter: %w", err))
			}
		}
		if a.Manager != nil {
			if err := a.Manager.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close bus: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
