package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level YAML configuration for pcapbus.
// CLI flags override values set here.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Transfer TransferConfig `yaml:"transfer"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

// BusConfig selects and tunes the message bus connection.
type BusConfig struct {
	// Type is nats, redis or memory.
	Type string `yaml:"type"`
	// URL is the broker endpoint, e.g. nats://localhost:4222.
	URL string `yaml:"url"`
	// SubjectPrefix prefixes start, chunk and finish (default "analysis").
	SubjectPrefix string `yaml:"subject_prefix"`
	// Name identifies this client to the broker.
	Name string `yaml:"name"`
	// ConnectAttempts is the number of connection tries.
	ConnectAttempts int `yaml:"connect_attempts"`
	// ConnectBackoff is the linear backoff step between tries.
	ConnectBackoff Duration `yaml:"connect_backoff"`
	// AttemptTimeout bounds each connection try.
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	// MonitorInterval is the reconnect check period; negative disables it.
	MonitorInterval Duration `yaml:"monitor_interval"`
}

// TransferConfig tunes sessions.
type TransferConfig struct {
	ChunkSize     int      `yaml:"chunk_size"`
	Encoding      string   `yaml:"encoding"`
	Concurrency   int      `yaml:"concurrency"`
	ChunkTimeout  Duration `yaml:"chunk_timeout"`
	FinishTimeout Duration `yaml:"finish_timeout"`
	// MaxFileSize rejects larger captures; 0 keeps the default limit.
	MaxFileSize int64 `yaml:"max_file_size"`
	// ValidateHeader toggles the capture header check (default true).
	ValidateHeader *bool `yaml:"validate_header,omitempty"`
	// Codec is json or msgpack.
	Codec string `yaml:"codec"`
}

// AdapterConfig configures the completion notification adapter.
type AdapterConfig struct {
	Type    string            `yaml:"type"`              // "webhook" or "redis"
	URL     string            `yaml:"url"`               // webhook endpoint or redis URL
	Channel string            `yaml:"channel,omitempty"` // redis pub/sub channel
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig configures capture and result archival.
type ArchiveConfig struct {
	// Backend is fs or s3. Empty disables archival.
	Backend string `yaml:"backend"`
	// Path is a directory for fs, bucket/prefix for s3.
	Path        string `yaml:"path"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
	// Ledger records a summary of every session for history queries.
	Ledger bool `yaml:"ledger,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// Validate checks enumerated fields. Numeric ranges are left to the
// components that consume them.
func (c *Config) Validate() error {
	var problems []string
	if t := c.Bus.Type; t != "" && t != "nats" && t != "redis" && t != "memory" {
		problems = append(problems, fmt.Sprintf("bus.type %q must be nats, redis or memory", t))
	}
	if e := c.Transfer.Encoding; e != "" && e != "hex" && e != "base64" {
		problems = append(problems, fmt.Sprintf("transfer.encoding %q must be hex or base64", e))
	}
	if k := c.Transfer.Codec; k != "" && k != "json" && k != "msgpack" {
		problems = append(problems, fmt.Sprintf("transfer.codec %q must be json or msgpack", k))
	}
	if a := c.Adapter.Type; a != "" && a != "webhook" && a != "redis" {
		problems = append(problems, fmt.Sprintf("adapter.type %q must be webhook or redis", a))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		problems = append(problems, "adapter.url is required when adapter.type is set")
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		problems = append(problems, "adapter.retries must be >= 0")
	}
	if b := c.Archive.Backend; b != "" && b != "fs" && b != "s3" {
		problems = append(problems, fmt.Sprintf("archive.backend %q must be fs or s3", b))
	}
	if c.Archive.Backend != "" && c.Archive.Path == "" {
		problems = append(problems, "archive.path is required when archive.backend is set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
