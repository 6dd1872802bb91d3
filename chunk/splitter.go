// Package chunk validates capture buffers and partitions them into
// fixed-size chunks.
package chunk

import (
	"bytes"
	"fmt"

	"github.com/AlibekovAA/NATS/types"
)

// DefaultChunkSize is the default raw chunk size (256 KiB).
const DefaultChunkSize = 256 * 1024

// DefaultMaxFileSize is the default maximum accepted buffer size (1 GiB).
const DefaultMaxFileSize = 1024 * 1024 * 1024

// MinHeaderLen is the length of a pcap global header, the shortest buffer
// that can be a well-formed capture.
const MinHeaderLen = 24

// Magic prefixes of the accepted capture formats, in both byte orders.
var magics = [][]byte{
	{0xa1, 0xb2, 0xc3, 0xd4}, // pcap, microsecond, big-endian
	{0xd4, 0xc3, 0xb2, 0xa1}, // pcap, microsecond, little-endian
	{0xa1, 0xb2, 0x3c, 0x4d}, // pcap, nanosecond, big-endian
	{0x4d, 0x3c, 0xb2, 0xa1}, // pcap, nanosecond, little-endian
	{0x0a, 0x0d, 0x0d, 0x0a}, // pcapng section header block
}

// Config controls splitter validation.
type Config struct {
	// MinHeaderLen is the minimum buffer length (default MinHeaderLen).
	MinHeaderLen int
	// MaxFileSize rejects larger buffers; 0 disables the check.
	MaxFileSize int64
	// SkipValidation disables the header length and magic checks.
	SkipValidation bool
}

// DefaultConfig returns the strictest validation policy.
func DefaultConfig() Config {
	return Config{
		MinHeaderLen: MinHeaderLen,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// Splitter partitions capture buffers. The zero value is not useful; use
// NewSplitter.
type Splitter struct {
	config Config
}

// NewSplitter creates a splitter with the given validation policy.
func NewSplitter(cfg Config) *Splitter {
	if cfg.MinHeaderLen <= 0 {
		cfg.MinHeaderLen = MinHeaderLen
	}
	return &Splitter{config: cfg}
}

// Validate checks data against the configured policy without splitting.
func (s *Splitter) Validate(data []byte) error {
	if s.config.MaxFileSize > 0 && int64(len(data)) > s.config.MaxFileSize {
		return types.NewError(types.ErrValidation, "split",
			fmt.Sprintf("file size %d exceeds limit %d", len(data), s.config.MaxFileSize), nil)
	}
	if s.config.SkipValidation {
		return nil
	}
	if len(data) < s.config.MinHeaderLen || !HasMagic(data) {
		return types.NewError(types.ErrValidation, "split", "invalid file format", nil)
	}
	return nil
}

// Split validates data and partitions it into ceil(len/chunkSize) chunks of
// exactly chunkSize bytes except the last. Payloads alias data.
// Identical input always yields an identical sequence.
func (s *Splitter) Split(data []byte, chunkSize int, enc types.Encoding) ([]types.Chunk, error) {
	if chunkSize <= 0 {
		return nil, types.NewError(types.ErrValidation, "split",
			fmt.Sprintf("chunk size must be positive, got %d", chunkSize), nil)
	}
	if !enc.Valid() {
		return nil, types.NewError(types.ErrValidation, "split",
			fmt.Sprintf("unsupported encoding %q", enc), nil)
	}
	if err := s.Validate(data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []types.Chunk{}, nil
	}

	total := Count(len(data), chunkSize)
	chunks := make([]types.Chunk, 0, total)
	for i := range total {
		start := i * chunkSize
		end := min(start+chunkSize, len(data))
		chunks = append(chunks, types.Chunk{
			Index:       i,
			Payload:     data[start:end:end],
			TotalChunks: total,
			Encoding:    enc,
		})
	}
	return chunks, nil
}

// Count returns ceil(length/chunkSize).
func Count(length, chunkSize int) int {
	if length <= 0 || chunkSize <= 0 {
		return 0
	}
	return (length + chunkSize - 1) / chunkSize
}

// HasMagic reports whether data starts with a recognised capture signature.
func HasMagic(data []byte) bool {
	for _, m := range magics {
		if bytes.HasPrefix(data, m) {
			return true
		}
	}
	return false
}

// Join concatenates chunk payloads in index order. It fails if indices are
// not a contiguous 0..n-1 permutation.
func Join(chunks []types.Chunk) ([]byte, error) {
	ordered := make([][]byte, len(chunks))
	size := 0
	for _, c := range chunks {
		if c.Index < 0 || c.Index >= len(chunks) {
			return nil, fmt.Errorf("chunk index %d out of range [0,%d)", c.Index, len(chunks))
		}
		if ordered[c.Index] != nil {
			return nil, fmt.Errorf("duplicate chunk index %d", c.Index)
		}
		ordered[c.Index] = c.Payload
		size += len(c.Payload)
	}
	out := make([]byte, 0, size)
	for _, p := range ordered {
		out = append(out, p...)
	}
	return out, nil
}
