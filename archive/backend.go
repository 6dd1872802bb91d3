package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// Backend is the Lode store factory shared by an Archive and its Ledger,
// plus the URI base used to render object locations.
type Backend struct {
	factory lode.StoreFactory
	base    string
}

// NewBackend wraps a store factory. base prefixes rendered locations,
// e.g. "file:///var/pcapbus" or "s3://bucket/prefix".
func NewBackend(factory lode.StoreFactory, base string) *Backend {
	return &Backend{factory: factory, base: strings.TrimSuffix(base, "/")}
}

// NewFSBackend creates a backend rooted at dir. The directory is created
// if missing.
func NewFSBackend(dir string) (*Backend, error) {
	if dir == "" {
		return nil, errors.New("archive: fs backend requires a path")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, wrap("init", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, wrap("init", abs, err)
	}
	return NewBackend(lode.NewFSFactory(abs), "file://"+filepath.ToSlash(abs)), nil
}

// NewMemoryBackend creates a backend over a single in-memory store.
func NewMemoryBackend() *Backend {
	store := lode.NewMemory()
	return NewBackend(func() (lode.Store, error) { return store, nil }, "mem://")
}

// Factory returns the store factory.
func (b *Backend) Factory() lode.StoreFactory {
	return b.factory
}

// Location renders key as a user-facing URI.
func (b *Backend) Location(key string) string {
	return b.base + "/" + strings.TrimPrefix(key, "/")
}
