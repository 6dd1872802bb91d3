// Package archive persists captures and analysis results per session.
//
// Objects are written under <prefix>/<session-id>/:
//
//	capture.pcap   raw capture bytes
//	result.json    analysis result, or the failure when the session failed
//
// Objects live in a Lode store: a local directory (NewFSBackend) or S3 and
// S3-compatible providers (NewS3Backend). Objects are write-once. Session
// summaries can additionally be appended to a Ledger on the same backend
// for history queries.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/AlibekovAA/NATS/types"
)

// Object names within a session directory.
const (
	CaptureObject = "capture.pcap"
	ResultObject  = "result.json"
)

// ResultDocument is the content of result.json.
type ResultDocument struct {
	SessionID   string                `json:"session_id"`
	Outcome     string                `json:"outcome"`
	ErrorKind   string                `json:"error_kind,omitempty"`
	Error       string                `json:"error,omitempty"`
	TotalChunks int                   `json:"total_chunks"`
	Bytes       int                   `json:"bytes"`
	Result      *types.AnalysisResult `json:"result,omitempty"`
}

// Saved reports where a session was archived.
type Saved struct {
	Capture string `json:"capture"`
	Result  string `json:"result"`
}

// Archive writes session objects to a Lode store under a key prefix.
type Archive struct {
	backend *Backend
	prefix  string

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// New creates an Archive. prefix may be empty.
func New(backend *Backend, prefix string) *Archive {
	return &Archive{backend: backend, prefix: strings.Trim(prefix, "/")}
}

// getOrCreateStore lazily creates the store from the backend factory.
func (a *Archive) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.backend.Factory()()
		if a.storeErr != nil {
			a.storeErr = wrap("init", a.backend.Location(a.prefix), a.storeErr)
		}
	})
	return a.store, a.storeErr
}

// Key returns the object key of name within the session directory.
func (a *Archive) Key(sessionID, name string) string {
	return path.Join(a.prefix, sessionID, name)
}

// Save writes the capture and the result document of one session.
func (a *Archive) Save(ctx context.Context, capture []byte, doc *ResultDocument) (*Saved, error) {
	if doc == nil || doc.SessionID == "" {
		return nil, types.NewError(types.ErrValidation, "archive", "session id is required", nil)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: marshal result: %w", err)
	}

	store, err := a.getOrCreateStore()
	if err != nil {
		return nil, err
	}

	captureKey := a.Key(doc.SessionID, CaptureObject)
	if err := store.Put(ctx, captureKey, bytes.NewReader(capture)); err != nil {
		return nil, wrap("put", a.backend.Location(captureKey), err)
	}
	resultKey := a.Key(doc.SessionID, ResultObject)
	if err := store.Put(ctx, resultKey, bytes.NewReader(body)); err != nil {
		return nil, wrap("put", a.backend.Location(resultKey), err)
	}

	return &Saved{
		Capture: a.backend.Location(captureKey),
		Result:  a.backend.Location(resultKey),
	}, nil
}

// LoadResult reads the result document of a session.
func (a *Archive) LoadResult(ctx context.Context, sessionID string) (*ResultDocument, error) {
	store, err := a.getOrCreateStore()
	if err != nil {
		return nil, err
	}

	key := a.Key(sessionID, ResultObject)
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, wrap("get", a.backend.Location(key), err)
	}
	defer func() { _ = rc.Close() }()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrap("get", a.backend.Location(key), err)
	}
	var doc ResultDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &types.DecodeError{Cause: types.DecodeCauseStructure, Err: err}
	}
	return &doc, nil
}
