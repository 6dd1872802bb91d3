package app

import (
	"context"
	"time"

	"github.com/AlibekovAA/NATS/adapter"
	"github.com/AlibekovAA/NATS/archive"
	"github.com/AlibekovAA/NATS/transfer"
	"github.com/AlibekovAA/NATS/types"
)

// followupTimeout bounds archive writes, adapter publishes and ledger
// appends after a session. They run on a fresh context so a canceled
// session is still recorded.
const followupTimeout = 30 * time.Second

// AnalyzeOptions tunes one Analyze call.
type AnalyzeOptions struct {
	// Encoding overrides the configured encoding.
	Encoding types.Encoding
	// Observer receives session progress (optional).
	Observer transfer.Observer
	// Archive saves the capture and result when an archive is configured.
	Archive bool
	// Override adjusts the transfer parameters for this call.
	Override func(*transfer.Config)
}

// Outcome is everything produced by one Analyze call. Session is nil only
// when the bus could not be reached.
type Outcome struct {
	Session *transfer.Session
	Result  *types.AnalysisResult
	Event   *adapter.AnalysisCompletedEvent
	Saved   *archive.Saved
}

// Analyze connects, runs one session over raw and records it: the capture
// and result are archived when requested, the completion event is published
// through the adapter and appended to the ledger. Follow-up failures are
// logged; the returned error is the session's.
func (a *Context) Analyze(ctx context.Context, raw []byte, opts AnalyzeOptions) (*Outcome, error) {
	if err := a.Connect(ctx); err != nil {
		return &Outcome{}, err
	}

	enc := opts.Encoding
	if enc == "" {
		enc = a.encoding
	}

	coord := a.NewCoordinator(opts.Observer, opts.Override)
	s, result, err := coord.Run(ctx, raw, enc)
	out := &Outcome{Session: s, Result: result}
	if s == nil {
		return out, err
	}
	out.Event = adapter.NewEvent(s, result, time.Now())

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followupTimeout)
	defer cancel()

	logger := a.Logger.With(map[string]any{"session_id": s.ID})
	if opts.Archive && a.Archive != nil {
		saved, aerr := a.Archive.Save(fctx, raw, resultDocument(out.Event, result))
		if aerr != nil {
			logger.Warn("archive failed", map[string]any{"error": aerr.Error()})
		} else {
			out.Saved = saved
			logger.Info("session archived", map[string]any{"capture": saved.Capture, "result": saved.Result})
		}
	}
	if a.Adapter != nil {
		if perr := a.Adapter.Publish(fctx, out.Event); perr != nil {
			logger.Warn("publish completion event failed", map[string]any{"error": perr.Error()})
		}
	}
	if a.Ledger != nil {
		if lerr := a.Ledger.Append(fctx, out.Event); lerr != nil {
			logger.Warn("ledger append failed", map[string]any{"error": lerr.Error()})
		}
	}
	return out, err
}

func resultDocument(ev *adapter.AnalysisCompletedEvent, result *types.AnalysisResult) *archive.ResultDocument {
	return &archive.ResultDocument{
		SessionID:   ev.SessionID,
		Outcome:     ev.Outcome,
		ErrorKind:   ev.ErrorKind,
		Error:       ev.Error,
		TotalChunks: ev.TotalChunks,
		Bytes:       ev.Bytes,
		Result:      result,
	}
}

// History lists ledger records. It fails when the ledger is not enabled.
func (a *Context) History(ctx context.Context, f archive.HistoryFilter) ([]archive.SessionRecord, error) {
	if a.Ledger == nil {
		return nil, types.NewError(types.ErrValidation, "history", "ledger is not enabled (set archive.backend and archive.ledger)", nil)
	}
	return a.Ledger.History(ctx, f)
}
