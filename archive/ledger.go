package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/AlibekovAA/NATS/adapter"
)

// LedgerDataset is the dataset id of the session ledger.
const LedgerDataset = "pcapbus_sessions"

// RecordKindSession discriminates session records.
const RecordKindSession = "session"

// Partition keys of the ledger's Hive layout.
var ledgerPartitions = []string{"day", "outcome"}

// Ledger appends one record per finished session to a Lode dataset laid
// out as day=YYYY-MM-DD/outcome=success|failure.
type Ledger struct {
	dataset lode.Dataset
}

// NewLedger creates a ledger over a store factory, usually the
// Backend.Factory shared with the Archive.
func NewLedger(factory lode.StoreFactory) (*Ledger, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(LedgerDataset),
		factory,
		lode.WithHiveLayout(ledgerPartitions...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", LedgerDataset, err)
	}
	return &Ledger{dataset: ds}, nil
}

// Append writes one session record.
func (l *Ledger) Append(ctx context.Context, ev *adapter.AnalysisCompletedEvent) error {
	if _, err := l.dataset.Write(ctx, []any{toRecord(ev)}, lode.Metadata{}); err != nil {
		return wrap("ledger", ev.SessionID, err)
	}
	return nil
}

// HistoryFilter narrows History. Zero fields match everything.
type HistoryFilter struct {
	// Day is YYYY-MM-DD.
	Day string
	// Outcome is success or failure.
	Outcome string
	// Limit caps the number of records; 0 means no limit.
	Limit int
}

// SessionRecord is one ledger entry.
type SessionRecord struct {
	SessionID   string `json:"session_id" yaml:"session_id"`
	Day         string `json:"day" yaml:"day"`
	Outcome     string `json:"outcome" yaml:"outcome"`
	ErrorKind   string `json:"error_kind" yaml:"error_kind"`
	TotalChunks int    `json:"total_chunks" yaml:"total_chunks"`
	Bytes       int    `json:"bytes" yaml:"bytes"`
	PacketCount int    `json:"packet_count" yaml:"packet_count"`
	DurationMs  int64  `json:"duration_ms" yaml:"duration_ms"`
	Timestamp   string `json:"timestamp" yaml:"timestamp"`
}

// History returns matching records, newest first.
func (l *Ledger) History(ctx context.Context, f HistoryFilter) ([]SessionRecord, error) {
	snapshots, err := l.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("ledger", LedgerDataset, err)
	}

	var out []SessionRecord
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "day", f.Day) || !snapshotMatches(snap, "outcome", f.Outcome) {
			continue
		}
		data, err := l.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("ledger", fmt.Sprintf("%s/%s", LedgerDataset, snap.ID), err)
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindSession {
				continue
			}
			r := fromRecord(m)
			if (f.Day != "" && r.Day != f.Day) || (f.Outcome != "" && r.Outcome != f.Outcome) {
				continue
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func toRecord(ev *adapter.AnalysisCompletedEvent) map[string]any {
	day := ""
	if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		day = ts.UTC().Format(time.DateOnly)
	}
	return map[string]any{
		"record_kind":  RecordKindSession,
		"session_id":   ev.SessionID,
		"day":          day,
		"outcome":      ev.Outcome,
		"error_kind":   ev.ErrorKind,
		"error":        ev.Error,
		"total_chunks": ev.TotalChunks,
		"bytes":        ev.Bytes,
		"packet_count": ev.PacketCount,
		"duration_ms":  ev.DurationMs,
		"timestamp":    ev.Timestamp,
	}
}

func fromRecord(m map[string]any) SessionRecord {
	return SessionRecord{
		SessionID:   str(m["session_id"]),
		Day:         str(m["day"]),
		Outcome:     str(m["outcome"]),
		ErrorKind:   str(m["error_kind"]),
		TotalChunks: int(num(m["total_chunks"])),
		Bytes:       int(num(m["bytes"])),
		PacketCount: int(num(m["packet_count"])),
		DurationMs:  num(m["duration_ms"]),
		Timestamp:   str(m["timestamp"]),
	}
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. An empty value matches every snapshot.
func snapshotMatches(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num reads a JSONL number, which decodes as float64, or an int written
// through a memory store.
func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
