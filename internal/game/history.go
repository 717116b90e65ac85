package game

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultHistorySize = 50

// History keeps a ring of recent round records for the fairness audit trail
// and forwards each record to the durable store and audit stream. The ring
// serves spectator queries without touching the database.
type History struct {
	store HistoryStore
	audit AuditSink
	log   *zap.Logger

	mu   sync.RWMutex
	ring []RoundRecord
	max  int
}

func NewHistory(store HistoryStore, audit AuditSink, size int, log *zap.Logger) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{
		store: store,
		audit: audit,
		log:   log,
		ring:  make([]RoundRecord, 0, size),
		max:   size,
	}
}

// Append archives a finished round. The in-memory ring always accepts the
// record; durable and audit writes are best-effort and logged on failure,
// the revealed seeds are still broadcast to every spectator either way.
func (h *History) Append(ctx context.Context, rec RoundRecord) {
	h.mu.Lock()
	h.ring = append(h.ring, rec)
	if len(h.ring) > h.max {
		h.ring = h.ring[1:]
	}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.AppendRound(ctx, rec); err != nil {
			h.log.Error("round history write failed",
				zap.String("round_id", rec.RoundID), zap.Error(err))
		}
	}
	if h.audit != nil {
		if err := h.audit.RoundClosed(ctx, rec); err != nil {
			h.log.Warn("round audit publish failed",
				zap.String("round_id", rec.RoundID), zap.Error(err))
		}
	}
}

// Recent returns up to limit records, newest first.
func (h *History) Recent(limit int) []RoundRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.ring) {
		limit = len(h.ring)
	}
	out := make([]RoundRecord, 0, limit)
	for i := len(h.ring) - 1; i >= len(h.ring)-limit; i-- {
		out = append(out, h.ring[i])
	}
	return out
}

// VerifyRecord checks a revealed record end to end: the server seed must
// match the published commitment and the crash point must recompute from the
// seed pair.
func VerifyRecord(rec RoundRecord, maxCrash float64) bool {
	if !VerifyCommitment(rec.ServerSeed, rec.SeedCommitment) {
		return false
	}
	return VerifyOutcome(rec.ServerSeed, rec.ClientSeed, rec.CrashPoint, maxCrash)
}
