package docstore

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/metrics"
)

// ReconEntry records one document whose lexical and vector state diverged.
type ReconEntry struct {
	ID     string
	Reason string
	Err    string
	At     time.Time
}

// ReconciliationLog is a bounded ring of divergence records. A background
// repair job can drain it; until then it is observable via Entries and the
// reconciliation gauge.
type ReconciliationLog struct {
	mu      sync.Mutex
	cap     int
	entries []ReconEntry
	logger  *zap.Logger
}

func NewReconciliationLog(capacity int, logger *zap.Logger) *ReconciliationLog {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationLog{cap: capacity, logger: logger}
}

// Record appends an entry, evicting the oldest when full.
func (r *ReconciliationLog) Record(id, reason string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	r.entries = append(r.entries, ReconEntry{ID: id, Reason: reason, Err: errText, At: time.Now()})
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
	metrics.ReconciliationEntries.Set(float64(len(r.entries)))
	r.logger.Warn("document needs reconciliation",
		zap.String("id", id), zap.String("reason", reason), zap.String("error", errText))
}

// Entries returns a snapshot of the pending records.
func (r *ReconciliationLog) Entries() []ReconEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReconEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Drop removes all records for id, returning how many were removed.
func (r *ReconciliationLog) Drop(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.ID == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	metrics.ReconciliationEntries.Set(float64(len(r.entries)))
	return removed
}
