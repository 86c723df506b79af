package dispatch

import (
	"sync"
	"time"

	"sortd/internal/action"
)

// OperationRecord is one audit entry, appended per executed action. IDs are
// monotonic within a session and never reused.
type OperationRecord struct {
	ID           uint64      `json:"id"`
	Kind         action.Kind `json:"kind"`
	Target       string      `json:"target"`
	FilesScanned int         `json:"files_scanned"`
	FilesMoved   int         `json:"files_moved"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Records is the session-scoped, append-only operation log plus the
// running side-effect counters.
type Records struct {
	mu      sync.Mutex
	nextID  uint64
	entries []OperationRecord

	totalScanned int
	totalMoved   int

	lastBatch action.Batch // most recent executed non-chat batch, for repeat requests
}

// NewRecords creates an empty record list starting at ID 1.
func NewRecords() *Records {
	return &Records{nextID: 1}
}

// Append adds one record, assigning its ID, and folds its counters into the
// session totals.
func (r *Records) Append(kind action.Kind, target string, scanned, moved int) OperationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := OperationRecord{
		ID:           r.nextID,
		Kind:         kind,
		Target:       target,
		FilesScanned: scanned,
		FilesMoved:   moved,
		Timestamp:    time.Now(),
	}
	r.nextID++
	r.entries = append(r.entries, rec)
	r.totalScanned += scanned
	r.totalMoved += moved
	return rec
}

// All returns a copy of the record list in append order.
func (r *Records) All() []OperationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OperationRecord, len(r.entries))
	copy(out, r.entries)
	return out
}

// Totals returns the accumulated scan and move counters.
func (r *Records) Totals() (scanned, moved int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalScanned, r.totalMoved
}

// RememberBatch stores the batch for "do that again" requests. Chat-only
// batches are not worth repeating and are ignored.
func (r *Records) RememberBatch(b action.Batch) {
	interesting := false
	for _, a := range b {
		if a.Kind != action.KindChat {
			interesting = true
			break
		}
	}
	if !interesting {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastBatch = append(action.Batch(nil), b...)
}

// LastBatch returns the remembered batch, nil if none.
func (r *Records) LastBatch() action.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastBatch == nil {
		return nil
	}
	return append(action.Batch(nil), r.lastBatch...)
}
