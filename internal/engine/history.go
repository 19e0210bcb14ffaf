package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one pipeline run for the session. Entries hold the
// SQL, never the result rows.
type HistoryEntry struct {
	ID       string        `json:"id"`
	Question string        `json:"question,omitempty"`
	SQL      string        `json:"sql"`
	Source   string        `json:"source"`
	Status   string        `json:"status"`
	Rows     int           `json:"rows"`
	Elapsed  time.Duration `json:"-"`
	At       time.Time     `json:"at"`
}

// ElapsedMS exists because a duration in JSON is friendlier as milliseconds.
func (h HistoryEntry) ElapsedMS() int64 {
	return h.Elapsed.Milliseconds()
}

// historyRing is a fixed-capacity ring of recent runs, newest first on read.
type historyRing struct {
	mu      sync.Mutex
	entries []HistoryEntry
	limit   int
	now     func() time.Time
}

func newHistoryRing(limit int) *historyRing {
	return &historyRing{limit: limit, now: time.Now}
}

func (r *historyRing) Add(entry HistoryEntry) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.At = r.now().UTC()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.limit {
		r.entries = r.entries[len(r.entries)-r.limit:]
	}
	return entry.ID
}

func (r *historyRing) Entries(limit int) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]HistoryEntry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.entries[i])
	}
	return out
}
