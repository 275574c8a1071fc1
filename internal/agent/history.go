package agent

import (
	"container/list"
	"sync"
	"time"

	"github.com/echolabs/echo-agent/internal/domain"
)

// History is a bounded, append-only conversation log. Appending beyond the cap
// evicts the oldest entry in the same call.
type History struct {
	mu      sync.RWMutex
	entries *list.List
	maxSize int
	seq     uint64
}

// NewHistory creates a history holding at most maxSize entries.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &History{entries: list.New(), maxSize: maxSize}
}

// Append stores e, stamping its sequence number and timestamp, and returns the
// stored entry.
func (h *History) Append(e domain.HistoryEntry) domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	e.Seq = h.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.entries.PushBack(e)
	for h.entries.Len() > h.maxSize {
		h.entries.Remove(h.entries.Front())
	}
	return e
}

// Len returns the number of entries held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries.Len()
}

// Cap returns the maximum number of entries.
func (h *History) Cap() int { return h.maxSize }

// Entries returns a copy of all entries, oldest first.
func (h *History) Entries() []domain.HistoryEntry {
	return h.Recent(0)
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns
// everything.
func (h *History) Recent(n int) []domain.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := h.entries.Len()
	if n <= 0 || n > total {
		n = total
	}
	out := make([]domain.HistoryEntry, 0, n)
	skip := total - n
	for e := h.entries.Front(); e != nil; e = e.Next() {
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, e.Value.(domain.HistoryEntry))
	}
	return out
}
