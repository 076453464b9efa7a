package faults

import "sync"

// History is a fixed-size ring buffer of error records. When full, the
// oldest record is evicted.
type History struct {
	mu      sync.RWMutex
	records []ErrorRecord
	start   int
	count   int
	total   int
}

// NewHistory creates a history holding at most size records.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{records: make([]ErrorRecord, size)}
}

// Add appends rec, evicting the oldest record when full.
func (h *History) Add(rec ErrorRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := len(h.records)
	end := (h.start + h.count) % size
	h.records[end] = rec.clone()
	if h.count == size {
		h.start = (h.start + 1) % size
	} else {
		h.count++
	}
	h.total++
}

// Len returns the number of records held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Records returns the held records, oldest first.
func (h *History) Records() []ErrorRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ErrorRecord, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.records[(h.start+i)%len(h.records)].clone())
	}
	return out
}

// ForUser returns up to limit of userID's records, newest first.
func (h *History) ForUser(userID string, limit int) []ErrorRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []ErrorRecord
	for i := h.count - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		rec := h.records[(h.start+i)%len(h.records)]
		if rec.Context["user_id"] == userID {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Summary aggregates the history without exposing any record.
type Summary struct {
	Total       int              `json:"total"`
	Held        int              `json:"held"`
	Recoverable int              `json:"recoverable"`
	ByCategory  map[Category]int `json:"by_category"`
	BySeverity  map[Severity]int `json:"by_severity"`
	ByCode      map[string]int   `json:"by_code"`
}

// Summary counts held records by category, severity and code. Total counts
// every record ever added, including evicted ones.
func (h *History) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Summary{
		Total:      h.total,
		Held:       h.count,
		ByCategory: map[Category]int{},
		BySeverity: map[Severity]int{},
		ByCode:     map[string]int{},
	}
	for i := 0; i < h.count; i++ {
		rec := h.records[(h.start+i)%len(h.records)]
		s.ByCategory[rec.Category]++
		s.BySeverity[rec.Severity]++
		s.ByCode[rec.Code]++
		if rec.IsRecoverable {
			s.Recoverable++
		}
	}
	return s
}
