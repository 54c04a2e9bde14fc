package engine

import (
	"strings"
	"sync"
	"time"
)

// maxEntriesPerKey caps every per-key series. Eviction is strict FIFO;
// stale entries are filtered by timestamp at query time, never evicted by age.
const maxEntriesPerKey = 100

// BreachRecord is one confirmed breach of a threshold by a device
type BreachRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
	ThresholdID string    `json:"threshold_id"`
}

// breachSeries is a fixed-capacity ring of breach records for one key
type breachSeries struct {
	mu      sync.Mutex
	entries []BreachRecord
	head    int // index of oldest entry once full
	full    bool
}

func (s *breachSeries) append(rec BreachRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		s.entries = append(s.entries, rec)
		if len(s.entries) == maxEntriesPerKey {
			s.full = true
		}
		return
	}
	// Overwrite the oldest slot
	s.entries[s.head] = rec
	s.head = (s.head + 1) % maxEntriesPerKey
}

func (s *breachSeries) countSince(since time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.entries {
		if rec.Timestamp.After(since) {
			count++
		}
	}
	return count
}

func (s *breachSeries) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// BreachLedger is an append-only, bounded, per-key time series of breach
// events keyed by "thresholdID:deviceID". Keys are fully independent under
// concurrency; the series ring guards its own append/trim.
type BreachLedger struct {
	mu     sync.RWMutex
	series map[string]*breachSeries
}

// NewBreachLedger creates an empty ledger
func NewBreachLedger() *BreachLedger {
	return &BreachLedger{
		series: make(map[string]*breachSeries),
	}
}

// BreachKey builds the ledger key for a threshold/device pair
func BreachKey(thresholdID, deviceID string) string {
	return thresholdID + ":" + deviceID
}

// Record appends a breach to the series for key
func (l *BreachLedger) Record(key string, value float64, ts time.Time) {
	thresholdID, _, _ := strings.Cut(key, ":")

	l.mu.Lock()
	s, ok := l.series[key]
	if !ok {
		s = &breachSeries{}
		l.series[key] = s
	}
	l.mu.Unlock()

	s.append(BreachRecord{Timestamp: ts, Value: value, ThresholdID: thresholdID})
}

// CountSince sums entries newer than since across all keys matching pattern.
// Pattern is either an exact key or "thresholdID:*" for device-wide counts.
func (l *BreachLedger) CountSince(pattern string, since time.Time) int {
	prefix, wildcard := strings.CutSuffix(pattern, "*")

	l.mu.RLock()
	var matched []*breachSeries
	if wildcard {
		for key, s := range l.series {
			if strings.HasPrefix(key, prefix) {
				matched = append(matched, s)
			}
		}
	} else if s, ok := l.series[pattern]; ok {
		matched = append(matched, s)
	}
	l.mu.RUnlock()

	count := 0
	for _, s := range matched {
		count += s.countSince(since)
	}
	return count
}

// Len returns the number of entries retained for key
func (l *BreachLedger) Len(key string) int {
	l.mu.RLock()
	s, ok := l.series[key]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.len()
}

// Prune drops every series owned by the given threshold. Called when the
// owning threshold is deleted.
func (l *BreachLedger) Prune(thresholdID string) {
	prefix := thresholdID + ":"

	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.series {
		if strings.HasPrefix(key, prefix) {
			delete(l.series, key)
		}
	}
}
