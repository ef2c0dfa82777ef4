package chat

import (
	"encoding/json"
	"sync"
	"time"
)

// CompletedResearch records one finished research operation.
type CompletedResearch struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	AreaID      string          `json:"areaId"`
	CompanyID   string          `json:"companyId"`
	Data        json.RawMessage `json:"data,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Findings    []Finding       `json:"findings,omitempty"`
}

// Ledger is the running list of finished research for the active company.
// Entries are only added; Replace and Reset swap the whole list.
type Ledger struct {
	mu      sync.RWMutex
	entries []CompletedResearch
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Add(r CompletedResearch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, r)
}

func (l *Ledger) Replace(entries []CompletedResearch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]CompletedResearch(nil), entries...)
}

func (l *Ledger) Reset() {
	l.Replace(nil)
}

func (l *Ledger) Entries() []CompletedResearch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CompletedResearch(nil), l.entries...)
}

// HasArea reports whether a research for areaID has completed.
func (l *Ledger) HasArea(areaID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.AreaID == areaID {
			return true
		}
	}
	return false
}

// Progress returns the share of areaIDs with a completed research, 0..100.
func (l *Ledger) Progress(areaIDs []string) int {
	if len(areaIDs) == 0 {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	done := make(map[string]bool, len(l.entries))
	for _, e := range l.entries {
		done[e.AreaID] = true
	}
	n := 0
	for _, id := range areaIDs {
		if done[id] {
			n++
		}
	}
	return n * 100 / len(areaIDs)
}
