// Package store persists completed run records so callers can list and
// inspect past research runs.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("store: run not found")

// RunRecord captures the durable outcome of one research run.
type RunRecord struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Messages     []model.Message `json:"messages"`
	Observations []string        `json:"observations"`
	FinalReport  string          `json:"final_report,omitempty"`
	Started      time.Time       `json:"started"`
	Completed    time.Time       `json:"completed"`
}

func (r RunRecord) clone() RunRecord {
	cp := r
	if r.Messages != nil {
		cp.Messages = make([]model.Message, len(r.Messages))
		copy(cp.Messages, r.Messages)
	}
	if r.Observations != nil {
		cp.Observations = make([]string, len(r.Observations))
		copy(cp.Observations, r.Observations)
	}
	return cp
}

// Store is the run history persistence boundary.
type Store interface {
	Save(rec RunRecord) error
	Get(id string) (RunRecord, error)
	List() ([]RunRecord, error)
}

// InMemoryStore is a volatile Store implementation keeping run records in a
// process local map. It is safe for concurrent access and best suited for
// tests or single process deployments. Records are cloned on the way in and
// out to prevent external mutation of internal state.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

// NewInMemoryStore constructs an empty in‑memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]RunRecord)}
}

// Save stores a clone of the record, overwriting any record with the same id.
func (s *InMemoryStore) Save(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = rec.clone()
	return nil
}

// Get returns a clone of the record with the given id.
func (s *InMemoryStore) Get(id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns all records ordered by start time, oldest first.
func (s *InMemoryStore) List() ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out, nil
}
