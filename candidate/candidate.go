// Package candidate reads bridge records from the candidate store and
// filters them down to the ones eligible for allocation.
package candidate

import (
	"context"
	"sync"
)

// Unallocated is the owning-group tag of candidates available for allocation
const Unallocated = "unallocated"

// Candidate is one bridge record as read from the store. Timestamps are kept
// verbatim; Fresh parses them.
type Candidate struct {
	IdentityKey string `json:"identity_key"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Distributor string `json:"distributor"`
	FirstSeen   string `json:"first_seen"`
	LastSeen    string `json:"last_seen"`
}

// Source enumerates every known candidate.
type Source interface {
	ListCandidates(ctx context.Context) ([]Candidate, error)
}

// Static implements Source with a fixed list.
type Static struct {
	mu         sync.RWMutex
	candidates []Candidate
	err        error
}

var _ Source = (*Static)(nil)

// NewStatic creates a source that always returns a copy of candidates.
func NewStatic(candidates ...Candidate) *Static {
	return &Static{candidates: candidates}
}

// ListCandidates returns the fixed list, or the configured error.
func (s *Static) ListCandidates(_ context.Context) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}

	result := make([]Candidate, len(s.candidates))
	copy(result, s.candidates)

	return result, nil
}

// Update replaces the candidate list.
func (s *Static) Update(candidates ...Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = candidates
}

// Fail makes subsequent queries return err (nil clears it).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
