// Package subscriptionstore keeps the latest subscription summary per
// participant together with a store-level dirty flag.
package subscriptionstore

import (
	"sort"
	"sync"

	"github.com/xiaonanln/oambridge/model"
)

// Store holds subscription summaries keyed by participant name. A summary is
// pending until TakeDirty hands it to a forwarder.
type Store struct {
	mu        sync.Mutex
	summaries map[string]model.SubscriptionSummary
	pending   map[string]struct{}
	dirty     bool
}

// New creates an empty Store
func New() *Store {
	return &Store{
		summaries: make(map[string]model.SubscriptionSummary),
		pending:   make(map[string]struct{}),
	}
}

// Put replaces the participant's summary and marks the store dirty.
func (s *Store) Put(summary model.SubscriptionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.ParticipantName] = summary.Clone()
	s.pending[summary.ParticipantName] = struct{}{}
	s.dirty = true
}

// IsDirty reports whether there are summaries awaiting forwarding.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// TakeDirty returns the pending summaries ordered by participant and clears
// the dirty flag. It returns nil when the store is clean.
func (s *Store) TakeDirty() []model.SubscriptionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	out := make([]model.SubscriptionSummary, 0, len(s.pending))
	for name := range s.pending {
		if summary, ok := s.summaries[name]; ok {
			out = append(out, summary.Clone())
		}
	}
	s.pending = make(map[string]struct{})
	s.dirty = false
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantName < out[j].ParticipantName })
	return out
}

// MarkDirty puts a participant back into the pending set, typically after a
// failed delivery. Unknown participants are ignored.
func (s *Store) MarkDirty(participant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.summaries[participant]; !ok {
		return
	}
	s.pending[participant] = struct{}{}
	s.dirty = true
}

// Get returns a copy of the participant's summary.
func (s *Store) Get(participant string) (model.SubscriptionSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[participant]
	if !ok {
		return model.SubscriptionSummary{}, false
	}
	return summary.Clone(), true
}

// All returns copies of every summary ordered by participant.
func (s *Store) All() []model.SubscriptionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SubscriptionSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantName < out[j].ParticipantName })
	return out
}
