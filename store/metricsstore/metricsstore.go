// Package metricsstore keeps the latest metric set per reporting component
// along with the previous and last-displayed generations used for change
// detection.
package metricsstore

import (
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/oambridge/model"
)

// generations is replaced wholesale on every write so readers never observe
// a half-rotated entry.
type generations struct {
	current    *model.MetricSet
	previous   *model.MetricSet
	displayed  *model.MetricSet
	lastUpdate time.Time
	updated    bool // set on arrival, cleared when handed to a forwarder
}

// Store holds metric generations keyed by source component ID.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*generations
}

// New creates an empty Store
func New() *Store {
	return &Store{entries: make(map[string]*generations)}
}

// AddComponentMetricSet rotates the source's current set into the previous
// slot and installs set as current.
func (s *Store) AddComponentMetricSet(sourceID string, set *model.MetricSet) {
	if set == nil {
		return
	}
	incoming := set.Clone()
	if incoming.SourceComponentID == "" {
		incoming.SourceComponentID = sourceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.installLocked(sourceID, incoming)
}

// installLocked must be called with s.mu held.
func (s *Store) installLocked(sourceID string, incoming *model.MetricSet) {
	next := &generations{
		current:    incoming,
		lastUpdate: time.Now(),
		updated:    true,
	}
	if old, ok := s.entries[sourceID]; ok {
		next.previous = old.current
		next.displayed = old.displayed
	}
	s.entries[sourceID] = next
}

// AddComponentMetric merges a single metric value into a copy of the source's
// current set and installs the result as a new generation. participant and
// componentType only fill in fields the existing set does not carry.
func (s *Store) AddComponentMetric(sourceID, participant string, componentType model.ComponentType, name string, value any, instant time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *model.MetricSet
	if old, ok := s.entries[sourceID]; ok && old.current != nil {
		next = old.current.Clone()
	} else {
		next = &model.MetricSet{SourceComponentID: sourceID}
	}
	if next.ParticipantName == "" {
		next.ParticipantName = participant
	}
	if next.ComponentType == "" {
		next.ComponentType = componentType
	}
	if next.Metrics == nil {
		next.Metrics = make(map[string]any)
	}
	next.Metrics[name] = value
	if instant.IsZero() {
		instant = time.Now()
	}
	next.ReportingInstant = instant

	s.installLocked(sourceID, next)
}

// GetComponentMetricSet returns a copy of the current set, or nil.
func (s *Store) GetComponentMetricSet(sourceID string) *model.MetricSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.entries[sourceID]; ok {
		return g.current.Clone()
	}
	return nil
}

// GetPreviousMetricSet returns a copy of the set the current one replaced, or nil.
func (s *Store) GetPreviousMetricSet(sourceID string) *model.MetricSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.entries[sourceID]; ok {
		return g.previous.Clone()
	}
	return nil
}

// GetDisplayedMetricSet returns the set last handed out for display, or nil.
func (s *Store) GetDisplayedMetricSet(sourceID string) *model.MetricSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.entries[sourceID]; ok {
		return g.displayed.Clone()
	}
	return nil
}

// GetComponentMetricSetForDisplay clones the current set into the displayed
// slot and returns the clone. It is the baseline for later change detection.
func (s *Store) GetComponentMetricSetForDisplay(sourceID string) *model.MetricSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.entries[sourceID]
	if !ok || g.current == nil {
		return nil
	}
	shown := g.current.Clone()
	next := *g
	next.displayed = shown
	s.entries[sourceID] = &next
	return shown.Clone()
}

// RollbackDisplay restores prior as the displayed set after a failed delivery,
// provided the displayed slot still holds content equal to shown.
func (s *Store) RollbackDisplay(sourceID string, shown, prior *model.MetricSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.entries[sourceID]
	if !ok || !g.displayed.ContentEquals(shown) {
		return
	}
	next := *g
	next.displayed = prior.Clone()
	s.entries[sourceID] = &next
}

// HasChangedSinceDisplayed reports whether the current set differs in content
// from the last displayed one. A source that was never displayed has changed.
func (s *Store) HasChangedSinceDisplayed(sourceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.entries[sourceID]
	if !ok || g.current == nil {
		return false
	}
	return g.displayed == nil || !g.current.ContentEquals(g.displayed)
}

// GetUpdatedMetricSets returns copies of the current sets that arrived since
// the previous call, ordered by source ID, and clears their updated flag.
func (s *Store) GetUpdatedMetricSets() []*model.MetricSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.MetricSet
	for id, g := range s.entries {
		if !g.updated || g.current == nil {
			continue
		}
		out = append(out, g.current.Clone())
		next := *g
		next.updated = false
		s.entries[id] = &next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceComponentID < out[j].SourceComponentID })
	return out
}

// MarkUpdated flags a source so the next GetUpdatedMetricSets returns it again.
func (s *Store) MarkUpdated(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.entries[sourceID]; ok {
		next := *g
		next.updated = true
		s.entries[sourceID] = &next
	}
}

// LastUpdate returns when the source last reported.
func (s *Store) LastUpdate(sourceID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.entries[sourceID]
	if !ok {
		return time.Time{}, false
	}
	return g.lastUpdate, true
}

// RemoveComponent forgets every generation for the source.
func (s *Store) RemoveComponent(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sourceID)
}

// Len returns the number of tracked sources.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
