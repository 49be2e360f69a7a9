// Package topologystore caches the latest topology tree reported by each
// processing plant and a flattened component-ID index over all of them.
package topologystore

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/util/logger"
)

var log = logger.NewLogger("TopologyStore")

// EventType represents the type of topology change event
type EventType string

const (
	EventPlantAdded    EventType = "plant_added"
	EventPlantReplaced EventType = "plant_replaced"
	EventPlantRemoved  EventType = "plant_removed"
)

// Event represents a change of one processing plant subtree
type Event struct {
	Type    EventType
	PlantID string
	Plant   *model.ComponentSummary
}

// Observer is an interface for receiving topology change events
type Observer interface {
	OnTopologyEvent(event Event)
}

// Store holds processing plant subtrees keyed by plant component ID.
// All mutations are serialized through mu; the flattened node index is a
// sync.Map so lookups never contend with writers.
type Store struct {
	mu        sync.Mutex
	plants    map[string]model.ComponentSummary
	updatedAt map[string]time.Time
	sources   map[string]map[string]struct{} // reporting source -> plant IDs
	observers map[Observer]struct{}

	refreshMu sync.Mutex // serializes RefreshNodeMap rebuilds
	nodes     sync.Map   // component ID -> model.ComponentSummary
	version   atomic.Uint64
}

// New creates an empty Store
func New() *Store {
	return &Store{
		plants:    make(map[string]model.ComponentSummary),
		updatedAt: make(map[string]time.Time),
		sources:   make(map[string]map[string]struct{}),
		observers: make(map[Observer]struct{}),
	}
}

// AddObserver registers an observer to receive topology change events
func (s *Store) AddObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[observer] = struct{}{}
}

// RemoveObserver unregisters an observer
func (s *Store) RemoveObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, observer)
}

// notifyObservers sends events to all registered observers.
// Must be called without holding the lock.
func (s *Store) notifyObservers(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for obs := range s.observers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	for _, ev := range events {
		log.Debugf("Topology event: %s (plant=%s)", ev.Type, ev.PlantID)
		for _, obs := range observers {
			obs.OnTopologyEvent(ev)
		}
	}
}

// AddProcessingPlant replaces the plant's previous subtree with summary and
// timestamps the update. The node index is not touched until RefreshNodeMap.
func (s *Store) AddProcessingPlant(summary model.ComponentSummary) {
	s.mu.Lock()
	event := s.putPlantLocked(summary)
	s.mu.Unlock()
	s.version.Add(1)
	s.notifyObservers(event)
}

// putPlantLocked must be called with s.mu held.
func (s *Store) putPlantLocked(summary model.ComponentSummary) Event {
	plant := summary.Clone()
	_, exists := s.plants[plant.ComponentID]
	s.plants[plant.ComponentID] = plant
	s.updatedAt[plant.ComponentID] = time.Now()

	eventType := EventPlantAdded
	if exists {
		eventType = EventPlantReplaced
	}
	event := plant.Clone()
	return Event{Type: eventType, PlantID: plant.ComponentID, Plant: &event}
}

// RemoveProcessingPlant deletes a plant subtree. It returns false if the plant was unknown.
func (s *Store) RemoveProcessingPlant(plantID string) bool {
	s.mu.Lock()
	_, exists := s.plants[plantID]
	if exists {
		s.removePlantLocked(plantID)
	}
	s.mu.Unlock()

	if exists {
		s.version.Add(1)
		s.notifyObservers(Event{Type: EventPlantRemoved, PlantID: plantID})
	}
	return exists
}

// removePlantLocked must be called with s.mu held.
func (s *Store) removePlantLocked(plantID string) {
	delete(s.plants, plantID)
	delete(s.updatedAt, plantID)
	for source, ids := range s.sources {
		delete(ids, plantID)
		if len(ids) == 0 {
			delete(s.sources, source)
		}
	}
}

// MergeRemoteTopologyGraph treats plants as the complete set reported by source:
// each one replaces its previous subtree, and plants that source reported
// earlier but no longer includes are removed unless another source still
// reports them. The whole swap happens under one lock acquisition, so readers
// see either the old or the new graph of source.
func (s *Store) MergeRemoteTopologyGraph(source string, plants []model.ComponentSummary) {
	current := make(map[string]struct{}, len(plants))
	for _, p := range plants {
		current[p.ComponentID] = struct{}{}
	}

	s.mu.Lock()
	var events []Event
	for id := range s.sources[source] {
		if _, ok := current[id]; ok || s.reportedElsewhereLocked(source, id) {
			continue
		}
		if _, ok := s.plants[id]; ok {
			s.removePlantLocked(id)
			events = append(events, Event{Type: EventPlantRemoved, PlantID: id})
		}
	}
	if len(current) == 0 {
		delete(s.sources, source)
	} else {
		s.sources[source] = current
	}
	for _, p := range plants {
		events = append(events, s.putPlantLocked(p))
	}
	s.mu.Unlock()

	if len(events) > 0 {
		s.version.Add(1)
	}
	s.notifyObservers(events...)
}

func (s *Store) reportedElsewhereLocked(source, plantID string) bool {
	for other, ids := range s.sources {
		if other == source {
			continue
		}
		if _, ok := ids[plantID]; ok {
			return true
		}
	}
	return false
}

// Sources returns the sources currently reporting plantID, sorted.
func (s *Store) Sources(plantID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for source, ids := range s.sources {
		if _, ok := ids[plantID]; ok {
			out = append(out, source)
		}
	}
	sort.Strings(out)
	return out
}

// RefreshNodeMap rebuilds the flat component-ID index by walking
// plant -> workshop -> WUP -> endpoint. IDs no longer present are dropped.
func (s *Store) RefreshNodeMap() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	fresh := make(map[string]model.ComponentSummary)

	s.mu.Lock()
	for _, plant := range s.plants {
		plant.Walk(func(node, _ *model.ComponentSummary) bool {
			fresh[node.ComponentID] = node.Clone()
			return true
		})
	}
	s.mu.Unlock()

	s.nodes.Range(func(key, _ any) bool {
		if _, ok := fresh[key.(string)]; !ok {
			s.nodes.Delete(key)
		}
		return true
	})
	for id, node := range fresh {
		s.nodes.Store(id, node)
	}
}

// GetNode returns a copy of the component with the given ID from the node index.
func (s *Store) GetNode(componentID string) (model.ComponentSummary, bool) {
	v, ok := s.nodes.Load(componentID)
	if !ok {
		return model.ComponentSummary{}, false
	}
	return v.(model.ComponentSummary).Clone(), true
}

// GetProcessingPlant returns a copy of one plant subtree.
func (s *Store) GetProcessingPlant(plantID string) (model.ComponentSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plants[plantID]
	if !ok {
		return model.ComponentSummary{}, false
	}
	return p.Clone(), true
}

// GetProcessingPlants returns copies of all plant subtrees ordered by component ID.
func (s *Store) GetProcessingPlants() []model.ComponentSummary {
	s.mu.Lock()
	plants := make([]model.ComponentSummary, 0, len(s.plants))
	for _, p := range s.plants {
		plants = append(plants, p.Clone())
	}
	s.mu.Unlock()

	sort.Slice(plants, func(i, j int) bool { return plants[i].ComponentID < plants[j].ComponentID })
	return plants
}

// LastUpdated returns the instant the plant subtree was last replaced.
func (s *Store) LastUpdated(plantID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.updatedAt[plantID]
	return t, ok
}

// Version increments on every mutation and lets daemons skip unchanged cycles.
func (s *Store) Version() uint64 {
	return s.version.Load()
}
