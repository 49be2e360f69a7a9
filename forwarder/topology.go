package forwarder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/oambridge/content"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/room/provisioner"
	"github.com/xiaonanln/oambridge/store/topologystore"
)

// RoomProvisioner creates the room hierarchy for a processing plant.
type RoomProvisioner interface {
	EnsureComponentRooms(ctx context.Context, plant model.ComponentSummary) error
}

// TopologyForwarder provisions rooms for new or changed processing plants
// and posts their topology to the subsystem events room. It learns about
// changes by observing the topology store.
type TopologyForwarder struct {
	deliverer
	store       *topologystore.Store
	provisioner RoomProvisioner

	mu          sync.Mutex
	pending     map[string]struct{}
	provisioned map[string]time.Time // plant ID -> LastUpdated value provisioned
	posted      map[string]time.Time // plant ID -> LastUpdated value posted
}

// NewTopologyForwarder creates a TopologyForwarder and registers it as an
// observer of store. Plants already in the store are pending.
func NewTopologyForwarder(store *topologystore.Store, prov RoomProvisioner, resolver RoomResolver, poster Poster, opts Options) *TopologyForwarder {
	f := &TopologyForwarder{
		deliverer:   newDeliverer(TopologyDaemon, "TopologyForwarder", resolver, poster, opts),
		store:       store,
		provisioner: prov,
		pending:     make(map[string]struct{}),
		provisioned: make(map[string]time.Time),
		posted:      make(map[string]time.Time),
	}
	for _, plant := range store.GetProcessingPlants() {
		f.pending[plant.ComponentID] = struct{}{}
	}
	store.AddObserver(f)
	return f
}

// OnTopologyEvent implements topologystore.Observer.
func (f *TopologyForwarder) OnTopologyEvent(event topologystore.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch event.Type {
	case topologystore.EventPlantRemoved:
		delete(f.pending, event.PlantID)
		delete(f.provisioned, event.PlantID)
		delete(f.posted, event.PlantID)
	default:
		f.pending[event.PlantID] = struct{}{}
	}
}

// Pending returns the IDs of plants awaiting forwarding.
func (f *TopologyForwarder) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pending))
	for id := range f.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *TopologyForwarder) takePending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pending))
	for id := range f.pending {
		out = append(out, id)
	}
	f.pending = make(map[string]struct{})
	sort.Strings(out)
	return out
}

func (f *TopologyForwarder) requeue(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[id] = struct{}{}
}

// Tick refreshes the node index, then provisions and posts each pending plant.
func (f *TopologyForwarder) Tick(ctx context.Context) error {
	f.store.RefreshNodeMap()

	ids := f.takePending()
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			f.requeue(id)
			continue
		}
		if err := guard(func() error { return f.forward(ctx, id) }); err != nil {
			f.requeue(id)
			failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plants failed", failed, len(ids))
	}
	return nil
}

func (f *TopologyForwarder) forward(ctx context.Context, plantID string) error {
	plant, ok := f.store.GetProcessingPlant(plantID)
	if !ok {
		return nil
	}
	updatedAt, _ := f.store.LastUpdated(plantID)
	what := "topology of " + plantID

	var provisionErr error
	if f.provisioner != nil && !f.done(f.provisioned, plantID, updatedAt) {
		provisionErr = f.provisioner.EnsureComponentRooms(ctx, plant)
		switch {
		case provisionErr == nil:
			f.mark(f.provisioned, plantID, updatedAt)
		case provisioner.IsNotLeaderOnly(provisionErr):
			// Stays pending until the rooms exist or this replica leads.
			f.logger.Debugf("Not provisioning %s: another replica holds provisioning leadership", plantID)
			f.requeue(plantID)
			provisionErr = nil
		default:
			f.logger.Warnf("Provisioning rooms for %s incomplete: %v", plantID, provisionErr)
		}
	}

	if f.done(f.posted, plantID, updatedAt) {
		f.skipped(what, "already posted")
		return provisionErr
	}
	err := f.deliver(ctx, plant.ParticipantName, room.SubsystemEvents, content.TopologyMessage(plant))
	f.record(what, err)
	if err != nil {
		return errors.Join(provisionErr, err)
	}
	f.mark(f.posted, plantID, updatedAt)
	return provisionErr
}

// done reports whether version updatedAt of the plant was already handled.
func (f *TopologyForwarder) done(m map[string]time.Time, plantID string, updatedAt time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := m[plantID]
	return ok && !updatedAt.After(last)
}

func (f *TopologyForwarder) mark(m map[string]time.Time, plantID string, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m[plantID] = updatedAt
}
