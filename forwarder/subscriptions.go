package forwarder

import (
	"context"
	"fmt"

	"github.com/xiaonanln/oambridge/content"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/store/subscriptionstore"
	"github.com/xiaonanln/oambridge/store/topologystore"
)

// SubscriptionForwarder posts pending subscription summaries to the
// subscriptions room of the subsystem that owns each participant.
type SubscriptionForwarder struct {
	deliverer
	store    *subscriptionstore.Store
	topology *topologystore.Store
}

// NewSubscriptionForwarder creates a SubscriptionForwarder. topology may be
// nil, in which case each participant is treated as its own subsystem.
func NewSubscriptionForwarder(store *subscriptionstore.Store, topology *topologystore.Store, resolver RoomResolver, poster Poster, opts Options) *SubscriptionForwarder {
	return &SubscriptionForwarder{
		deliverer: newDeliverer(SubscriptionsDaemon, "SubscriptionForwarder", resolver, poster, opts),
		store:     store,
		topology:  topology,
	}
}

// Tick does nothing unless the store is dirty. Failed participants are
// marked dirty again.
func (f *SubscriptionForwarder) Tick(ctx context.Context) error {
	if !f.store.IsDirty() {
		return nil
	}
	pending := f.store.TakeDirty()
	failed := 0
	for _, summary := range pending {
		if ctx.Err() != nil {
			f.store.MarkDirty(summary.ParticipantName)
			continue
		}
		err := guard(func() error { return f.forward(ctx, summary) })
		if err != nil {
			f.store.MarkDirty(summary.ParticipantName)
			failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d subscription summaries failed", failed, len(pending))
	}
	return nil
}

func (f *SubscriptionForwarder) forward(ctx context.Context, summary model.SubscriptionSummary) error {
	subsystem := f.owningSubsystem(summary)
	err := f.deliver(ctx, subsystem, room.SubsystemSubscriptions, content.SubscriptionMessage(summary))
	f.record("subscriptions of "+summary.ParticipantName, err)
	return err
}

// owningSubsystem returns the participant name of the processing plant whose
// tree contains the summary's component or participant.
func (f *SubscriptionForwarder) owningSubsystem(summary model.SubscriptionSummary) string {
	if f.topology == nil {
		return summary.ParticipantName
	}
	for _, plant := range f.topology.GetProcessingPlants() {
		found := false
		plant.Walk(func(node, _ *model.ComponentSummary) bool {
			if found {
				return false
			}
			if (summary.ComponentID != "" && node.ComponentID == summary.ComponentID) ||
				node.ParticipantName == summary.ParticipantName {
				found = true
				return false
			}
			return true
		})
		if found {
			return plant.ParticipantName
		}
	}
	return summary.ParticipantName
}
