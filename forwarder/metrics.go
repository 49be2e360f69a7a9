package forwarder

import (
	"context"
	"fmt"

	"github.com/xiaonanln/oambridge/content"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/store/metricsstore"
)

// MetricsForwarder posts metric sets whose content differs from what was
// last displayed for that component.
type MetricsForwarder struct {
	deliverer
	store *metricsstore.Store
}

// NewMetricsForwarder creates a MetricsForwarder
func NewMetricsForwarder(store *metricsstore.Store, resolver RoomResolver, poster Poster, opts Options) *MetricsForwarder {
	return &MetricsForwarder{
		deliverer: newDeliverer(MetricsDaemon, "MetricsForwarder", resolver, poster, opts),
		store:     store,
	}
}

// Tick forwards every metric set updated since the previous Tick.
func (f *MetricsForwarder) Tick(ctx context.Context) error {
	updated := f.store.GetUpdatedMetricSets()
	failed := 0
	for _, set := range updated {
		id := set.SourceComponentID
		if ctx.Err() != nil {
			f.store.MarkUpdated(id)
			continue
		}
		err := guard(func() error { return f.forward(ctx, set) })
		if err != nil {
			failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d metric sets failed", failed, len(updated))
	}
	return nil
}

// forward posts set unless it matches the displayed set. On failure the
// displayed slot is rolled back and the source re-flagged as updated.
func (f *MetricsForwarder) forward(ctx context.Context, set *model.MetricSet) error {
	id := set.SourceComponentID
	what := "metrics of " + id

	prior := f.store.GetDisplayedMetricSet(id)
	if prior.ContentEquals(set) {
		f.skipped(what, "unchanged since last displayed")
		return nil
	}
	t, ok := roomFor(set.ComponentType, room.CategoryMetrics)
	if !ok {
		f.skipped(what, fmt.Sprintf("no metrics room for component type %q", set.ComponentType))
		return nil
	}

	shown := f.store.GetComponentMetricSetForDisplay(id)
	if shown == nil {
		f.skipped(what, "component removed")
		return nil
	}
	err := guard(func() error {
		return f.deliver(ctx, shown.ParticipantName, t, content.MetricsMessage(shown))
	})
	if err != nil {
		f.store.RollbackDisplay(id, shown, prior)
		f.store.MarkUpdated(id)
	}
	f.record(what, err)
	return err
}
