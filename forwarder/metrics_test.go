package forwarder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/store/metricsstore"
)

func wupMetrics(count int) *model.MetricSet {
	return &model.MetricSet{
		SourceComponentID: "wup-1",
		ParticipantName:   "Plant.A.WS1.wup-1",
		ComponentType:     model.ComponentWUP,
		ReportingInstant:  time.Now(),
		Metrics:           map[string]any{"registration-count": count},
	}
}

func TestMetricsForwarderDeduplicates(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	roomID := h.roomID(t, "Plant.A.WS1.wup-1", room.WUPMetrics)

	store := metricsstore.New()
	f := NewMetricsForwarder(store, h.resolver, h.backend, h.opts)
	ctx := context.Background()

	store.AddComponentMetricSet("wup-1", wupMetrics(5))
	require.NoError(t, f.Tick(ctx))
	require.Len(t, h.backend.MessagesIn(roomID), 1)
	assert.Contains(t, h.backend.MessagesIn(roomID)[0].Body.Plain, "registration-count | 5")
	assert.Equal(t, sender, h.backend.MessagesIn(roomID)[0].SenderID)

	// Same content, new instant: no second message.
	store.AddComponentMetricSet("wup-1", wupMetrics(5))
	require.NoError(t, f.Tick(ctx))
	assert.Len(t, h.backend.MessagesIn(roomID), 1)

	// Changed content: exactly one more message, even across extra ticks.
	store.AddComponentMetricSet("wup-1", wupMetrics(6))
	require.NoError(t, f.Tick(ctx))
	require.NoError(t, f.Tick(ctx))
	assert.Len(t, h.backend.MessagesIn(roomID), 2)
}

func TestMetricsForwarderRetriesFailedPost(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	roomID := h.roomID(t, "Plant.A.WS1.wup-1", room.WUPMetrics)

	store := metricsstore.New()
	f := NewMetricsForwarder(store, h.resolver, h.backend, h.opts)
	ctx := context.Background()

	h.backend.FailPostsTo(roomID, true)
	store.AddComponentMetricSet("wup-1", wupMetrics(5))
	for i := 0; i < 3; i++ {
		assert.Error(t, f.Tick(ctx))
	}
	assert.Nil(t, store.GetDisplayedMetricSet("wup-1"), "failed display must be rolled back")
	assert.Empty(t, h.backend.MessagesIn(roomID))

	h.backend.FailPostsTo(roomID, false)
	require.NoError(t, f.Tick(ctx))
	require.NoError(t, f.Tick(ctx))
	assert.Len(t, h.backend.MessagesIn(roomID), 1)
}

func TestMetricsForwarderUnresolvedRoom(t *testing.T) {
	h := newHarness(t)
	store := metricsstore.New()
	f := NewMetricsForwarder(store, h.resolver, h.backend, h.opts)

	store.AddComponentMetricSet("wup-1", wupMetrics(1))
	assert.Error(t, f.Tick(context.Background()))
	assert.Len(t, store.GetUpdatedMetricSets(), 1, "unresolved set must stay flagged")
}

func TestMetricsForwarderSkipsUnknownType(t *testing.T) {
	h := newHarness(t)
	store := metricsstore.New()
	f := NewMetricsForwarder(store, h.resolver, h.backend, h.opts)

	store.AddComponentMetricSet("x", &model.MetricSet{ParticipantName: "x", ComponentType: "mystery", Metrics: map[string]any{"a": 1}})
	require.NoError(t, f.Tick(context.Background()))
	assert.Empty(t, store.GetUpdatedMetricSets())
}

func TestMetricsForwarderPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	store := metricsstore.New()
	f := NewMetricsForwarder(store, h.resolver, panickingPoster{}, h.opts)

	store.AddComponentMetricSet("wup-1", wupMetrics(1))
	assert.Error(t, f.Tick(context.Background()))
	assert.Len(t, store.GetUpdatedMetricSets(), 1)
	assert.Nil(t, store.GetDisplayedMetricSet("wup-1"))
}
