package forwarder

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/escalation"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/store/reportqueue"
)

func note(participant string, ct model.ComponentType, typ model.NotificationType, text string) model.Notification {
	return model.Notification{ParticipantName: participant, ComponentType: ct, Type: typ, Content: text}
}

// policySink applies the default escalation policy before recording.
type policySink struct {
	recordingSink
	policy escalation.Policy
}

func (s *policySink) Dispatch(n model.Notification) bool {
	if !s.policy.ShouldEscalate(n) {
		return false
	}
	return s.recordingSink.Dispatch(n)
}

// arrivingPoster enqueues a new item once, then delegates.
type arrivingPoster struct {
	Poster
	arrive func()
}

func (p arrivingPoster) PostMessage(ctx context.Context, roomID, senderID string, body chat.MessageBody) error {
	if p.arrive != nil {
		p.arrive()
	}
	return p.Poster.PostMessage(ctx, roomID, senderID, body)
}

func TestNotificationForwarderPostsToEventsRoom(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	queue := reportqueue.New[model.Notification]("")
	f := NewNotificationForwarder(queue, nil, h.resolver, h.backend, h.opts)

	queue.Add(
		note("Plant.A.WS1.wup-1", model.ComponentWUP, model.NotificationSuccess, "started"),
		note("Plant.A.WS1", model.ComponentWorkshop, model.NotificationSuccess, "ok"),
		note("Plant.A", model.ComponentProcessingPlant, model.NotificationSuccess, "up"),
	)
	require.NoError(t, f.Tick(context.Background()))
	assert.Equal(t, 0, queue.Len())
	assert.Len(t, h.backend.MessagesIn(h.roomID(t, "Plant.A.WS1.wup-1", room.WUPEvents)), 1)
	assert.Len(t, h.backend.MessagesIn(h.roomID(t, "Plant.A.WS1", room.WorkshopEvents)), 1)
	assert.Len(t, h.backend.MessagesIn(h.roomID(t, "Plant.A", room.SubsystemEvents)), 1)
}

// Notifications that never send stay queued and rotate behind new arrivals.
func TestNotificationForwarderNoLossAcrossFailedCycles(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	h.backend.FailPosts(true)
	queue := reportqueue.New[model.Notification]("")
	f := NewNotificationForwarder(queue, nil, h.resolver, h.backend, h.opts)
	ctx := context.Background()

	queue.Add(
		note("Plant.A.WS1.wup-1", model.ComponentWUP, model.NotificationSuccess, "a"),
		note("Plant.A.WS1.wup-1", model.ComponentWUP, model.NotificationSuccess, "b"),
	)
	for i := 0; i < 5; i++ {
		assert.Error(t, f.Tick(ctx))
		assert.Equal(t, 2, queue.Len())
	}

	// An arrival during the drain is attempted in the same tick and failures
	// are only re-queued once the drain ends.
	var once sync.Once
	f.poster = arrivingPoster{Poster: h.backend, arrive: func() {
		once.Do(func() {
			queue.Add(note("Plant.A.WS1.wup-1", model.ComponentWUP, model.NotificationSuccess, "c"))
		})
	}}
	assert.Error(t, f.Tick(ctx))
	f.poster = h.backend
	var order []string
	for _, n := range queue.Snapshot() {
		order = append(order, n.Content)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)

	h.backend.FailPosts(false)
	require.NoError(t, f.Tick(ctx))
	assert.Equal(t, 0, queue.Len())
	assert.Len(t, h.backend.Messages(), 3)
}

// A FAILURE from a WUP is posted and escalated whatever the post outcome,
// and retries do not escalate again.
func TestNotificationForwarderEscalatesWUPFailure(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	eventsRoom := h.roomID(t, "Plant.A.WS1.wup-1", room.WUPEvents)
	sink := &policySink{policy: escalation.DefaultPolicy()}
	queue := reportqueue.New[model.Notification]("")
	f := NewNotificationForwarder(queue, sink, h.resolver, h.backend, h.opts)
	ctx := context.Background()

	h.backend.FailPostsTo(eventsRoom, true)
	queue.Add(note("Plant.A.WS1.wup-1", model.ComponentWUP, model.NotificationFailure, "parse failed"))
	assert.Error(t, f.Tick(ctx))
	assert.Equal(t, 1, sink.count(), "escalation must not depend on the room post")
	assert.Equal(t, 1, queue.Len())

	assert.Error(t, f.Tick(ctx))
	assert.Equal(t, 1, sink.count(), "retries must not escalate again")

	h.backend.FailPostsTo(eventsRoom, false)
	require.NoError(t, f.Tick(ctx))
	assert.Len(t, h.backend.MessagesIn(eventsRoom), 1)
	assert.Contains(t, h.backend.MessagesIn(eventsRoom)[0].Body.Plain, "[FAILURE]")
	assert.Equal(t, 1, sink.count())
}

func TestNotificationForwarderEscalatesOnSuccessfulPost(t *testing.T) {
	h := newHarness(t)
	h.provision(t, samplePlant("wup-1"))
	sink := &policySink{policy: escalation.DefaultPolicy()}
	queue := reportqueue.New[model.Notification]("")
	f := NewNotificationForwarder(queue, sink, h.resolver, h.backend, h.opts)

	n := note("Plant.A.WS1.wup-1", model.ComponentWUP, model.NotificationFailure, "x")
	require.NoError(t, f.ForwardNotification(context.Background(), &n))
	assert.True(t, n.Escalated)
	assert.Equal(t, 1, sink.count())

	ws := note("Plant.A.WS1", model.ComponentWorkshop, model.NotificationFailure, "x")
	require.NoError(t, f.ForwardNotification(context.Background(), &ws))
	assert.False(t, ws.Escalated)
	assert.Equal(t, 1, sink.count())
}

func TestNotificationForwarderUnresolvedIsRequeued(t *testing.T) {
	h := newHarness(t)
	queue := reportqueue.New[model.Notification]("")
	f := NewNotificationForwarder(queue, nil, h.resolver, h.backend, h.opts)

	queue.Add(note("nobody", model.ComponentEndpoint, model.NotificationSuccess, "x"))
	assert.Error(t, f.Tick(context.Background()))
	assert.Equal(t, 1, queue.Len())
}

func TestNotificationForwarderCancelledContext(t *testing.T) {
	h := newHarness(t)
	queue := reportqueue.New[model.Notification]("")
	f := NewNotificationForwarder(queue, nil, h.resolver, h.backend, h.opts)
	queue.Add(note("a", model.ComponentWUP, model.NotificationSuccess, "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Tick(ctx), context.Canceled)
	assert.Equal(t, 1, queue.Len())
}
