package forwarder

import (
	"context"
	"fmt"

	"github.com/xiaonanln/oambridge/content"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/store/reportqueue"
)

// EscalationSink accepts notifications for the secondary channel. Dispatch
// reports whether the notification was taken.
type EscalationSink interface {
	Dispatch(n model.Notification) bool
}

// NotificationForwarder drains the notification queue into each component's
// events room and escalates designated failures.
type NotificationForwarder struct {
	deliverer
	queue      *reportqueue.Queue[model.Notification]
	escalation EscalationSink
}

// NewNotificationForwarder creates a NotificationForwarder. escalation may be nil.
func NewNotificationForwarder(queue *reportqueue.Queue[model.Notification], escalation EscalationSink, resolver RoomResolver, poster Poster, opts Options) *NotificationForwarder {
	return &NotificationForwarder{
		deliverer:  newDeliverer(NotificationsDaemon, "NotificationForwarder", resolver, poster, opts),
		queue:      queue,
		escalation: escalation,
	}
}

// Tick drains the queue. Failed notifications are re-queued once the drain
// is complete, behind anything that arrived meanwhile.
func (f *NotificationForwarder) Tick(ctx context.Context) error {
	var failed []model.Notification
	for f.queue.HasMore() {
		if ctx.Err() != nil {
			break
		}
		n, ok := f.queue.GetNext()
		if !ok {
			break
		}
		if err := guard(func() error { return f.forward(ctx, &n) }); err != nil {
			failed = append(failed, n)
		}
	}
	f.queue.Add(failed...)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d notifications re-queued", len(failed))
	}
	return nil
}

// ForwardNotification posts a single notification and escalates it if
// required, without touching the queue.
func (f *NotificationForwarder) ForwardNotification(ctx context.Context, n *model.Notification) error {
	return guard(func() error { return f.forward(ctx, n) })
}

func (f *NotificationForwarder) forward(ctx context.Context, n *model.Notification) error {
	f.escalate(n)

	what := fmt.Sprintf("%s notification from %s", n.Type, n.ParticipantName)
	t, ok := roomFor(n.ComponentType, room.CategoryEvents)
	if !ok {
		f.skipped(what, fmt.Sprintf("no events room for component type %q", n.ComponentType))
		return nil
	}
	err := f.deliver(ctx, n.ParticipantName, t, content.NotificationMessage(*n))
	f.record(what, err)
	return err
}

// escalate hands n to the escalation sink at most once, independent of
// whether the room post succeeds.
func (f *NotificationForwarder) escalate(n *model.Notification) {
	if f.escalation == nil || n.Escalated {
		return
	}
	if f.escalation.Dispatch(*n) {
		n.Escalated = true
	}
}
