// Package forwarder holds the periodic daemons that move cached telemetry
// into chat rooms. Each daemon exposes Tick, which the scheduler runs on the
// daemon's own period. A Tick never panics out and never drops an item on a
// transient failure: failed items return to their store for the next Tick.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	errutil "github.com/xiaonanln/oambridge/util/errors"
	"github.com/xiaonanln/oambridge/util/logger"
	"github.com/xiaonanln/oambridge/util/metrics"
)

// Daemon names, used for scheduler tasks, logs and metric labels.
const (
	TopologyDaemon      = "topology"
	MetricsDaemon       = "metrics"
	NotificationsDaemon = "notifications"
	TaskReportsDaemon   = "task-reports"
	SubscriptionsDaemon = "subscriptions"
)

// DefaultPostTimeout bounds a single resolve-and-post.
const DefaultPostTimeout = 10 * time.Second

// RoomResolver finds the room for a participant. Misses wrap room.ErrUnresolved.
type RoomResolver interface {
	Resolve(ctx context.Context, participant string, t room.Type) (string, error)
}

// Poster sends a message to a room.
type Poster interface {
	PostMessage(ctx context.Context, roomID, senderID string, body chat.MessageBody) error
}

// Options are shared by every daemon.
type Options struct {
	SenderID    string
	PostTimeout time.Duration
}

type deliverer struct {
	daemon   string
	resolver RoomResolver
	poster   Poster
	opts     Options
	logger   *logger.Logger
}

func newDeliverer(daemon, logPrefix string, resolver RoomResolver, poster Poster, opts Options) deliverer {
	if opts.PostTimeout <= 0 {
		opts.PostTimeout = DefaultPostTimeout
	}
	return deliverer{
		daemon:   daemon,
		resolver: resolver,
		poster:   poster,
		opts:     opts,
		logger:   logger.NewLogger(logPrefix),
	}
}

// deliver resolves the participant's room of type t and posts body there,
// bounded by the post timeout.
func (d *deliverer) deliver(ctx context.Context, participant string, t room.Type, body chat.MessageBody) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PostTimeout)
	defer cancel()

	roomID, err := d.resolver.Resolve(ctx, participant, t)
	if err != nil {
		return err
	}
	if err := d.poster.PostMessage(ctx, roomID, d.opts.SenderID, body); err != nil {
		return fmt.Errorf("post to %s: %w", roomID, err)
	}
	return nil
}

// record logs and counts the outcome of one item. Failures the next cycle
// may fix are warnings; anything else is an error.
func (d *deliverer) record(what string, err error) {
	if err != nil {
		if errors.Is(err, room.ErrUnresolved) || errutil.IsRetryable(err) {
			d.logger.Warnf("Forwarding %s failed: %v", what, err)
		} else {
			d.logger.Errorf("Forwarding %s failed: %v", what, err)
		}
		metrics.RecordForwarded(d.daemon, metrics.OutcomeFailure)
		return
	}
	d.logger.Debugf("Forwarded %s", what)
	metrics.RecordForwarded(d.daemon, metrics.OutcomeSuccess)
}

func (d *deliverer) skipped(what, reason string) {
	d.logger.Debugf("Skipped %s: %s", what, reason)
	metrics.RecordForwarded(d.daemon, metrics.OutcomeSkipped)
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// roomFor returns the room a component type's category is posted to.
// Workshops have no tasks room; their task reports go to the events room.
func roomFor(ct model.ComponentType, category room.Category) (room.Type, bool) {
	if t, ok := room.RoomFor(ct, category); ok {
		return t, true
	}
	if category == room.CategoryTasks && ct == model.ComponentWorkshop {
		return room.WorkshopEvents, true
	}
	return "", false
}
