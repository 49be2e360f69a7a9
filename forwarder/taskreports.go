package forwarder

import (
	"context"
	"fmt"

	"github.com/xiaonanln/oambridge/content"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/store/reportqueue"
)

// TaskReportForwarder drains the task report queue into each component's
// tasks room.
type TaskReportForwarder struct {
	deliverer
	queue *reportqueue.Queue[model.TaskReport]
}

// NewTaskReportForwarder creates a TaskReportForwarder
func NewTaskReportForwarder(queue *reportqueue.Queue[model.TaskReport], resolver RoomResolver, poster Poster, opts Options) *TaskReportForwarder {
	return &TaskReportForwarder{
		deliverer: newDeliverer(TaskReportsDaemon, "TaskReportForwarder", resolver, poster, opts),
		queue:     queue,
	}
}

// Tick drains the queue, dispatching on component type. Failed reports are
// re-queued after the drain.
func (f *TaskReportForwarder) Tick(ctx context.Context) error {
	var failed []model.TaskReport
	for f.queue.HasMore() {
		if ctx.Err() != nil {
			break
		}
		r, ok := f.queue.GetNext()
		if !ok {
			break
		}
		if err := guard(func() error { return f.forward(ctx, r) }); err != nil {
			failed = append(failed, r)
		}
	}
	f.queue.Add(failed...)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d task reports re-queued", len(failed))
	}
	return nil
}

func (f *TaskReportForwarder) forward(ctx context.Context, r model.TaskReport) error {
	switch r.ComponentType {
	case model.ComponentEndpoint:
		return f.ForwardEndpointTaskReport(ctx, r)
	case model.ComponentWUP, model.ComponentWUPComponent:
		return f.ForwardWUPTaskReport(ctx, r)
	case model.ComponentWorkshop:
		return f.ForwardWorkshopTaskReport(ctx, r)
	case model.ComponentSubsystem, model.ComponentProcessingPlant:
		return f.ForwardSubsystemTaskReport(ctx, r)
	}
	f.skipped("task report "+r.TaskID, fmt.Sprintf("unknown component type %q", r.ComponentType))
	return nil
}

// ForwardEndpointTaskReport posts r to the endpoint's tasks room.
func (f *TaskReportForwarder) ForwardEndpointTaskReport(ctx context.Context, r model.TaskReport) error {
	return f.post(ctx, r, room.EndpointTasks)
}

// ForwardWUPTaskReport posts r to the WUP's tasks room.
func (f *TaskReportForwarder) ForwardWUPTaskReport(ctx context.Context, r model.TaskReport) error {
	return f.post(ctx, r, room.WUPTasks)
}

// ForwardWorkshopTaskReport posts r to the workshop's events room.
func (f *TaskReportForwarder) ForwardWorkshopTaskReport(ctx context.Context, r model.TaskReport) error {
	return f.post(ctx, r, room.WorkshopEvents)
}

// ForwardSubsystemTaskReport posts r to the subsystem's tasks room.
func (f *TaskReportForwarder) ForwardSubsystemTaskReport(ctx context.Context, r model.TaskReport) error {
	return f.post(ctx, r, room.SubsystemTasks)
}

func (f *TaskReportForwarder) post(ctx context.Context, r model.TaskReport, t room.Type) error {
	err := guard(func() error {
		return f.deliver(ctx, r.ParticipantName, t, content.TaskReportMessage(r))
	})
	f.record(fmt.Sprintf("task report %s from %s", r.TaskID, r.ParticipantName), err)
	return err
}
