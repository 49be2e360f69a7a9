// Package receiver implements the bridge side of BridgeService: it decodes
// inbound reports and writes them into the stores the forwarders drain.
package receiver

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xiaonanln/oambridge/bridgeapi"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/store/metricsstore"
	"github.com/xiaonanln/oambridge/store/reportqueue"
	"github.com/xiaonanln/oambridge/store/subscriptionstore"
	"github.com/xiaonanln/oambridge/store/topologystore"
	"github.com/xiaonanln/oambridge/util/logger"
	"github.com/xiaonanln/oambridge/util/metrics"
)

// Stores are the destinations of inbound reports.
type Stores struct {
	Topology      *topologystore.Store
	Metrics       *metricsstore.Store
	Notifications *reportqueue.Queue[model.Notification]
	TaskReports   *reportqueue.Queue[model.TaskReport]
	Subscriptions *subscriptionstore.Store
}

// Service implements bridgeapi.BridgeServer.
type Service struct {
	stores Stores
	now    func() time.Time
	logger *logger.Logger
}

var _ bridgeapi.BridgeServer = (*Service)(nil)

// New creates a Service writing into stores.
func New(stores Stores) *Service {
	return &Service{
		stores: stores,
		now:    time.Now,
		logger: logger.NewLogger("Receiver"),
	}
}

// handle decodes the envelope, applies it and builds the acknowledgement.
// Decode and apply failures are answered with a not-successful response,
// never with an RPC error.
func (s *Service) handle(method string, in *structpb.Struct, apply func(req bridgeapi.Request) error) (*structpb.Struct, error) {
	resp := bridgeapi.Response{CorrelationID: bridgeapi.CorrelationID(in)}
	result := "ok"

	req, err := bridgeapi.DecodeRequest(in)
	if err == nil {
		resp.CorrelationID = req.CorrelationID
		err = s.safeApply(apply, req)
		if err != nil {
			result = "rejected"
		}
	} else {
		result = "decode_error"
	}

	resp.Instant = s.now()
	if err != nil {
		s.logger.Warnf("%s from %q (correlation %s) failed: %v", method, req.Caller.ParticipantName, resp.CorrelationID, err)
		resp.Error = err.Error()
	} else {
		resp.Successful = true
	}
	metrics.RecordInboundRequest(method, result)

	out, err := bridgeapi.EncodeResponse(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *Service) safeApply(apply func(bridgeapi.Request) error, req bridgeapi.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return apply(req)
}

// Ping handles ping requests
func (s *Service) Ping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodPing, in, func(bridgeapi.Request) error { return nil })
}

// CaptureMetric merges a single metric into the component's current set.
func (s *Service) CaptureMetric(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodCaptureMetric, in, func(req bridgeapi.Request) error {
		var sample bridgeapi.MetricSample
		if err := req.DecodePayload(&sample); err != nil {
			return err
		}
		if err := sample.Validate(); err != nil {
			return err
		}
		instant := sample.Instant
		if instant.IsZero() {
			instant = s.now()
		}
		s.stores.Metrics.AddComponentMetric(sample.SourceComponentID, sample.ParticipantName, sample.ComponentType, sample.Name, sample.Value, instant)
		return nil
	})
}

// CaptureMetrics replaces the component's current metric set.
func (s *Service) CaptureMetrics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodCaptureMetrics, in, func(req bridgeapi.Request) error {
		var set model.MetricSet
		if err := req.DecodePayload(&set); err != nil {
			return err
		}
		if set.SourceComponentID == "" {
			return fmt.Errorf("metric set: source component id is required")
		}
		if set.ReportingInstant.IsZero() {
			set.ReportingInstant = s.now()
		}
		s.stores.Metrics.AddComponentMetricSet(set.SourceComponentID, &set)
		return nil
	})
}

func (s *Service) decodePlants(req bridgeapi.Request) ([]model.ComponentSummary, error) {
	var plants []model.ComponentSummary
	if err := req.DecodePayload(&plants); err != nil {
		return nil, err
	}
	for _, p := range plants {
		if p.ComponentType != model.ComponentProcessingPlant {
			return nil, fmt.Errorf("component %s: expected a processing plant, got %q", p.ComponentID, p.ComponentType)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return plants, nil
}

// MergeTopologyGraph adds or replaces each reported processing plant.
func (s *Service) MergeTopologyGraph(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodMergeTopologyGraph, in, func(req bridgeapi.Request) error {
		plants, err := s.decodePlants(req)
		if err != nil {
			return err
		}
		for _, p := range plants {
			s.stores.Topology.AddProcessingPlant(p)
		}
		return nil
	})
}

// MergeRemoteTopologyGraph replaces everything the caller reported before.
func (s *Service) MergeRemoteTopologyGraph(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodMergeRemoteTopologyGraph, in, func(req bridgeapi.Request) error {
		source := req.Caller.ParticipantName
		if source == "" {
			source = req.Caller.ComponentID
		}
		if source == "" {
			return fmt.Errorf("remote topology requires a caller identity")
		}
		plants, err := s.decodePlants(req)
		if err != nil {
			return err
		}
		s.stores.Topology.MergeRemoteTopologyGraph(source, plants)
		return nil
	})
}

// ProcessNotification queues a notification for the notifications forwarder.
func (s *Service) ProcessNotification(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodProcessNotification, in, func(req bridgeapi.Request) error {
		var n model.Notification
		if err := req.DecodePayload(&n); err != nil {
			return err
		}
		if err := n.Validate(); err != nil {
			return err
		}
		if n.Instant.IsZero() {
			n.Instant = s.now()
		}
		s.stores.Notifications.Add(n)
		return nil
	})
}

// ProcessTaskReport queues a task report for the task-reports forwarder.
func (s *Service) ProcessTaskReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodProcessTaskReport, in, func(req bridgeapi.Request) error {
		var r model.TaskReport
		if err := req.DecodePayload(&r); err != nil {
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if r.Instant.IsZero() {
			r.Instant = s.now()
		}
		s.stores.TaskReports.Add(r)
		return nil
	})
}

// ShareSubscriptionSummaryReport stores a participant's subscription summary.
func (s *Service) ShareSubscriptionSummaryReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(bridgeapi.MethodShareSubscriptionSummaryReport, in, func(req bridgeapi.Request) error {
		var summary model.SubscriptionSummary
		if err := req.DecodePayload(&summary); err != nil {
			return err
		}
		if err := summary.Validate(); err != nil {
			return err
		}
		if summary.ReportedAt.IsZero() {
			summary.ReportedAt = s.now()
		}
		s.stores.Subscriptions.Put(summary)
		return nil
	})
}
