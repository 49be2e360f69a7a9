package bridgeapi

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xiaonanln/oambridge/model"
)

// ErrRejected is returned when the bridge answers with a not-successful response.
var ErrRejected = errors.New("request rejected by bridge")

// Client is a typed BridgeService client. Every call carries the caller identity.
type Client struct {
	conn   grpc.ClientConnInterface
	caller Caller
}

// NewClient creates a client over conn.
func NewClient(conn grpc.ClientConnInterface, caller Caller) *Client {
	return &Client{conn: conn, caller: caller}
}

// Call sends payload to method and decodes the acknowledgement. A
// not-successful response is returned together with an error wrapping ErrRejected.
func (c *Client) Call(ctx context.Context, method string, payload any) (Response, error) {
	req, err := NewRequest(c.caller, payload)
	if err != nil {
		return Response{}, err
	}
	in, err := EncodeRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return Response{}, err
	}
	resp, err := DecodeResponse(out)
	if err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !resp.Successful {
		return resp, fmt.Errorf("%s %s: %s: %w", method, resp.CorrelationID, resp.Error, ErrRejected)
	}
	return resp, nil
}

func (c *Client) Ping(ctx context.Context) (Response, error) {
	return c.Call(ctx, MethodPing, nil)
}

func (c *Client) CaptureMetric(ctx context.Context, sample MetricSample) (Response, error) {
	return c.Call(ctx, MethodCaptureMetric, sample)
}

func (c *Client) CaptureMetrics(ctx context.Context, set *model.MetricSet) (Response, error) {
	return c.Call(ctx, MethodCaptureMetrics, set)
}

// MergeTopologyGraph adds or replaces the given processing plants.
func (c *Client) MergeTopologyGraph(ctx context.Context, plants []model.ComponentSummary) (Response, error) {
	return c.Call(ctx, MethodMergeTopologyGraph, plants)
}

// MergeRemoteTopologyGraph replaces everything previously reported by the
// caller with plants.
func (c *Client) MergeRemoteTopologyGraph(ctx context.Context, plants []model.ComponentSummary) (Response, error) {
	return c.Call(ctx, MethodMergeRemoteTopologyGraph, plants)
}

func (c *Client) ProcessNotification(ctx context.Context, n model.Notification) (Response, error) {
	return c.Call(ctx, MethodProcessNotification, n)
}

func (c *Client) ProcessTaskReport(ctx context.Context, r model.TaskReport) (Response, error) {
	return c.Call(ctx, MethodProcessTaskReport, r)
}

func (c *Client) ShareSubscriptionSummaryReport(ctx context.Context, s model.SubscriptionSummary) (Response, error) {
	return c.Call(ctx, MethodShareSubscriptionSummaryReport, s)
}
