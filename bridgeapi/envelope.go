// Package bridgeapi defines the inbound RPC surface of the bridge: a unary
// gRPC service whose requests and responses are JSON envelopes carried as
// google.protobuf.Struct messages.
package bridgeapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xiaonanln/oambridge/model"
)

// Caller identifies the component that issued a request.
type Caller struct {
	ParticipantName string              `json:"participant_name"`
	ComponentID     string              `json:"component_id,omitempty"`
	ComponentType   model.ComponentType `json:"component_type,omitempty"`
	Address         string              `json:"address,omitempty"`
}

// Request is the envelope for every call.
type Request struct {
	CorrelationID string          `json:"correlation_id"`
	Caller        Caller          `json:"caller"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Response acknowledges a request. A response that is not Successful still
// carries the request's correlation ID.
type Response struct {
	CorrelationID string    `json:"correlation_id"`
	Successful    bool      `json:"successful"`
	Instant       time.Time `json:"instant"`
	Error         string    `json:"error,omitempty"`
}

// MetricSample is the payload of CaptureMetric.
type MetricSample struct {
	SourceComponentID string              `json:"source_component_id"`
	ParticipantName   string              `json:"participant_name"`
	ComponentType     model.ComponentType `json:"component_type"`
	Name              string              `json:"name"`
	Value             any                 `json:"value"`
	Instant           time.Time           `json:"instant"`
}

// Validate checks the fields required to store a sample.
func (m MetricSample) Validate() error {
	if m.SourceComponentID == "" {
		return fmt.Errorf("metric sample: source component id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("metric sample: metric name is required")
	}
	return nil
}

// NewRequest wraps payload in an envelope with a fresh correlation ID.
// A nil payload is omitted.
func NewRequest(caller Caller, payload any) (Request, error) {
	req := Request{CorrelationID: uuid.NewString(), Caller: caller}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Request{}, fmt.Errorf("encode payload: %w", err)
		}
		req.Payload = raw
	}
	return req, nil
}

// DecodePayload unmarshals the request payload into v.
func (r Request) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("request %s has no payload", r.CorrelationID)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode payload of request %s: %w", r.CorrelationID, err)
	}
	return nil
}

// EncodeRequest converts a request into its wire form.
func EncodeRequest(r Request) (*structpb.Struct, error) {
	return toStruct(r)
}

// DecodeRequest parses the wire form of a request.
func DecodeRequest(s *structpb.Struct) (Request, error) {
	var r Request
	if err := fromStruct(s, &r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// EncodeResponse converts a response into its wire form.
func EncodeResponse(r Response) (*structpb.Struct, error) {
	return toStruct(r)
}

// DecodeResponse parses the wire form of a response.
func DecodeResponse(s *structpb.Struct) (Response, error) {
	var r Response
	if err := fromStruct(s, &r); err != nil {
		return Response{}, err
	}
	return r, nil
}

// CorrelationID extracts the correlation ID from a raw envelope without
// decoding the rest of it, so malformed requests can still be answered.
func CorrelationID(s *structpb.Struct) string {
	return s.GetFields()["correlation_id"].GetStringValue()
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty envelope")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
