package model

import (
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// MetricSet is the latest set of metrics reported by one component.
type MetricSet struct {
	SourceComponentID string         `json:"source_component_id"`
	ParticipantName   string         `json:"participant_name"`
	ComponentType     ComponentType  `json:"component_type"`
	ReportingInstant  time.Time      `json:"reporting_instant"`
	Metrics           map[string]any `json:"metrics"`
}

// Clone returns a deep copy of the set. Nested maps and slices of metric
// values, as decoded from JSON, are copied too.
func (m *MetricSet) Clone() *MetricSet {
	if m == nil {
		return nil
	}
	out := *m
	if m.Metrics != nil {
		out.Metrics = cloneValue(m.Metrics).(map[string]any)
	}
	return &out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	case []int:
		return append([]int(nil), x...)
	}
	return v
}

// ContentEquals compares the identifying fields and metric entries of two sets.
// ReportingInstant is not significant: a component re-reporting identical
// values must not count as a change.
func (m *MetricSet) ContentEquals(other *MetricSet) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.SourceComponentID != other.SourceComponentID ||
		m.ParticipantName != other.ParticipantName ||
		m.ComponentType != other.ComponentType {
		return false
	}
	return cmp.Equal(m.Metrics, other.Metrics, cmpopts.EquateEmpty())
}
