package metricsstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xiaonanln/oambridge/model"
)

func metricSet(id string, metrics map[string]any) *model.MetricSet {
	return &model.MetricSet{
		SourceComponentID: id,
		ParticipantName:   "wup." + id,
		ComponentType:     model.ComponentWUP,
		ReportingInstant:  time.Now(),
		Metrics:           metrics,
	}
}

func TestAddComponentMetricSetRotatesGenerations(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"registration-count": 1}))
	if s.GetPreviousMetricSet("wup-1") != nil {
		t.Fatal("first arrival should not have a previous generation")
	}

	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"registration-count": 2}))
	cur := s.GetComponentMetricSet("wup-1")
	prev := s.GetPreviousMetricSet("wup-1")
	if cur.Metrics["registration-count"] != 2 {
		t.Errorf("current = %v, want 2", cur.Metrics["registration-count"])
	}
	if prev.Metrics["registration-count"] != 1 {
		t.Errorf("previous = %v, want 1", prev.Metrics["registration-count"])
	}
	if _, ok := s.LastUpdate("wup-1"); !ok {
		t.Error("last update should be recorded")
	}
}

func TestAddComponentMetricSetCopiesInput(t *testing.T) {
	s := New()
	in := metricSet("wup-1", map[string]any{"a": 1})
	s.AddComponentMetricSet("wup-1", in)
	in.Metrics["a"] = 99

	if got := s.GetComponentMetricSet("wup-1").Metrics["a"]; got != 1 {
		t.Errorf("store aliased caller map: got %v", got)
	}
	s.GetComponentMetricSet("wup-1").Metrics["a"] = 42
	if got := s.GetComponentMetricSet("wup-1").Metrics["a"]; got != 1 {
		t.Errorf("accessor returned shared map: got %v", got)
	}
}

func TestAddComponentMetricSetFillsSourceID(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("route-7", &model.MetricSet{Metrics: map[string]any{"a": 1}})
	if got := s.GetComponentMetricSet("route-7").SourceComponentID; got != "route-7" {
		t.Errorf("SourceComponentID = %q, want route-7", got)
	}
	s.AddComponentMetricSet("route-7", nil)
	if s.Len() != 1 {
		t.Errorf("nil set should be ignored, Len = %d", s.Len())
	}
}

func TestAddComponentMetricMerges(t *testing.T) {
	s := New()
	s.AddComponentMetric("ep-1", "ep.one", model.ComponentEndpoint, "ingres", 3, time.Time{})
	s.AddComponentMetric("ep-1", "ignored", model.ComponentWUP, "egress", 4, time.Time{})

	cur := s.GetComponentMetricSet("ep-1")
	if cur.ParticipantName != "ep.one" || cur.ComponentType != model.ComponentEndpoint {
		t.Errorf("identity overwritten: %+v", cur)
	}
	if cur.Metrics["ingres"] != 3 || cur.Metrics["egress"] != 4 {
		t.Errorf("metrics = %v", cur.Metrics)
	}
	if cur.ReportingInstant.IsZero() {
		t.Error("zero instant should default to now")
	}
	if prev := s.GetPreviousMetricSet("ep-1"); len(prev.Metrics) != 1 {
		t.Errorf("previous generation should hold one metric, got %v", prev.Metrics)
	}
}

func TestDisplayAndChangeDetection(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"registration-count": 5}))
	if !s.HasChangedSinceDisplayed("wup-1") {
		t.Fatal("never-displayed set should count as changed")
	}

	shown := s.GetComponentMetricSetForDisplay("wup-1")
	if shown == nil || shown.Metrics["registration-count"] != 5 {
		t.Fatalf("shown = %+v", shown)
	}
	if !s.GetDisplayedMetricSet("wup-1").ContentEquals(shown) {
		t.Error("displayed slot should hold the shown set")
	}

	// Same content, newer instant.
	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"registration-count": 5}))
	if s.HasChangedSinceDisplayed("wup-1") {
		t.Error("identical content must not count as a change")
	}

	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"registration-count": 6}))
	if !s.HasChangedSinceDisplayed("wup-1") {
		t.Error("different content must count as a change")
	}
	if s.GetComponentMetricSetForDisplay("missing") != nil {
		t.Error("unknown source should return nil")
	}
}

func TestRollbackDisplay(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"n": 1}))
	first := s.GetComponentMetricSetForDisplay("wup-1")

	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"n": 2}))
	prior := s.GetDisplayedMetricSet("wup-1")
	shown := s.GetComponentMetricSetForDisplay("wup-1")

	s.RollbackDisplay("wup-1", shown, prior)
	if !s.GetDisplayedMetricSet("wup-1").ContentEquals(first) {
		t.Error("rollback should restore the prior displayed set")
	}

	// A later display wins over a stale rollback.
	s.AddComponentMetricSet("wup-1", metricSet("wup-1", map[string]any{"n": 3}))
	latest := s.GetComponentMetricSetForDisplay("wup-1")
	s.RollbackDisplay("wup-1", shown, prior)
	if !s.GetDisplayedMetricSet("wup-1").ContentEquals(latest) {
		t.Error("stale rollback must not clobber a newer display")
	}

	// Rolling back the very first display clears the slot.
	s2 := New()
	s2.AddComponentMetricSet("x", metricSet("x", map[string]any{"n": 1}))
	shownX := s2.GetComponentMetricSetForDisplay("x")
	s2.RollbackDisplay("x", shownX, nil)
	if s2.GetDisplayedMetricSet("x") != nil {
		t.Error("rollback to nil should clear the displayed slot")
	}
}

func TestGetUpdatedMetricSets(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("b", metricSet("b", map[string]any{"n": 1}))
	s.AddComponentMetricSet("a", metricSet("a", map[string]any{"n": 1}))

	updated := s.GetUpdatedMetricSets()
	if len(updated) != 2 || updated[0].SourceComponentID != "a" || updated[1].SourceComponentID != "b" {
		t.Fatalf("updated = %+v", updated)
	}
	if got := s.GetUpdatedMetricSets(); len(got) != 0 {
		t.Errorf("second call should be empty, got %d", len(got))
	}

	s.MarkUpdated("a")
	s.MarkUpdated("unknown")
	if got := s.GetUpdatedMetricSets(); len(got) != 1 || got[0].SourceComponentID != "a" {
		t.Errorf("MarkUpdated should requeue a, got %+v", got)
	}

	s.AddComponentMetricSet("b", metricSet("b", map[string]any{"n": 2}))
	if got := s.GetUpdatedMetricSets(); len(got) != 1 || got[0].Metrics["n"] != 2 {
		t.Errorf("new arrival should be reported, got %+v", got)
	}
}

func TestDisplayKeepsUpdatedFlag(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("a", metricSet("a", map[string]any{"n": 1}))
	s.GetComponentMetricSetForDisplay("a")
	if got := s.GetUpdatedMetricSets(); len(got) != 1 {
		t.Errorf("display should not consume the updated flag, got %d", len(got))
	}
}

func TestRemoveComponent(t *testing.T) {
	s := New()
	s.AddComponentMetricSet("a", metricSet("a", map[string]any{"n": 1}))
	s.RemoveComponent("a")
	if s.Len() != 0 || s.GetComponentMetricSet("a") != nil {
		t.Error("component should be gone")
	}
	if _, ok := s.LastUpdate("a"); ok {
		t.Error("last update should be gone")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c-%d", i%5)
			for j := 0; j < 50; j++ {
				s.AddComponentMetric(id, id, model.ComponentEndpoint, "n", j, time.Now())
				s.GetComponentMetricSetForDisplay(id)
				s.GetUpdatedMetricSets()
				s.HasChangedSinceDisplayed(id)
			}
		}(i)
	}
	wg.Wait()
	if s.Len() != 5 {
		t.Errorf("Len = %d, want 5", s.Len())
	}
}
