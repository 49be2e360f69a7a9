package topologystore

import (
	"sync"
	"testing"

	"github.com/xiaonanln/oambridge/model"
)

func plant(id string, workshops ...model.ComponentSummary) model.ComponentSummary {
	return model.ComponentSummary{
		ComponentID:     id,
		ParticipantName: "subsystem." + id,
		ComponentType:   model.ComponentProcessingPlant,
		Children:        workshops,
	}
}

func workshop(id string, wups ...model.ComponentSummary) model.ComponentSummary {
	return model.ComponentSummary{ComponentID: id, ParticipantName: "ws." + id, ComponentType: model.ComponentWorkshop, Children: wups}
}

func wup(id string, endpoints ...model.ComponentSummary) model.ComponentSummary {
	return model.ComponentSummary{ComponentID: id, ParticipantName: "wup." + id, ComponentType: model.ComponentWUP, Children: endpoints}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) OnTopologyEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestNew(t *testing.T) {
	s := New()
	if s.plants == nil || s.updatedAt == nil || s.sources == nil {
		t.Fatal("maps should be initialized")
	}
	if len(s.GetProcessingPlants()) != 0 {
		t.Error("new store should have no plants")
	}
}

// TestRefreshNodeMapAndReplacement covers the plant-A / ws-1 / wup-1 scenario.
func TestRefreshNodeMapAndReplacement(t *testing.T) {
	s := New()
	s.AddProcessingPlant(plant("plant-A", workshop("ws-1", wup("wup-1"))))
	s.RefreshNodeMap()

	for _, id := range []string{"plant-A", "ws-1", "wup-1"} {
		if _, ok := s.GetNode(id); !ok {
			t.Errorf("GetNode(%q) should succeed after RefreshNodeMap", id)
		}
	}

	s.AddProcessingPlant(plant("plant-A", workshop("ws-1", wup("wup-2"))))
	s.RefreshNodeMap()

	if _, ok := s.GetNode("wup-1"); ok {
		t.Error("wup-1 lookup should fail after plant-A was replaced")
	}
	if _, ok := s.GetNode("wup-2"); !ok {
		t.Error("wup-2 lookup should succeed after replacement")
	}
	if got := len(s.GetProcessingPlants()); got != 1 {
		t.Errorf("expected 1 plant, got %d", got)
	}
}

func TestNodeMapNotUpdatedBeforeRefresh(t *testing.T) {
	s := New()
	s.AddProcessingPlant(plant("plant-A", workshop("ws-1")))

	if _, ok := s.GetNode("ws-1"); ok {
		t.Error("node index should only change on RefreshNodeMap")
	}
}

func TestGetNodeReturnsCopy(t *testing.T) {
	s := New()
	s.AddProcessingPlant(plant("plant-A", workshop("ws-1", wup("wup-1"))))
	s.RefreshNodeMap()

	n, _ := s.GetNode("ws-1")
	n.Children[0].DisplayName = "mutated"

	again, _ := s.GetNode("ws-1")
	if again.Children[0].DisplayName != "" {
		t.Error("GetNode() should return a copy, internal data was modified")
	}

	plants := s.GetProcessingPlants()
	plants[0].Children = nil
	p, _ := s.GetProcessingPlant("plant-A")
	if len(p.Children) != 1 {
		t.Error("GetProcessingPlants() should return copies")
	}
}

func TestRemoveProcessingPlant(t *testing.T) {
	s := New()
	obs := &recordingObserver{}
	s.AddObserver(obs)

	s.AddProcessingPlant(plant("plant-A", workshop("ws-1")))
	s.RefreshNodeMap()

	if !s.RemoveProcessingPlant("plant-A") {
		t.Fatal("RemoveProcessingPlant should report an existing plant")
	}
	if s.RemoveProcessingPlant("plant-A") {
		t.Error("second RemoveProcessingPlant should report false")
	}
	s.RefreshNodeMap()
	if _, ok := s.GetNode("ws-1"); ok {
		t.Error("ws-1 should be gone after plant removal")
	}

	got := obs.types()
	if len(got) != 2 || got[0] != EventPlantAdded || got[1] != EventPlantRemoved {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestObserverSeesReplacement(t *testing.T) {
	s := New()
	obs := &recordingObserver{}
	s.AddObserver(obs)

	s.AddProcessingPlant(plant("plant-A"))
	s.AddProcessingPlant(plant("plant-A"))
	s.RemoveObserver(obs)
	s.AddProcessingPlant(plant("plant-B"))

	got := obs.types()
	if len(got) != 2 || got[1] != EventPlantReplaced {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestMergeRemoteTopologyGraphRemovesStalePlants(t *testing.T) {
	s := New()
	s.MergeRemoteTopologyGraph("site-1", []model.ComponentSummary{plant("plant-A"), plant("plant-B")})
	s.AddProcessingPlant(plant("plant-C"))

	s.MergeRemoteTopologyGraph("site-1", []model.ComponentSummary{plant("plant-B", workshop("ws-9"))})
	s.RefreshNodeMap()

	if _, ok := s.GetProcessingPlant("plant-A"); ok {
		t.Error("plant-A is no longer reported by site-1 and should be removed")
	}
	if _, ok := s.GetNode("ws-9"); !ok {
		t.Error("plant-B should have been replaced with its new subtree")
	}
	if _, ok := s.GetProcessingPlant("plant-C"); !ok {
		t.Error("plant-C belongs to no remote source and must be kept")
	}
}

func TestMergeRemoteTopologyGraphKeepsPlantsSharedWithOtherSources(t *testing.T) {
	s := New()
	s.MergeRemoteTopologyGraph("site-1", []model.ComponentSummary{plant("plant-A"), plant("plant-B")})
	s.MergeRemoteTopologyGraph("site-2", []model.ComponentSummary{plant("plant-B")})

	s.MergeRemoteTopologyGraph("site-1", []model.ComponentSummary{plant("plant-A")})
	if _, ok := s.GetProcessingPlant("plant-B"); !ok {
		t.Fatal("plant-B is still reported by site-2 and must be kept")
	}
	if got := s.Sources("plant-B"); len(got) != 1 || got[0] != "site-2" {
		t.Errorf("plant-B sources = %v, want [site-2]", got)
	}

	s.MergeRemoteTopologyGraph("site-2", nil)
	if _, ok := s.GetProcessingPlant("plant-B"); ok {
		t.Error("plant-B should be removed once no source reports it")
	}
	if _, ok := s.GetProcessingPlant("plant-A"); !ok {
		t.Error("plant-A is still reported by site-1")
	}
	if got := s.Sources("plant-A"); len(got) != 1 || got[0] != "site-1" {
		t.Errorf("plant-A sources = %v, want [site-1]", got)
	}
}

func TestMergeRemoteTopologyGraphSwapsAtomically(t *testing.T) {
	s := New()
	oldGraph := []model.ComponentSummary{plant("plant-A"), plant("plant-B")}
	newGraph := []model.ComponentSummary{plant("plant-C"), plant("plant-D")}
	s.MergeRemoteTopologyGraph("site-1", oldGraph)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				s.MergeRemoteTopologyGraph("site-1", newGraph)
			} else {
				s.MergeRemoteTopologyGraph("site-1", oldGraph)
			}
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		plants := s.GetProcessingPlants()
		ids := make(map[string]bool, len(plants))
		for _, p := range plants {
			ids[p.ComponentID] = true
		}
		old := len(ids) == 2 && ids["plant-A"] && ids["plant-B"]
		fresh := len(ids) == 2 && ids["plant-C"] && ids["plant-D"]
		if !old && !fresh {
			t.Fatalf("observed a half-swapped graph: %v", ids)
		}
	}
}

func TestMergeRemoteTopologyGraphEvents(t *testing.T) {
	s := New()
	s.MergeRemoteTopologyGraph("site-1", []model.ComponentSummary{plant("plant-A")})
	obs := &recordingObserver{}
	s.AddObserver(obs)
	v := s.Version()

	s.MergeRemoteTopologyGraph("site-1", []model.ComponentSummary{plant("plant-B")})
	want := []EventType{EventPlantRemoved, EventPlantAdded}
	got := obs.types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
	if s.Version() != v+1 {
		t.Errorf("version = %d, want %d", s.Version(), v+1)
	}
}

func TestVersionAndLastUpdated(t *testing.T) {
	s := New()
	v0 := s.Version()
	s.AddProcessingPlant(plant("plant-A"))
	if s.Version() <= v0 {
		t.Error("version should increase on add")
	}
	if _, ok := s.LastUpdated("plant-A"); !ok {
		t.Error("LastUpdated should be recorded")
	}
	v1 := s.Version()
	s.RemoveProcessingPlant("missing")
	if s.Version() != v1 {
		t.Error("removing an unknown plant should not bump the version")
	}
}

func TestConcurrentAddAndLookup(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				s.AddProcessingPlant(plant("plant-"+id, workshop("ws-"+id)))
				s.RefreshNodeMap()
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.GetNode("ws-" + string(rune('a'+n)))
				s.GetProcessingPlants()
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.GetProcessingPlants()); got != 10 {
		t.Errorf("expected 10 plants, got %d", got)
	}
}
