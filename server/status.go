package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xiaonanln/oambridge/model"
)

// breakerReporter is implemented by chat backends with a circuit breaker.
type breakerReporter interface {
	BreakerOpen() bool
}

type daemonStatus struct {
	Completed uint64    `json:"completed"`
	Failed    uint64    `json:"failed"`
	Skipped   uint64    `json:"skipped"`
	Panicked  uint64    `json:"panicked"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type statusResponse struct {
	Daemons            map[string]daemonStatus `json:"daemons"`
	Queues             map[string]int          `json:"queues"`
	PendingPlants      []string                `json:"pending_plants"`
	TopologyVersion    uint64                  `json:"topology_version"`
	ProvisioningLeader bool                    `json:"provisioning_leader"`
	Leader             string                  `json:"leader,omitempty"`
	ChatBreakerOpen    bool                    `json:"chat_breaker_open"`
}

type plantStatus struct {
	model.ComponentSummary
	LastUpdated time.Time `json:"last_updated"`
}

type topologyResponse struct {
	Version uint64        `json:"version"`
	Plants  []plantStatus `json:"plants"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports not ready while the chat backend is short-circuited.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.chatBreakerOpen() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "chat backend circuit breaker open",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) chatBreakerOpen() bool {
	b, ok := s.backend.(breakerReporter)
	return ok && b.BreakerOpen()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := statusResponse{
		Daemons: make(map[string]daemonStatus),
		Queues: map[string]int{
			s.stores.Notifications.Name(): s.stores.Notifications.Len(),
			s.stores.TaskReports.Name():   s.stores.TaskReports.Len(),
		},
		PendingPlants:      s.topologyFwd.Pending(),
		TopologyVersion:    s.stores.Topology.Version(),
		ProvisioningLeader: s.IsProvisioningLeader(),
		ChatBreakerOpen:    s.chatBreakerOpen(),
	}
	if s.election != nil {
		out.Leader = s.election.GetLeader()
	}
	for _, name := range s.scheduler.Names() {
		st, ok := s.scheduler.Stats(name)
		if !ok {
			continue
		}
		out.Daemons[name] = daemonStatus{
			Completed: st.Completed,
			Failed:    st.Failed,
			Skipped:   st.Skipped,
			Panicked:  st.Panicked,
			LastRun:   st.LastRun,
			LastError: st.LastError,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	plants := s.stores.Topology.GetProcessingPlants()
	out := topologyResponse{
		Version: s.stores.Topology.Version(),
		Plants:  make([]plantStatus, 0, len(plants)),
	}
	for _, p := range plants {
		updated, _ := s.stores.Topology.LastUpdated(p.ComponentID)
		out.Plants = append(out.Plants, plantStatus{ComponentSummary: p, LastUpdated: updated})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.resolver.CachedAliases())
}
