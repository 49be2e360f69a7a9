package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/chat/chattest"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/room/provisioner"
	"github.com/xiaonanln/oambridge/room/resolver"
)

const sender = "@oam:example.org"

type harness struct {
	backend  *chattest.Backend
	resolver *resolver.Resolver
	prov     *provisioner.Provisioner
	opts     Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := chattest.New("example.org")
	// Refetch the room list on every miss.
	r := resolver.New(backend, "example.org", time.Nanosecond)
	return &harness{
		backend:  backend,
		resolver: r,
		prov:     provisioner.New(backend, r),
		opts:     Options{SenderID: sender, PostTimeout: time.Second},
	}
}

func (h *harness) provision(t *testing.T, plant model.ComponentSummary) {
	t.Helper()
	require.NoError(t, h.prov.EnsureComponentRooms(context.Background(), plant))
}

func (h *harness) roomID(t *testing.T, participant string, rt room.Type) string {
	t.Helper()
	alias, err := room.PseudoAlias(participant, rt)
	require.NoError(t, err)
	r, ok := h.backend.RoomByAlias(alias)
	require.True(t, ok, "room %s missing", alias)
	return r.RoomID
}

func samplePlant(wupID string) model.ComponentSummary {
	return model.ComponentSummary{
		ComponentID:     "plant-A",
		ParticipantName: "Plant.A",
		ComponentType:   model.ComponentProcessingPlant,
		Children: []model.ComponentSummary{{
			ComponentID:     "ws-1",
			ParticipantName: "Plant.A.WS1",
			ComponentType:   model.ComponentWorkshop,
			Children: []model.ComponentSummary{{
				ComponentID:     wupID,
				ParticipantName: "Plant.A.WS1." + wupID,
				ComponentType:   model.ComponentWUP,
				Children: []model.ComponentSummary{{
					ComponentID:     "ep-1",
					ParticipantName: "Plant.A.WS1." + wupID + ".EP1",
					ComponentType:   model.ComponentEndpoint,
				}},
			}},
		}},
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	err := guard(func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.NoError(t, guard(func() error { return nil }))
}

func TestRoomForWorkshopTasks(t *testing.T) {
	rt, ok := roomFor(model.ComponentWorkshop, room.CategoryTasks)
	assert.True(t, ok)
	assert.Equal(t, room.WorkshopEvents, rt)
	_, ok = roomFor(model.ComponentWorkshop, room.CategorySubscriptions)
	assert.False(t, ok)
}

type panickingPoster struct{}

func (panickingPoster) PostMessage(context.Context, string, string, chat.MessageBody) error {
	panic("poster exploded")
}

// recordingSink captures escalations.
type recordingSink struct {
	mu  sync.Mutex
	got []model.Notification
}

func (s *recordingSink) Dispatch(n model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}
