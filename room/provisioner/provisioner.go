// Package provisioner creates the space and room hierarchy the bridge posts
// into: one space per component with its OAM sub-rooms, nested subsystem ->
// workshop -> WUP -> endpoint.
//
// Creation is check-then-create: the alias cache and the room list are
// consulted before a room is created, and nothing on the backend makes that
// sequence atomic. A Provisioner therefore serializes all of its own work, and
// only one Provisioner per homeserver may create rooms at a time. When several
// bridge replicas run against the same homeserver, configure a LeadershipGate
// so only the elected replica provisions.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/room/resolver"
	"github.com/xiaonanln/oambridge/util/logger"
	"github.com/xiaonanln/oambridge/util/metrics"
)

var (
	// ErrNotLeader is returned when the gate withholds permission to create rooms.
	ErrNotLeader = errors.New("provisioner: not the provisioning leader")
	// ErrDetached is returned while a room exists but could not yet be added
	// to its parent space. The next pass over the room retries.
	ErrDetached = errors.New("provisioner: room not attached to its space")
)

// IsNotLeaderOnly reports whether err, possibly joined from several
// failures, consists of nothing but ErrNotLeader.
func IsNotLeaderOnly(err error) bool {
	if err == nil {
		return false
	}
	if err == ErrNotLeader {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		errs := x.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, e := range errs {
			if !IsNotLeaderOnly(e) {
				return false
			}
		}
		return true
	case interface{ Unwrap() error }:
		return IsNotLeaderOnly(x.Unwrap())
	}
	return false
}

// LeadershipGate reports whether this process may create rooms.
type LeadershipGate interface {
	IsLeader() bool
}

// Provisioner is the single writer of rooms and spaces.
type Provisioner struct {
	backend  chat.Backend
	resolver *resolver.Resolver
	gate     LeadershipGate
	preset   string
	logger   *logger.Logger

	mu       sync.Mutex        // held for the whole of every provisioning operation
	detached map[string]string // room ID -> space it still has to be added to
}

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithLeadershipGate restricts room creation to the gate's leader.
func WithLeadershipGate(g LeadershipGate) Option {
	return func(p *Provisioner) { p.gate = g }
}

// WithPreset sets the room creation preset.
func WithPreset(preset string) Option {
	return func(p *Provisioner) { p.preset = preset }
}

// New creates a Provisioner sharing the resolver's alias cache.
func New(backend chat.Backend, r *resolver.Resolver, opts ...Option) *Provisioner {
	p := &Provisioner{
		backend:  backend,
		resolver: r,
		logger:   logger.NewLogger("RoomProvisioner"),
		detached: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Component names the participant a room belongs to.
type Component struct {
	ParticipantName string
	DisplayName     string
}

func (c Component) displayName() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ParticipantName
}

// InstallOAMRoom returns the participant's room of type t, creating it under
// parentSpaceID when neither the alias cache nor list knows it. Created rooms
// are added to list and to the resolver cache. created reports whether a
// backend room was created by this call. When the room exists but adding it
// to its space failed, the summary is returned with an error wrapping
// ErrDetached and the next call for the same room retries the add.
func (p *Provisioner) InstallOAMRoom(ctx context.Context, list *resolver.RoomList, c Component, t room.Type, parentSpaceID string) (summary chat.RoomSummary, created bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installLocked(ctx, list, c, t, parentSpaceID)
}

func (p *Provisioner) installLocked(ctx context.Context, list *resolver.RoomList, c Component, t room.Type, parentSpaceID string) (chat.RoomSummary, bool, error) {
	info, ok := t.Info()
	if !ok {
		return chat.RoomSummary{}, false, fmt.Errorf("unknown room type %q", t)
	}
	alias, err := room.PseudoAlias(c.ParticipantName, t)
	if err != nil {
		return chat.RoomSummary{}, false, err
	}
	full := p.resolver.FullAlias(alias)

	if id, ok := p.resolver.Cached(alias); ok {
		summary, listed := list.Find(full)
		if !listed {
			summary = chat.RoomSummary{RoomID: id, CanonicalAlias: full, Space: info.Space}
			list.Add(summary)
		}
		return summary, false, p.attachDetached(ctx, summary.RoomID)
	}
	if summary, ok := list.Find(full); ok {
		p.resolver.Remember(summary)
		return summary, false, p.attachDetached(ctx, summary.RoomID)
	}

	if p.gate != nil && !p.gate.IsLeader() {
		return chat.RoomSummary{}, false, ErrNotLeader
	}

	summary, err := p.backend.CreateRoom(ctx, chat.CreateRoomRequest{
		Name:      room.DisplayName(c.displayName(), t),
		AliasName: alias,
		Topic:     info.Topic,
		ParentID:  parentSpaceID,
		Preset:    p.preset,
		Space:     info.Space,
	})
	if err != nil {
		p.logger.Warnf("Failed to create %s room %s: %v", t, full, err)
		return chat.RoomSummary{}, false, fmt.Errorf("create %s: %w", full, err)
	}
	if summary.CanonicalAlias == "" {
		summary.CanonicalAlias = full
	}
	list.Add(summary)
	p.resolver.Remember(summary)
	metrics.RecordRoomCreated(string(t))
	p.logger.Infof("Created %s room %s (%s)", t, summary.RoomID, full)

	if parentSpaceID != "" {
		p.detached[summary.RoomID] = parentSpaceID
	}
	return summary, true, p.attachDetached(ctx, summary.RoomID)
}

// attachDetached adds roomID to the space it is still owed to, if any.
func (p *Provisioner) attachDetached(ctx context.Context, roomID string) error {
	spaceID, ok := p.detached[roomID]
	if !ok {
		return nil
	}
	if err := p.backend.AddChild(ctx, spaceID, roomID); err != nil {
		p.logger.Warnf("Could not add %s to space %s, will retry: %v", roomID, spaceID, err)
		return fmt.Errorf("%w: %s in %s: %v", ErrDetached, roomID, spaceID, err)
	}
	delete(p.detached, roomID)
	return nil
}

// Detached returns the IDs of rooms still waiting to be added to their space.
func (p *Provisioner) Detached() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.detached))
	for id := range p.detached {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EnsureSpace installs the component's space for level under parentSpaceID
// and then each of the level's sub-rooms inside it. It returns the space ID.
// Sub-room failures are logged and reported after every sub-room was tried.
func (p *Provisioner) EnsureSpace(ctx context.Context, list *resolver.RoomList, c Component, level room.Level, parentSpaceID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureSpaceLocked(ctx, list, c, level, parentSpaceID)
}

func (p *Provisioner) ensureSpaceLocked(ctx context.Context, list *resolver.RoomList, c Component, level room.Level, parentSpaceID string) (string, error) {
	space, _, err := p.installLocked(ctx, list, c, level.Space, parentSpaceID)
	if space.RoomID == "" {
		return "", err
	}
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, sub := range level.SubRooms {
		if _, _, err := p.installLocked(ctx, list, c, sub, space.RoomID); err != nil {
			errs = append(errs, err)
		}
	}
	return space.RoomID, errors.Join(errs...)
}

// EnsureComponentRooms provisions the whole hierarchy for a processing plant
// using one room-list snapshot. A failure on one branch does not stop its
// siblings; all failures are returned joined.
func (p *Provisioner) EnsureComponentRooms(ctx context.Context, plant model.ComponentSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list, err := p.resolver.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", room.ErrUnresolved, err)
	}

	spaces := make(map[*model.ComponentSummary]string)
	var errs []error
	plant.Walk(func(node, parent *model.ComponentSummary) bool {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return false
		}
		level, ok := room.LevelFor(node.ComponentType)
		if !ok {
			return false
		}
		parentSpace := ""
		if parent != nil {
			id, ok := spaces[parent]
			if !ok {
				// Parent space failed; its subtree waits for the next pass.
				return false
			}
			parentSpace = id
		}
		c := Component{ParticipantName: node.ParticipantName, DisplayName: node.Name()}
		id, err := p.ensureSpaceLocked(ctx, list, c, level, parentSpace)
		if id == "" {
			errs = append(errs, err)
			return false
		}
		if err != nil {
			errs = append(errs, err)
		}
		spaces[node] = id
		return true
	})
	return errors.Join(errs...)
}
