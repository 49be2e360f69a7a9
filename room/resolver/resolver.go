// Package resolver maps pseudo-aliases to chat room IDs using a session-long
// alias cache backed by a periodically refreshed listing of the backend's
// rooms.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/room"
	"github.com/xiaonanln/oambridge/util/logger"
	"github.com/xiaonanln/oambridge/util/metrics"
)

// DefaultRefreshInterval is the minimum age of the room list before a cache
// miss triggers a new listing.
const DefaultRefreshInterval = 10 * time.Second

// RoomList is a point-in-time copy of the backend's rooms indexed by
// canonical alias. It is owned by the caller and not safe for concurrent use.
type RoomList struct {
	rooms   []chat.RoomSummary
	byAlias map[string]int
}

func newRoomList(rooms []chat.RoomSummary) *RoomList {
	l := &RoomList{byAlias: make(map[string]int, len(rooms))}
	for _, r := range rooms {
		l.Add(r)
	}
	return l
}

// Find looks up a room by its full alias.
func (l *RoomList) Find(fullAlias string) (chat.RoomSummary, bool) {
	i, ok := l.byAlias[fullAlias]
	if !ok {
		return chat.RoomSummary{}, false
	}
	return l.rooms[i], true
}

// Add appends a room, replacing any entry with the same alias.
func (l *RoomList) Add(r chat.RoomSummary) {
	if r.CanonicalAlias != "" {
		if i, ok := l.byAlias[r.CanonicalAlias]; ok {
			l.rooms[i] = r
			return
		}
		l.byAlias[r.CanonicalAlias] = len(l.rooms)
	}
	l.rooms = append(l.rooms, r)
}

// Len returns the number of rooms.
func (l *RoomList) Len() int { return len(l.rooms) }

// Rooms returns a copy of the rooms.
func (l *RoomList) Rooms() []chat.RoomSummary {
	return append([]chat.RoomSummary(nil), l.rooms...)
}

func (l *RoomList) clone() *RoomList {
	return newRoomList(l.rooms)
}

// Resolver caches alias to room ID mappings for the lifetime of the process.
// Entries are never expired; a miss falls through to the room list, which is
// refetched at most once per refresh interval.
type Resolver struct {
	backend    chat.Backend
	serverName string
	refresh    time.Duration
	now        func() time.Time
	logger     *logger.Logger

	fetchMu   sync.Mutex // serializes room list fetches
	mu        sync.Mutex
	aliases   map[string]string // full alias -> room ID
	rooms     *RoomList
	fetchedAt time.Time
}

// New creates a Resolver. refresh <= 0 selects DefaultRefreshInterval.
func New(backend chat.Backend, serverName string, refresh time.Duration) *Resolver {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return &Resolver{
		backend:    backend,
		serverName: serverName,
		refresh:    refresh,
		now:        time.Now,
		logger:     logger.NewLogger("RoomResolver"),
		aliases:    make(map[string]string),
		rooms:      newRoomList(nil),
	}
}

// ServerName returns the homeserver name used to qualify aliases.
func (r *Resolver) ServerName() string { return r.serverName }

// FullAlias qualifies an alias localpart with the resolver's server name.
func (r *Resolver) FullAlias(localpart string) string {
	return room.FullAlias(localpart, r.serverName)
}

// GetRoomIDFromPseudoAlias returns the room ID for an alias localpart. found
// is false on a total miss; err is set only when the backend listing fails.
func (r *Resolver) GetRoomIDFromPseudoAlias(ctx context.Context, localpart string) (roomID string, found bool, err error) {
	full := r.FullAlias(localpart)

	r.mu.Lock()
	if id, ok := r.aliases[full]; ok {
		r.mu.Unlock()
		return id, true, nil
	}
	r.mu.Unlock()

	list, err := r.currentList(ctx)
	if err != nil {
		return "", false, err
	}
	summary, ok := list.Find(full)
	if !ok {
		return "", false, nil
	}

	r.mu.Lock()
	r.aliases[full] = summary.RoomID
	r.mu.Unlock()
	return summary.RoomID, true, nil
}

// Resolve returns the room ID of the participant's room of type t. A miss is
// reported as room.ErrUnresolved; rooms are never created here.
func (r *Resolver) Resolve(ctx context.Context, participant string, t room.Type) (string, error) {
	alias, err := room.PseudoAlias(participant, t)
	if err != nil {
		metrics.RecordResolutionFailure(string(t))
		return "", fmt.Errorf("%w: %v", room.ErrUnresolved, err)
	}
	id, found, err := r.GetRoomIDFromPseudoAlias(ctx, alias)
	if err != nil {
		metrics.RecordResolutionFailure(string(t))
		return "", fmt.Errorf("%w: %s: %v", room.ErrUnresolved, alias, err)
	}
	if !found {
		metrics.RecordResolutionFailure(string(t))
		return "", fmt.Errorf("%w: %s", room.ErrUnresolved, alias)
	}
	return id, nil
}

// Snapshot returns a caller-owned copy of the room list, refreshing it first
// when it is older than the refresh interval.
func (r *Resolver) Snapshot(ctx context.Context) (*RoomList, error) {
	list, err := r.currentList(ctx)
	if err != nil {
		return nil, err
	}
	return list.clone(), nil
}

// currentList returns the shared list, refetching it when stale. The
// returned list must not be modified.
func (r *Resolver) currentList(ctx context.Context) (*RoomList, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	r.mu.Lock()
	if !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) < r.refresh {
		list := r.rooms
		r.mu.Unlock()
		return list, nil
	}
	r.mu.Unlock()

	rooms, err := r.backend.ListRooms(ctx, room.FullAlias("*", r.serverName))
	if err != nil {
		r.logger.Warnf("Room listing failed: %v", err)
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	metrics.RecordRoomListRefresh()
	list := newRoomList(rooms)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Rooms remembered while the fetch was in flight may not be listed yet.
	for _, existing := range r.rooms.rooms {
		if _, ok := list.Find(existing.CanonicalAlias); !ok && existing.CanonicalAlias != "" {
			if _, remembered := r.aliases[existing.CanonicalAlias]; remembered {
				list.Add(existing)
			}
		}
	}
	r.rooms = list
	r.fetchedAt = r.now()
	r.logger.Debugf("Room list refreshed: %d rooms", list.Len())
	return list, nil
}

// Remember records a room discovered or created outside the resolver.
func (r *Resolver) Remember(summary chat.RoomSummary) {
	if summary.CanonicalAlias == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[summary.CanonicalAlias] = summary.RoomID
	next := r.rooms.clone()
	next.Add(summary)
	r.rooms = next
}

// Cached returns the cached room ID for an alias localpart without touching
// the backend.
func (r *Resolver) Cached(localpart string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.aliases[r.FullAlias(localpart)]
	return id, ok
}

// Forget drops an alias from the cache, e.g. after the backend reports the
// room as gone.
func (r *Resolver) Forget(localpart string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aliases, r.FullAlias(localpart))
}

// AliasEntry is one cached alias mapping.
type AliasEntry struct {
	Alias  string `json:"alias"`
	RoomID string `json:"room_id"`
}

// CachedAliases returns the cache contents ordered by alias.
func (r *Resolver) CachedAliases() []AliasEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AliasEntry, 0, len(r.aliases))
	for alias, id := range r.aliases {
		out = append(out, AliasEntry{Alias: alias, RoomID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}
