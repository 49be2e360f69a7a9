// Package chattest provides an in-memory chat.Backend for tests.
package chattest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/xiaonanln/oambridge/chat"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("chattest: injected failure")

// Message is a message recorded by PostMessage.
type Message struct {
	RoomID   string
	SenderID string
	Body     chat.MessageBody
}

// Backend is a concurrency-safe in-memory chat backend.
type Backend struct {
	ServerName string

	mu        sync.Mutex
	rooms     map[string]chat.RoomSummary
	children  map[string][]string
	parents   map[string]string
	messages  []Message
	nextID    int
	listCalls int

	failList   bool
	failCreate bool
	failAdd    bool
	failPost   map[string]bool // room ID -> fail
	failAll    bool
}

// New creates an empty backend for serverName.
func New(serverName string) *Backend {
	return &Backend{
		ServerName: serverName,
		rooms:      make(map[string]chat.RoomSummary),
		children:   make(map[string][]string),
		parents:    make(map[string]string),
		failPost:   make(map[string]bool),
	}
}

// FailList makes ListRooms fail while set.
func (b *Backend) FailList(fail bool) { b.mu.Lock(); b.failList = fail; b.mu.Unlock() }

// FailCreate makes CreateRoom fail while set.
func (b *Backend) FailCreate(fail bool) { b.mu.Lock(); b.failCreate = fail; b.mu.Unlock() }

// FailAddChild makes AddChild fail while set.
func (b *Backend) FailAddChild(fail bool) { b.mu.Lock(); b.failAdd = fail; b.mu.Unlock() }

// FailPosts makes every PostMessage fail while set.
func (b *Backend) FailPosts(fail bool) { b.mu.Lock(); b.failAll = fail; b.mu.Unlock() }

// FailPostsTo makes PostMessage to roomID fail while set.
func (b *Backend) FailPostsTo(roomID string, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPost[roomID] = fail
}

// Seed adds an existing room without going through CreateRoom.
func (b *Backend) Seed(aliasLocal string, space bool) chat.RoomSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(aliasLocal, aliasLocal, space)
}

func (b *Backend) addLocked(name, aliasLocal string, space bool) chat.RoomSummary {
	b.nextID++
	summary := chat.RoomSummary{
		RoomID: fmt.Sprintf("!room%d:%s", b.nextID, b.ServerName),
		Name:   name,
		Space:  space,
	}
	if aliasLocal != "" {
		summary.CanonicalAlias = "#" + aliasLocal + ":" + b.ServerName
	}
	b.rooms[summary.RoomID] = summary
	return summary
}

func (b *Backend) ListRooms(ctx context.Context, aliasGlob string) ([]chat.RoomSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.failList {
		return nil, ErrInjected
	}
	var out []chat.RoomSummary
	for _, r := range b.rooms {
		if aliasGlob == "" {
			out = append(out, r)
			continue
		}
		if ok, _ := path.Match(aliasGlob, r.CanonicalAlias); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (b *Backend) CreateRoom(ctx context.Context, req chat.CreateRoomRequest) (chat.RoomSummary, error) {
	if err := ctx.Err(); err != nil {
		return chat.RoomSummary{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCreate {
		return chat.RoomSummary{}, ErrInjected
	}
	full := "#" + req.AliasName + ":" + b.ServerName
	for _, r := range b.rooms {
		if req.AliasName != "" && r.CanonicalAlias == full {
			return chat.RoomSummary{}, fmt.Errorf("chattest: alias %s already in use", full)
		}
	}
	summary := b.addLocked(req.Name, req.AliasName, req.Space)
	if req.ParentID != "" {
		b.parents[summary.RoomID] = req.ParentID
	}
	return summary, nil
}

func (b *Backend) AddChild(ctx context.Context, spaceID, childID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAdd {
		return ErrInjected
	}
	if _, ok := b.rooms[spaceID]; !ok {
		return fmt.Errorf("chattest: unknown space %s", spaceID)
	}
	for _, c := range b.children[spaceID] {
		if c == childID {
			return nil
		}
	}
	b.children[spaceID] = append(b.children[spaceID], childID)
	return nil
}

func (b *Backend) PostMessage(ctx context.Context, roomID, senderID string, body chat.MessageBody) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAll || b.failPost[roomID] {
		return ErrInjected
	}
	if _, ok := b.rooms[roomID]; !ok {
		return fmt.Errorf("chattest: unknown room %s", roomID)
	}
	b.messages = append(b.messages, Message{RoomID: roomID, SenderID: senderID, Body: body})
	return nil
}

// Rooms returns every room sorted by ID.
func (b *Backend) Rooms() []chat.RoomSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]chat.RoomSummary, 0, len(b.rooms))
	for _, r := range b.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// RoomByAlias returns the room with the given alias localpart.
func (b *Backend) RoomByAlias(aliasLocal string) (chat.RoomSummary, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	full := "#" + aliasLocal + ":" + b.ServerName
	for _, r := range b.rooms {
		if r.CanonicalAlias == full {
			return r, true
		}
	}
	return chat.RoomSummary{}, false
}

// Children returns the child room IDs of a space.
func (b *Backend) Children(spaceID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.children[spaceID]...)
}

// Parent returns the space a room was created under.
func (b *Backend) Parent(roomID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parents[roomID]
}

// Messages returns every posted message in order.
func (b *Backend) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// MessagesIn returns the messages posted to roomID.
func (b *Backend) MessagesIn(roomID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}

// ListCalls returns how many times ListRooms was called.
func (b *Backend) ListCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

var _ chat.Backend = (*Backend)(nil)
