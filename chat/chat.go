// Package chat defines the operations the bridge needs from a room-based
// chat backend.
package chat

import (
	"context"
	"fmt"
)

// MessageBody is a plain-text message with an optional HTML rendering.
type MessageBody struct {
	Plain     string
	Formatted string
}

// Empty reports whether the body carries no text.
func (b MessageBody) Empty() bool {
	return b.Plain == "" && b.Formatted == ""
}

// RoomSummary is one entry of a room listing.
type RoomSummary struct {
	RoomID         string
	Name           string
	CanonicalAlias string // full alias, "#local:server"
	Space          bool
}

// CreateRoomRequest describes a room or space to create.
type CreateRoomRequest struct {
	Name      string
	AliasName string // alias localpart
	Topic     string
	ParentID  string // owning space, empty for a top-level space
	Preset    string
	Space     bool
}

// Backend is the set of chat operations used by the resolver, provisioner and
// forwarders. Implementations must honour ctx deadlines.
type Backend interface {
	// ListRooms returns rooms whose canonical alias matches aliasGlob.
	ListRooms(ctx context.Context, aliasGlob string) ([]RoomSummary, error)
	CreateRoom(ctx context.Context, req CreateRoomRequest) (RoomSummary, error)
	AddChild(ctx context.Context, spaceID, childID string) error
	PostMessage(ctx context.Context, roomID, senderID string, body MessageBody) error
}

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Operation  string
	StatusCode int
	ErrCode    string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Operation, e.StatusCode, e.ErrCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
}

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
