// Package room defines the chat room hierarchy the bridge maintains for each
// monitored component and derives the pseudo-aliases that identify those
// rooms before their backend IDs are known.
package room

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xiaonanln/oambridge/model"
)

// ErrUnresolved is returned when a destination room can neither be found nor
// created.
var ErrUnresolved = errors.New("room unresolved")

// Type identifies one kind of OAM room or space.
type Type string

const (
	SubsystemSpace         Type = "subsystem"
	SubsystemEvents        Type = "subsystem-events"
	SubsystemMetrics       Type = "subsystem-metrics"
	SubsystemSubscriptions Type = "subsystem-subscriptions"
	SubsystemTasks         Type = "subsystem-tasks"

	WorkshopSpace   Type = "workshop"
	WorkshopEvents  Type = "workshop-events"
	WorkshopMetrics Type = "workshop-metrics"

	WUPSpace   Type = "wup"
	WUPEvents  Type = "wup-events"
	WUPMetrics Type = "wup-metrics"
	WUPTasks   Type = "wup-tasks"

	EndpointSpace   Type = "endpoint"
	EndpointEvents  Type = "endpoint-events"
	EndpointMetrics Type = "endpoint-metrics"
	EndpointTasks   Type = "endpoint-tasks"
)

// Info describes how rooms of a Type are named and created. Every prefix is
// the type name followed by '.', which no normalized participant name
// contains, so aliases of different types or participants never collide.
type Info struct {
	Prefix string // alias localpart prefix
	Suffix string // appended to the display name
	Topic  string
	Space  bool
}

var table = map[Type]Info{
	SubsystemSpace:         {Prefix: "subsystem.", Topic: "Subsystem", Space: true},
	SubsystemEvents:        {Prefix: "subsystem-events.", Suffix: "Events", Topic: "Subsystem events"},
	SubsystemMetrics:       {Prefix: "subsystem-metrics.", Suffix: "Metrics", Topic: "Subsystem metrics"},
	SubsystemSubscriptions: {Prefix: "subsystem-subscriptions.", Suffix: "Subscriptions", Topic: "Subsystem subscriptions"},
	SubsystemTasks:         {Prefix: "subsystem-tasks.", Suffix: "Tasks", Topic: "Subsystem tasks"},

	WorkshopSpace:   {Prefix: "workshop.", Topic: "Workshop", Space: true},
	WorkshopEvents:  {Prefix: "workshop-events.", Suffix: "Events", Topic: "Workshop events"},
	WorkshopMetrics: {Prefix: "workshop-metrics.", Suffix: "Metrics", Topic: "Workshop metrics"},

	WUPSpace:   {Prefix: "wup.", Topic: "Work unit processor", Space: true},
	WUPEvents:  {Prefix: "wup-events.", Suffix: "Events", Topic: "WUP events"},
	WUPMetrics: {Prefix: "wup-metrics.", Suffix: "Metrics", Topic: "WUP metrics"},
	WUPTasks:   {Prefix: "wup-tasks.", Suffix: "Tasks", Topic: "WUP tasks"},

	EndpointSpace:   {Prefix: "endpoint.", Topic: "Endpoint", Space: true},
	EndpointEvents:  {Prefix: "endpoint-events.", Suffix: "Events", Topic: "Endpoint events"},
	EndpointMetrics: {Prefix: "endpoint-metrics.", Suffix: "Metrics", Topic: "Endpoint metrics"},
	EndpointTasks:   {Prefix: "endpoint-tasks.", Suffix: "Tasks", Topic: "Endpoint tasks"},
}

// Types returns every known room type.
func Types() []Type {
	out := make([]Type, 0, len(table))
	for t := range table {
		out = append(out, t)
	}
	return out
}

// Info returns the naming info for t.
func (t Type) Info() (Info, bool) {
	info, ok := table[t]
	return info, ok
}

// IsSpace reports whether rooms of this type are spaces.
func (t Type) IsSpace() bool {
	return table[t].Space
}

// Level is one tier of the space hierarchy.
type Level struct {
	Space    Type
	SubRooms []Type
}

var (
	SubsystemLevel = Level{Space: SubsystemSpace, SubRooms: []Type{SubsystemEvents, SubsystemMetrics, SubsystemSubscriptions, SubsystemTasks}}
	WorkshopLevel  = Level{Space: WorkshopSpace, SubRooms: []Type{WorkshopEvents, WorkshopMetrics}}
	WUPLevel       = Level{Space: WUPSpace, SubRooms: []Type{WUPEvents, WUPMetrics, WUPTasks}}
	EndpointLevel  = Level{Space: EndpointSpace, SubRooms: []Type{EndpointEvents, EndpointMetrics, EndpointTasks}}
)

// LevelFor maps a component type to its tier. Processing plants share the
// subsystem tier; WUP components share the WUP tier.
func LevelFor(ct model.ComponentType) (Level, bool) {
	switch ct {
	case model.ComponentSubsystem, model.ComponentProcessingPlant:
		return SubsystemLevel, true
	case model.ComponentWorkshop:
		return WorkshopLevel, true
	case model.ComponentWUP, model.ComponentWUPComponent:
		return WUPLevel, true
	case model.ComponentEndpoint:
		return EndpointLevel, true
	}
	return Level{}, false
}

// Category selects a sub-room within a tier.
type Category string

const (
	CategoryEvents        Category = "events"
	CategoryMetrics       Category = "metrics"
	CategoryTasks         Category = "tasks"
	CategorySubscriptions Category = "subscriptions"
)

// RoomFor returns the room type holding the given category for a component
// type. ok is false when that tier has no such room.
func RoomFor(ct model.ComponentType, category Category) (Type, bool) {
	level, ok := LevelFor(ct)
	if !ok {
		return "", false
	}
	want := string(level.Space) + "-" + string(category)
	for _, t := range level.SubRooms {
		if string(t) == want {
			return t, true
		}
	}
	return "", false
}

// NormalizeParticipantName lower-cases name and replaces dots with '-'.
// Letters, digits and '_' are kept; every other byte, '-' included, is
// written as '=' followed by two hex digits, so distinct names other than
// by case or surrounding whitespace never share a result. The result never
// contains '.' or a path.Match metacharacter.
func NormalizeParticipantName(name string) string {
	var b strings.Builder
	name = strings.TrimSpace(name)
	b.Grow(len(name))
	for _, r := range name {
		r = unicode.ToLower(r)
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.':
			b.WriteByte('-')
		default:
			var buf [utf8.UTFMax]byte
			for _, c := range buf[:utf8.EncodeRune(buf[:], r)] {
				fmt.Fprintf(&b, "=%02x", c)
			}
		}
	}
	return b.String()
}

// PseudoAlias returns the alias localpart for the participant's room of type t.
func PseudoAlias(participant string, t Type) (string, error) {
	info, ok := table[t]
	if !ok {
		return "", fmt.Errorf("unknown room type %q", t)
	}
	normalized := NormalizeParticipantName(participant)
	if normalized == "" {
		return "", fmt.Errorf("empty participant name for room type %q", t)
	}
	return info.Prefix + normalized, nil
}

// FullAlias qualifies an alias localpart with the homeserver name.
func FullAlias(localpart, serverName string) string {
	return "#" + localpart + ":" + serverName
}

// DisplayName returns the human-readable room name for the participant.
func DisplayName(displayName string, t Type) string {
	info := table[t]
	if info.Suffix == "" {
		return displayName
	}
	return displayName + " " + info.Suffix
}
