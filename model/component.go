// Package model holds the telemetry types exchanged between platform
// components and the bridge: topology summaries, metric sets, notifications,
// task reports and subscription summaries.
package model

import (
	"fmt"
)

// ComponentType tags the kind of platform component a summary or report describes.
type ComponentType string

const (
	ComponentSubsystem       ComponentType = "subsystem"
	ComponentProcessingPlant ComponentType = "processing-plant"
	ComponentWorkshop        ComponentType = "workshop"
	ComponentWUP             ComponentType = "wup"
	ComponentWUPComponent    ComponentType = "wup-component"
	ComponentEndpoint        ComponentType = "endpoint"
)

// Valid reports whether t is one of the known component types.
func (t ComponentType) Valid() bool {
	switch t {
	case ComponentSubsystem, ComponentProcessingPlant, ComponentWorkshop,
		ComponentWUP, ComponentWUPComponent, ComponentEndpoint:
		return true
	}
	return false
}

// ComponentSummary describes one node of a processing plant's topology tree.
// A processing plant owns workshops, workshops own WUPs and WUPs own endpoints.
type ComponentSummary struct {
	ComponentID     string             `json:"component_id"`
	ParticipantName string             `json:"participant_name"`
	DisplayName     string             `json:"display_name"`
	ComponentType   ComponentType      `json:"component_type"`
	Children        []ComponentSummary `json:"children,omitempty"`
}

// Clone returns a deep copy of the summary and its subtree.
func (c ComponentSummary) Clone() ComponentSummary {
	out := c
	if c.Children != nil {
		out.Children = make([]ComponentSummary, len(c.Children))
		for i, child := range c.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

// Walk visits the summary and every descendant depth-first. parent is nil for
// the root. Returning false from fn stops the walk below that node.
func (c *ComponentSummary) Walk(fn func(node *ComponentSummary, parent *ComponentSummary) bool) {
	c.walk(nil, fn)
}

func (c *ComponentSummary) walk(parent *ComponentSummary, fn func(node *ComponentSummary, parent *ComponentSummary) bool) {
	if !fn(c, parent) {
		return
	}
	for i := range c.Children {
		c.Children[i].walk(c, fn)
	}
}

// Name returns the display name, falling back to the participant name.
func (c ComponentSummary) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ParticipantName
}

var allowedChildren = map[ComponentType][]ComponentType{
	ComponentProcessingPlant: {ComponentWorkshop},
	ComponentWorkshop:        {ComponentWUP},
	ComponentWUP:             {ComponentEndpoint, ComponentWUPComponent},
}

// Validate checks identifiers and parent/child typing for the whole subtree.
func (c ComponentSummary) Validate() error {
	if c.ComponentID == "" {
		return fmt.Errorf("component id is required")
	}
	if c.ParticipantName == "" {
		return fmt.Errorf("component %s: participant name is required", c.ComponentID)
	}
	if !c.ComponentType.Valid() {
		return fmt.Errorf("component %s: unknown component type %q", c.ComponentID, c.ComponentType)
	}
	for _, child := range c.Children {
		if !childAllowed(c.ComponentType, child.ComponentType) {
			return fmt.Errorf("component %s: a %s cannot own a %s", c.ComponentID, c.ComponentType, child.ComponentType)
		}
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func childAllowed(parent, child ComponentType) bool {
	for _, t := range allowedChildren[parent] {
		if t == child {
			return true
		}
	}
	return false
}

// Count returns the number of nodes in the subtree, the root included.
func (c ComponentSummary) Count() int {
	n := 1
	for _, child := range c.Children {
		n += child.Count()
	}
	return n
}
