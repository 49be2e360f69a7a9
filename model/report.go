package model

import (
	"fmt"
	"time"
)

// NotificationType is the severity of a notification or the outcome of a task.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationFailure NotificationType = "failure"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	return t == NotificationSuccess || t == NotificationFailure
}

// Notification is a unit of operator-facing text emitted by a component.
type Notification struct {
	ParticipantName  string           `json:"participant_name"`
	ComponentID      string           `json:"component_id"`
	ComponentType    ComponentType    `json:"component_type"`
	Type             NotificationType `json:"type"`
	Title            string           `json:"title,omitempty"`
	Content          string           `json:"content"`
	FormattedContent string           `json:"formatted_content,omitempty"`
	Instant          time.Time        `json:"instant"`

	// Escalated is set once the notification has been handed to the
	// escalation channel so retries do not escalate it again.
	Escalated bool `json:"-"`
}

// Validate checks the fields required to route a notification.
func (n Notification) Validate() error {
	if n.ParticipantName == "" {
		return fmt.Errorf("notification: participant name is required")
	}
	if !n.ComponentType.Valid() {
		return fmt.Errorf("notification: unknown component type %q", n.ComponentType)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("notification: unknown type %q", n.Type)
	}
	return nil
}

// TaskReport describes the outcome of a task executed by a component.
type TaskReport struct {
	TaskID           string           `json:"task_id"`
	ParticipantName  string           `json:"participant_name"`
	ComponentID      string           `json:"component_id"`
	ComponentType    ComponentType    `json:"component_type"`
	Outcome          NotificationType `json:"outcome"`
	Content          string           `json:"content"`
	FormattedContent string           `json:"formatted_content,omitempty"`
	Instant          time.Time        `json:"instant"`
}

// Validate checks the fields required to route a task report.
func (r TaskReport) Validate() error {
	if r.ParticipantName == "" {
		return fmt.Errorf("task report: participant name is required")
	}
	if !r.ComponentType.Valid() {
		return fmt.Errorf("task report: unknown component type %q", r.ComponentType)
	}
	if r.Outcome != "" && !r.Outcome.Valid() {
		return fmt.Errorf("task report: unknown outcome %q", r.Outcome)
	}
	return nil
}
