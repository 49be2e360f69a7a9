package model

import (
	"fmt"
	"time"
)

// SubscriptionEntry is one publisher/subscriber relationship seen from a participant.
type SubscriptionEntry struct {
	Counterpart string    `json:"counterpart"`
	Topic       string    `json:"topic"`
	Since       time.Time `json:"since,omitempty"`
}

// SubscriptionSummary lists a participant's relationships as publisher and as subscriber.
type SubscriptionSummary struct {
	ParticipantName string              `json:"participant_name"`
	ComponentID     string              `json:"component_id,omitempty"`
	AsPublisher     []SubscriptionEntry `json:"as_publisher,omitempty"`
	AsSubscriber    []SubscriptionEntry `json:"as_subscriber,omitempty"`
	ReportedAt      time.Time           `json:"reported_at"`
}

// Validate checks the participant name.
func (s SubscriptionSummary) Validate() error {
	if s.ParticipantName == "" {
		return fmt.Errorf("subscription summary: participant name is required")
	}
	return nil
}

// Clone returns a copy with its own entry slices.
func (s SubscriptionSummary) Clone() SubscriptionSummary {
	out := s
	out.AsPublisher = append([]SubscriptionEntry(nil), s.AsPublisher...)
	out.AsSubscriber = append([]SubscriptionEntry(nil), s.AsSubscriber...)
	return out
}
