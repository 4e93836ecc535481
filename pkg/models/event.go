package models

import "time"

// EventType names a governance event published to external observers.
type EventType string

const (
	EventUsageCommitted      EventType = "usage_committed"
	EventCircuitStateChanged EventType = "circuit_state_changed"
	EventRequestFailed       EventType = "request_failed"
)

// Event is a governance event for external observability collaborators.
type Event struct {
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id"`
	Model     string         `json:"model,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
