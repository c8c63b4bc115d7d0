package models

import "github.com/biotracer/agent/internal/events"

// EventBatch is one submission of buffered events to the service.
type EventBatch struct {
	RunName string         `json:"run_name,omitempty"`
	Events  []events.Event `json:"logs"`
}
