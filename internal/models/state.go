// Package models defines state management structures for ReportPipe flows.
package models

import "time"

// FlowState is the persisted form of a conversation's flow state. Draft
// records are stored as FlowState rows of FlowTypeReport.
type FlowState struct {
	ParticipantID string            `json:"participant_id"`
	FlowType      string            `json:"flow_type"`
	CurrentState  string            `json:"current_state"`
	StateData     map[string]string `json:"state_data,omitempty"` // fields plus reserved control keys
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
