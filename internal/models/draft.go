package models

import (
	"strings"
	"time"
)

// DraftRecord is the in-progress report owned by exactly one conversation.
// Fields only ever holds answered steps; absence of a key means the step has
// not been answered yet.
type DraftRecord struct {
	ConversationID string            `json:"conversation_id"`
	PathwayID      PathwayID         `json:"pathway_id,omitempty"`
	CurrentStep    StepID            `json:"current_step"`
	Mode           DraftMode         `json:"mode"`
	MedicalAction  string            `json:"medical_action,omitempty"`
	ReportID       string            `json:"report_id,omitempty"`
	Fields         map[StepID]string `json:"fields"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewDraftRecord creates an empty draft for a conversation.
func NewDraftRecord(conversationID string) *DraftRecord {
	now := time.Now()
	return &DraftRecord{
		ConversationID: conversationID,
		CurrentStep:    StatePathwaySelect,
		Mode:           DraftModeForward,
		Fields:         make(map[StepID]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Has reports whether the field has been answered.
func (d *DraftRecord) Has(step StepID) bool {
	if d == nil || d.Fields == nil {
		return false
	}
	_, ok := d.Fields[step]
	return ok
}

// Value returns the stored answer for step.
func (d *DraftRecord) Value(step StepID) (string, bool) {
	if d == nil || d.Fields == nil {
		return "", false
	}
	v, ok := d.Fields[step]
	return v, ok
}

// Set writes an answer and bumps UpdatedAt.
func (d *DraftRecord) Set(step StepID, value string) {
	if d.Fields == nil {
		d.Fields = make(map[StepID]string)
	}
	d.Fields[step] = value
	d.UpdatedAt = time.Now()
}

// FieldMap returns a copy of the answered fields keyed by plain strings, the
// shape handed to storage and broadcast.
func (d *DraftRecord) FieldMap() map[string]string {
	out := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		out[string(k)] = v
	}
	return out
}

// ToFlowState converts the draft into its persisted representation.
func (d *DraftRecord) ToFlowState() FlowState {
	data := make(map[string]string, len(d.Fields)+4)
	for k, v := range d.Fields {
		data[string(k)] = v
	}
	if d.PathwayID != "" {
		data[string(DataKeyPathway)] = string(d.PathwayID)
	}
	if d.Mode != "" {
		data[string(DataKeyMode)] = string(d.Mode)
	}
	if d.MedicalAction != "" {
		data[string(DataKeyMedicalAction)] = d.MedicalAction
	}
	if d.ReportID != "" {
		data[string(DataKeyReportID)] = d.ReportID
	}
	return FlowState{
		ParticipantID: d.ConversationID,
		FlowType:      string(FlowTypeReport),
		CurrentState:  string(d.CurrentStep),
		StateData:     data,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// DraftFromFlowState rebuilds a draft from its persisted representation.
// Missing control keys are left empty so the pathway resolver can infer them.
func DraftFromFlowState(fs FlowState) *DraftRecord {
	d := &DraftRecord{
		ConversationID: fs.ParticipantID,
		CurrentStep:    StepID(fs.CurrentState),
		Mode:           DraftModeForward,
		Fields:         make(map[StepID]string),
		CreatedAt:      fs.CreatedAt,
		UpdatedAt:      fs.UpdatedAt,
	}
	for k, v := range fs.StateData {
		switch DataKey(k) {
		case DataKeyPathway:
			d.PathwayID = PathwayID(v)
		case DataKeyMode:
			d.Mode = DraftMode(v)
		case DataKeyMedicalAction:
			d.MedicalAction = v
		case DataKeyReportID:
			d.ReportID = v
		default:
			if strings.HasPrefix(k, ReservedKeyPrefix) {
				continue
			}
			d.Fields[StepID(k)] = v
		}
	}
	if d.CurrentStep == "" {
		d.CurrentStep = StatePathwaySelect
	}
	return d
}
