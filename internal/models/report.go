package models

import "time"

// Report is a finalized draft as handed to storage.
type Report struct {
	ID             string            `json:"id"`
	PathwayID      PathwayID         `json:"pathway_id"`
	ConversationID string            `json:"conversation_id"`
	Fields         map[string]string `json:"fields"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ReferenceKind names a reference-data list.
type ReferenceKind string

// Reference kinds.
const (
	ReferenceHospital   ReferenceKind = "hospital"
	ReferenceDepartment ReferenceKind = "department"
	ReferenceDoctor     ReferenceKind = "doctor"
	ReferenceTranslator ReferenceKind = "translator"
)

// IsValidReferenceKind checks if the given reference kind is supported.
func IsValidReferenceKind(k ReferenceKind) bool {
	switch k {
	case ReferenceHospital, ReferenceDepartment, ReferenceDoctor, ReferenceTranslator:
		return true
	default:
		return false
	}
}

// ReferenceOption is one selectable value of a reference list. Parent scopes
// the option: departments belong to a hospital, doctors to a hospital and
// department pair (see reference.DoctorParent).
type ReferenceOption struct {
	Kind   ReferenceKind `json:"kind"`
	Name   string        `json:"name"`
	Parent string        `json:"parent,omitempty"`
}
