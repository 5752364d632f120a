// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific type of conversation flow
type FlowType string

// PathwayID identifies one of the fixed report-collection pathways.
type PathwayID string

// StepID identifies a question within a pathway. By convention it is also the
// field key the answer is stored under, so several pathways may share a StepID.
type StepID string

// DataKey represents a key for storing control data next to draft fields
type DataKey string

// DraftMode tells the executor whether a submit advances the normal chain or
// returns to the confirmation screen.
type DraftMode string

// Flow type constants.
const (
	FlowTypeReport FlowType = "report"
)

// Meta-states and navigation sentinels. They never collide with field keys
// because field keys are lower-case.
const (
	StatePathwaySelect StepID = "PATHWAY_SELECT"
	StateConfirm       StepID = "CONFIRM"
	// StepExit is returned by navigation when "back" leaves the pathway.
	StepExit StepID = "EXIT"
)

// Draft modes.
const (
	DraftModeForward DraftMode = "forward"
	DraftModeEdit    DraftMode = "edit"
)

// Reserved state data keys. Field keys may never start with ReservedKeyPrefix.
const (
	ReservedKeyPrefix = "_"

	DataKeyPathway       DataKey = "_pathway"
	DataKeyMode          DataKey = "_mode"
	DataKeyMedicalAction DataKey = "_medical_action"
	DataKeyReportID      DataKey = "_report_id"
)

// Pathway identifiers.
const (
	PathwayNewConsult            PathwayID = "new_consult"
	PathwayFollowup              PathwayID = "followup"
	PathwayPeriodicFollowup      PathwayID = "periodic_followup"
	PathwayEmergency             PathwayID = "emergency"
	PathwayAdmission             PathwayID = "admission"
	PathwayOperation             PathwayID = "operation"
	PathwayDischarge             PathwayID = "discharge"
	PathwayRehabilitation        PathwayID = "rehabilitation"
	PathwaySurgeryConsult        PathwayID = "surgery_consult"
	PathwayFinalConsult          PathwayID = "final_consult"
	PathwayRadiology             PathwayID = "radiology"
	PathwayAppointmentReschedule PathwayID = "appointment_reschedule"
	PathwayLabTests              PathwayID = "lab_tests"
	PathwayDeviceDelivery        PathwayID = "device_delivery"
)

// Step identifiers (field keys).
const (
	StepPatientName      StepID = "patient_name"
	StepHospital         StepID = "hospital"
	StepDepartment       StepID = "department"
	StepDoctor           StepID = "doctor"
	StepComplaint        StepID = "complaint"
	StepDiagnosis        StepID = "diagnosis"
	StepDecision         StepID = "decision"
	StepTests            StepID = "tests"
	StepRoomNumber       StepID = "room_number"
	StepFollowupDate     StepID = "followup_date"
	StepTranslator       StepID = "translator"
	StepEmergencyStatus  StepID = "emergency_status"
	StepAdmissionReason  StepID = "admission_reason"
	StepNotes            StepID = "notes"
	StepOperationName    StepID = "operation_name"
	StepOperationDetails StepID = "operation_details"
	StepDischargeType    StepID = "discharge_type"
	StepAdmissionSummary StepID = "admission_summary"
	StepTherapyType      StepID = "therapy_type"
	StepTherapyDetails   StepID = "therapy_details"
	StepSuccessRate      StepID = "success_rate"
	StepRecommendations  StepID = "recommendations"
	StepRadiologyType    StepID = "radiology_type"
	StepDeliveryDate     StepID = "delivery_date"
	StepRescheduleReason StepID = "reschedule_reason"
	StepTestNames        StepID = "test_names"
	StepResultsDate      StepID = "results_date"
	StepDeviceName       StepID = "device_name"
)

// IsMetaState reports whether s is a meta-state rather than a data step.
func (s StepID) IsMetaState() bool {
	return s == StatePathwaySelect || s == StateConfirm || s == StepExit
}
