package flow

import (
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/reference"
	"github.com/BTreeMap/ReportPipe/internal/validate"
)

// StepKind tells the renderer what kind of answer a step expects.
type StepKind string

const (
	StepKindText    StepKind = "text"
	StepKindDate    StepKind = "date"
	StepKindOptions StepKind = "options"
)

// StepSpec describes one question. A spec is shared by every pathway that
// lists its ID; pathways may only override the prompt text.
type StepSpec struct {
	ID     models.StepID
	Label  string
	Prompt string
	Kind   StepKind
	// Validate normalizes free-text and date answers. Option steps are
	// validated against their option list instead.
	Validate validate.Func
	// Options is a fixed option list.
	Options []string
	// Reference names a reference-data list used when Options is empty.
	Reference models.ReferenceKind
	// Parent scopes a reference lookup using answers already in the draft.
	Parent func(d *models.DraftRecord) string
	// Dependents are later steps whose stored answer is only valid for the
	// current value of this step (e.g. doctor depends on department).
	Dependents []models.StepID
}

// IsOptionStep reports whether the answer must be one of a list.
func (s StepSpec) IsOptionStep() bool {
	return s.Kind == StepKindOptions
}

func textStep(id models.StepID, label, prompt string, max int) StepSpec {
	return StepSpec{ID: id, Label: label, Prompt: prompt, Kind: StepKindText, Validate: validate.Text(1, max)}
}

func dateStep(id models.StepID, label, prompt string) StepSpec {
	return StepSpec{ID: id, Label: label, Prompt: prompt, Kind: StepKindDate, Validate: validate.Date}
}

func optionStep(id models.StepID, label, prompt string, options ...string) StepSpec {
	return StepSpec{ID: id, Label: label, Prompt: prompt, Kind: StepKindOptions, Options: options}
}

// defaultSteps is the catalogue every registered pathway draws from.
func defaultSteps() []StepSpec {
	return []StepSpec{
		{
			ID:       models.StepPatientName,
			Label:    "Patient name",
			Prompt:   "Enter the patient's full name.",
			Kind:     StepKindText,
			Validate: validate.PersonName,
		},
		{
			ID:         models.StepHospital,
			Label:      "Hospital",
			Prompt:     "Select the hospital.",
			Kind:       StepKindOptions,
			Reference:  models.ReferenceHospital,
			Dependents: []models.StepID{models.StepDepartment, models.StepDoctor},
		},
		{
			ID:        models.StepDepartment,
			Label:     "Department",
			Prompt:    "Select the department.",
			Kind:      StepKindOptions,
			Reference: models.ReferenceDepartment,
			Parent: func(d *models.DraftRecord) string {
				v, _ := d.Value(models.StepHospital)
				return v
			},
			Dependents: []models.StepID{models.StepDoctor},
		},
		{
			ID:        models.StepDoctor,
			Label:     "Doctor",
			Prompt:    "Select the treating doctor.",
			Kind:      StepKindOptions,
			Reference: models.ReferenceDoctor,
			Parent: func(d *models.DraftRecord) string {
				h, _ := d.Value(models.StepHospital)
				dep, _ := d.Value(models.StepDepartment)
				return reference.DoctorParent(h, dep)
			},
		},
		textStep(models.StepComplaint, "Complaint", "What is the patient's main complaint?", validate.MaxLongText),
		textStep(models.StepDiagnosis, "Diagnosis", "Enter the diagnosis.", validate.MaxLongText),
		textStep(models.StepDecision, "Medical decision", "Enter the doctor's decision.", validate.MaxLongText),
		textStep(models.StepTests, "Requested tests", "List the requested tests and scans (or write \"none\").", validate.MaxLongText),
		{
			ID:       models.StepRoomNumber,
			Label:    "Room number",
			Prompt:   "Enter the ward/room number.",
			Kind:     StepKindText,
			Validate: validate.RoomNumber,
		},
		dateStep(models.StepFollowupDate, "Follow-up date", "Enter the follow-up date (e.g. 14/03/2025)."),
		TranslatorStep(models.StepTranslator),
		optionStep(models.StepEmergencyStatus, "Emergency outcome", "What happened after the emergency visit?",
			"Discharged", "Admitted", "Referred"),
		textStep(models.StepAdmissionReason, "Admission reason", "Why was the patient admitted?", validate.MaxLongText),
		textStep(models.StepNotes, "Notes", "Any notes for this report?", validate.MaxLongText),
		textStep(models.StepOperationName, "Operation", "Enter the name of the operation.", validate.MaxShortText),
		textStep(models.StepOperationDetails, "Operation details", "Describe the operation.", validate.MaxLongText),
		optionStep(models.StepDischargeType, "Discharge type", "Select the discharge type.",
			"Recovered", "Transferred", "Against medical advice"),
		textStep(models.StepAdmissionSummary, "Admission summary", "Summarize the admission.", validate.MaxLongText),
		optionStep(models.StepTherapyType, "Therapy type", "Select the rehabilitation type.",
			"Physiotherapy", "Prosthetic device", "Occupational therapy"),
		textStep(models.StepTherapyDetails, "Therapy details", "Describe the therapy plan.", validate.MaxLongText),
		{
			ID:       models.StepSuccessRate,
			Label:    "Success rate",
			Prompt:   "Expected success rate of the operation (0-100).",
			Kind:     StepKindText,
			Validate: validate.Percent,
		},
		textStep(models.StepRecommendations, "Recommendations", "Enter the final recommendations.", validate.MaxLongText),
		optionStep(models.StepRadiologyType, "Radiology type", "Select the imaging type.",
			"X-ray", "CT", "MRI", "Ultrasound"),
		dateStep(models.StepDeliveryDate, "Results delivery date", "When will the imaging results be delivered?"),
		textStep(models.StepRescheduleReason, "Reschedule reason", "Why is the appointment being rescheduled?", validate.MaxShortText),
		textStep(models.StepTestNames, "Tests", "List the lab tests performed.", validate.MaxLongText),
		dateStep(models.StepResultsDate, "Results date", "When will the lab results be ready?"),
		textStep(models.StepDeviceName, "Device", "Which device was delivered?", validate.MaxShortText),
	}
}
