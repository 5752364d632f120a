package flow

import "github.com/BTreeMap/ReportPipe/internal/models"

// DefaultRegistry holds the built-in pathways.
var DefaultRegistry = NewRegistry(defaultSteps()...)

// intro is shared by every pathway.
var intro = []models.StepID{
	models.StepPatientName,
	models.StepHospital,
	models.StepDepartment,
	models.StepDoctor,
}

func withIntro(steps ...models.StepID) []models.StepID {
	out := make([]models.StepID, 0, len(intro)+len(steps))
	out = append(out, intro...)
	return append(out, steps...)
}

func builtinPathways() []Pathway {
	return []Pathway{
		{
			ID:      models.PathwayNewConsult,
			Label:   "New consultation",
			Aliases: []string{"consultation", "new consult", "استشارة جديدة", "كشف جديد"},
			Steps: withIntro(models.StepComplaint, models.StepDiagnosis, models.StepDecision,
				models.StepTests, models.StepFollowupDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayFollowup,
			Label:   "Follow-up during admission",
			Aliases: []string{"inpatient follow-up", "admission follow-up", "متابعة في الرقود", "متابعة"},
			Steps: withIntro(models.StepComplaint, models.StepDiagnosis, models.StepDecision,
				models.StepRoomNumber, models.StepFollowupDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayPeriodicFollowup,
			Label:   "Periodic follow-up review",
			Aliases: []string{"periodic review", "routine follow-up", "مراجعة دورية"},
			Steps: withIntro(models.StepComplaint, models.StepDiagnosis, models.StepDecision,
				models.StepFollowupDate, models.StepTranslator),
			Prompts: map[models.StepID]string{
				models.StepComplaint: "What does the patient report since the last review?",
			},
		},
		{
			ID:      models.PathwayEmergency,
			Label:   "Emergency",
			Aliases: []string{"er", "emergency visit", "طوارئ", "اسعاف"},
			Steps: withIntro(models.StepComplaint, models.StepDiagnosis, models.StepDecision,
				models.StepEmergencyStatus, models.StepTranslator),
		},
		{
			ID:      models.PathwayAdmission,
			Label:   "Admission",
			Aliases: []string{"inpatient admission", "رقود", "ترقيد"},
			Steps: withIntro(models.StepAdmissionReason, models.StepRoomNumber, models.StepNotes,
				models.StepFollowupDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayOperation,
			Label:   "Operation",
			Aliases: []string{"surgery", "عملية", "عملية جراحية"},
			Steps: withIntro(models.StepOperationName, models.StepOperationDetails, models.StepNotes,
				models.StepFollowupDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayDischarge,
			Label:   "Discharge",
			Aliases: []string{"خروج", "خروج من المستشفى"},
			Steps: withIntro(models.StepDischargeType, models.StepAdmissionSummary, models.StepNotes,
				models.StepFollowupDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayRehabilitation,
			Label:   "Rehabilitation",
			Aliases: []string{"physiotherapy", "rehab", "علاج طبيعي", "تأهيل"},
			Steps: withIntro(models.StepTherapyType, models.StepTherapyDetails,
				models.StepFollowupDate, models.StepTranslator),
		},
		{
			ID:      models.PathwaySurgeryConsult,
			Label:   "Surgical consultation",
			Aliases: []string{"surgery consult", "استشارة جراحية", "استشارة عملية"},
			Steps: withIntro(models.StepDiagnosis, models.StepDecision, models.StepOperationName,
				models.StepSuccessRate, models.StepTests, models.StepFollowupDate, models.StepTranslator),
			Prompts: map[models.StepID]string{
				models.StepOperationName: "Which operation is proposed?",
			},
		},
		{
			ID:      models.PathwayFinalConsult,
			Label:   "Final consultation",
			Aliases: []string{"final consult", "استشارة أخيرة", "استشارة نهائية"},
			Steps: withIntro(models.StepDiagnosis, models.StepDecision, models.StepRecommendations,
				models.StepTranslator),
		},
		{
			ID:      models.PathwayRadiology,
			Label:   "Radiology",
			Aliases: []string{"imaging", "أشعة", "اشعة"},
			Steps:   withIntro(models.StepRadiologyType, models.StepDeliveryDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayAppointmentReschedule,
			Label:   "Appointment reschedule",
			Aliases: []string{"reschedule", "تأجيل موعد", "تغيير موعد"},
			Steps:   withIntro(models.StepRescheduleReason, models.StepFollowupDate, models.StepTranslator),
			Prompts: map[models.StepID]string{
				models.StepFollowupDate: "Enter the new appointment date (e.g. 14/03/2025).",
			},
		},
		{
			ID:      models.PathwayLabTests,
			Label:   "Lab tests",
			Aliases: []string{"laboratory", "labs", "تحاليل", "فحوصات"},
			Steps:   withIntro(models.StepTestNames, models.StepResultsDate, models.StepTranslator),
		},
		{
			ID:      models.PathwayDeviceDelivery,
			Label:   "Medical device delivery",
			Aliases: []string{"device delivery", "device", "تسليم جهاز", "أجهزة طبية"},
			Steps:   withIntro(models.StepDeviceName, models.StepNotes, models.StepTranslator),
		},
	}
}

func init() {
	for _, p := range builtinPathways() {
		DefaultRegistry.MustRegister(p)
	}
	// Fail-safe for ambiguous drafts: followup includes the room number step.
	if err := DefaultRegistry.SetDefault(models.PathwayFollowup); err != nil {
		panic(err)
	}
}
