package flow

import "github.com/BTreeMap/ReportPipe/internal/models"

// TranslatorStep builds the translator selection step stored under field.
// Every pathway ends with it; its successor is whatever the pathway registers
// after it, which for the built-in pathways is always the confirm screen.
func TranslatorStep(field models.StepID) StepSpec {
	return StepSpec{
		ID:        field,
		Label:     "Translator",
		Prompt:    "Select the translator who attended the visit.",
		Kind:      StepKindOptions,
		Reference: models.ReferenceTranslator,
	}
}
