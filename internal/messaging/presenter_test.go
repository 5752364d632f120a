package messaging

import (
	"strings"
	"testing"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
)

func TestFormatPrompt(t *testing.T) {
	tests := []struct {
		name     string
		prompt   flow.Prompt
		contains []string
		excludes []string
	}{
		{
			name:     "numbered options",
			prompt:   flow.Prompt{Step: models.StepHospital, Text: "Select the hospital.", Options: []string{"City Hospital", "Ibn Sina"}},
			contains: []string{"Select the hospital.", "1. City Hospital", "2. Ibn Sina"},
		},
		{
			name:     "prefill and error",
			prompt:   flow.Prompt{Step: models.StepDiagnosis, Text: "Diagnosis?", FreeText: true, Prefill: "flu", HasPrefill: true, Error: "too short"},
			contains: []string{"⚠️ too short", "Current answer: flu", "keep"},
		},
		{
			name: "confirm screen",
			prompt: flow.Prompt{Step: models.StateConfirm, Text: "Review", Options: []string{"confirm", "back", "cancel"},
				Summary: []string{"1. Patient name: Ali", "2. Hospital: City Hospital"}},
			contains: []string{"1. Patient name: Ali", "Reply: confirm / back / cancel"},
			excludes: []string{"1. confirm"},
		},
		{
			name:     "notice first",
			prompt:   flow.Prompt{Step: models.StatePathwaySelect, Text: "Which report?", Notice: "Report r-1 was saved."},
			contains: []string{"ℹ️ Report r-1 was saved.\n\nWhich report?"},
			excludes: []string{"Current answer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatPrompt(tt.prompt)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("missing %q in:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("unexpected %q in:\n%s", bad, got)
				}
			}
		})
	}
}
