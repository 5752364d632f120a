package flow

import (
	"fmt"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Prompt is what the transport shows the user after a command.
type Prompt struct {
	Step  models.StepID `json:"step"`
	Title string        `json:"title,omitempty"`
	Text  string        `json:"text"`
	// Options is set for option steps, the pathway menu and the confirm screen.
	Options  []string `json:"options,omitempty"`
	FreeText bool     `json:"free_text"`
	// Prefill is the stored answer for a revisited step.
	Prefill    string `json:"prefill,omitempty"`
	HasPrefill bool   `json:"has_prefill"`
	Editing    bool   `json:"editing,omitempty"`
	// Summary lists "n. Label: value" lines on the confirm screen.
	Summary []string `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
	Notice  string   `json:"notice,omitempty"`
}

// User-facing texts.
const (
	menuText          = "Which report would you like to send?"
	confirmText       = "Please review the report. Send \"confirm\" to publish, \"edit <number>\" to change a field, \"back\" or \"cancel\"."
	noticeCancelled   = "The report was discarded."
	noticeExited      = "You left the report; it was discarded."
	noticeFailure     = "Something went wrong and the report in progress was discarded. Please start again."
	noticeEditAborted = "Edit discarded."
	noticePublished   = "Report %s was saved."
	noticeExpired     = "Your unfinished report expired and was discarded."
	errNotAtConfirm   = "Please answer the current question first."
	noticeDraftExists = "A report is already in progress. Send \"cancel\" to discard it first."
	errNothingToKeep  = "There is no previous answer to keep."
	errOptionsMissing = "No options are available for this question right now. Please try again later or send \"back\"."
	errAtConfirm      = "The report is complete. Send \"confirm\", \"edit <number>\", \"back\" or \"cancel\"."
	errStorage        = "The report could not be saved. Send \"confirm\" to try again."
	errBroadcast      = "The report was saved but could not be shared. Send \"confirm\" to try again."
	errReportSaved    = "This report is already saved and can no longer be changed. Send \"confirm\" to try sharing it again, or \"cancel\"."
)

// ExpiredNotice is sent when an idle draft is discarded.
func ExpiredNotice() string { return noticeExpired }

func (e *Engine) menuPrompt(errText, notice string) Prompt {
	pathways := e.registry.Pathways()
	options := make([]string, 0, len(pathways))
	for _, p := range pathways {
		options = append(options, p.Label)
	}
	return Prompt{
		Step:    models.StatePathwaySelect,
		Text:    menuText,
		Options: options,
		Error:   errText,
		Notice:  notice,
	}
}

func (e *Engine) confirmPrompt(draft *models.DraftRecord, id models.PathwayID, errText, notice string) Prompt {
	pathway, err := e.registry.Pathway(id)
	if err != nil {
		return e.menuPrompt("", noticeFailure)
	}
	summary := make([]string, 0, len(pathway.Steps))
	for i, step := range pathway.Steps {
		label := string(step)
		if spec, err := e.registry.Step(pathway.ID, step); err == nil {
			label = spec.Label
		}
		value, ok := draft.Value(step)
		if !ok {
			value = "-"
		}
		summary = append(summary, fmt.Sprintf("%d. %s: %s", i+1, label, value))
	}
	return Prompt{
		Step:    models.StateConfirm,
		Title:   pathway.Label,
		Text:    confirmText,
		Options: []string{"confirm", "back", "cancel"},
		Summary: summary,
		Error:   errText,
		Notice:  notice,
	}
}

// describeMissing builds the confirm-screen error for a missing field.
func (e *Engine) describeMissing(pathway models.PathwayID, field models.StepID) string {
	label := string(field)
	if spec, err := e.registry.Step(pathway, field); err == nil {
		label = spec.Label
	}
	n := e.registry.Index(pathway, field) + 1
	return fmt.Sprintf("%q is missing. Send \"edit %d\" to fill it in.", label, n)
}
