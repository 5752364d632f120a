package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/validate"
)

// edit reopens one field from the confirm screen. field is a step key or the
// 1-based number shown in the summary.
func (e *Engine) edit(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID, field string) (Outcome, error) {
	if draft.CurrentStep != models.StateConfirm {
		return e.renderStep(ctx, draft, pathway, draft.CurrentStep, errNotAtConfirm, "")
	}

	step, ok := e.editTarget(pathway, field)
	if !ok {
		reason := fmt.Sprintf("%q is not a field of this report.", field)
		out := e.confirmOutcome(draft, pathway, reason, "")
		out.Err = &models.ValidationError{Step: models.StateConfirm, Reason: reason}
		return out, nil
	}

	draft.Mode = models.DraftModeEdit
	draft.CurrentStep = step
	if err := e.states.SaveDraft(ctx, draft); err != nil {
		return Outcome{}, err
	}
	slog.Debug("Engine edit started", "conversationID", draft.ConversationID, "pathway", pathway, "step", step)
	return e.renderStep(ctx, draft, pathway, step, "", "")
}

// abandonEdit leaves edit mode without changing the field and returns to CONFIRM.
func (e *Engine) abandonEdit(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID) (Outcome, error) {
	draft.Mode = models.DraftModeForward
	draft.CurrentStep = models.StateConfirm
	if err := e.states.SaveDraft(ctx, draft); err != nil {
		return Outcome{}, err
	}
	return e.confirmOutcome(draft, pathway, "", noticeEditAborted), nil
}

func (e *Engine) editTarget(pathway models.PathwayID, field string) (models.StepID, bool) {
	steps, err := e.registry.Steps(pathway)
	if err != nil {
		return "", false
	}
	key := validate.Fold(validate.NormalizeDigits(field))
	if n, err := strconv.Atoi(key); err == nil {
		if n >= 1 && n <= len(steps) {
			return steps[n-1], true
		}
		return "", false
	}
	for _, step := range steps {
		if string(step) == key {
			return step, true
		}
		if spec, err := e.registry.Step(pathway, step); err == nil && validate.Fold(spec.Label) == key {
			return step, true
		}
	}
	return "", false
}
