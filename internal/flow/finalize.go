package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// BroadcastConfig controls whether finalized reports are published.
type BroadcastConfig struct {
	Enabled bool
}

// Finalizer validates, saves, publishes and clears a completed draft.
type Finalizer struct {
	saver     ReportSaver
	publisher Publisher
	states    StateManager
	registry  *Registry
	broadcast BroadcastConfig
	newID     func() string
}

// FinalizerOption configures a Finalizer.
type FinalizerOption func(*Finalizer)

// WithFinalizerRegistry replaces DefaultRegistry for required-field checks.
func WithFinalizerRegistry(r *Registry) FinalizerOption {
	return func(f *Finalizer) { f.registry = r }
}

// WithReportIDs replaces the report id generator.
func WithReportIDs(gen func() string) FinalizerOption {
	return func(f *Finalizer) { f.newID = gen }
}

// NewFinalizer creates a Finalizer. publisher may be nil when broadcast is disabled.
func NewFinalizer(saver ReportSaver, publisher Publisher, states StateManager, broadcast BroadcastConfig, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		saver:     saver,
		publisher: publisher,
		states:    states,
		registry:  DefaultRegistry,
		broadcast: broadcast,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize turns the draft into a report and returns its id.
//
// A missing field yields *models.IncompleteDraftError. A storage failure
// wraps models.ErrStorageFailure and leaves the draft untouched. A broadcast
// failure wraps models.ErrBroadcastFailure; the report is already saved at
// that point and draft.ReportID is set, so calling Finalize again only
// retries the broadcast. On success the draft is deleted.
func (f *Finalizer) Finalize(ctx context.Context, draft *models.DraftRecord) (string, error) {
	slog.Debug("Finalizer Finalize invoked", "conversationID", draft.ConversationID, "pathway", draft.PathwayID)

	steps, err := f.registry.Steps(draft.PathwayID)
	if err != nil {
		return "", err
	}
	for _, step := range steps {
		if !draft.Has(step) {
			slog.Debug("Finalizer draft incomplete", "conversationID", draft.ConversationID, "field", step)
			return "", &models.IncompleteDraftError{PathwayID: draft.PathwayID, Field: step}
		}
	}

	report := models.Report{
		ID:             draft.ReportID,
		PathwayID:      draft.PathwayID,
		ConversationID: draft.ConversationID,
		Fields:         draft.FieldMap(),
		CreatedAt:      time.Now(),
	}
	if report.ID == "" {
		report.ID = f.newID()
		if err := f.saver.SaveReport(report); err != nil {
			slog.Error("Finalizer save failed", "error", err, "conversationID", draft.ConversationID)
			return "", fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
		}
		draft.ReportID = report.ID
		slog.Info("Finalizer report saved", "reportID", report.ID, "pathway", report.PathwayID)
	} else {
		slog.Debug("Finalizer report already saved, skipping save", "reportID", report.ID)
	}

	if f.broadcast.Enabled {
		if f.publisher == nil {
			return report.ID, fmt.Errorf("%w: no publisher configured", models.ErrBroadcastFailure)
		}
		if err := f.publisher.Publish(ctx, report); err != nil {
			slog.Error("Finalizer publish failed", "error", err, "reportID", report.ID)
			return report.ID, fmt.Errorf("%w: %w", models.ErrBroadcastFailure, err)
		}
	}

	if err := f.states.ResetDraft(ctx, draft.ConversationID); err != nil {
		return report.ID, fmt.Errorf("clear draft after finalize: %w", err)
	}
	return report.ID, nil
}

func (e *Engine) finalize(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID) (Outcome, error) {
	if e.finalizer == nil {
		return Outcome{}, errors.New("no finalizer configured")
	}
	draft.PathwayID = pathway

	id, err := e.finalizer.Finalize(ctx, draft)
	var incomplete *models.IncompleteDraftError
	switch {
	case err == nil:
		return Outcome{
			State:    models.StatePathwaySelect,
			Prompt:   e.menuPrompt("", fmt.Sprintf(noticePublished, id)),
			ReportID: id,
		}, nil
	case errors.As(err, &incomplete):
		out := e.confirmOutcome(draft, pathway, e.describeMissing(pathway, incomplete.Field), "")
		out.Err = err
		return out, nil
	case errors.Is(err, models.ErrStorageFailure):
		out := e.confirmOutcome(draft, pathway, errStorage, "")
		out.Err = err
		return out, nil
	case errors.Is(err, models.ErrBroadcastFailure):
		if serr := e.states.SaveDraft(ctx, draft); serr != nil {
			return Outcome{}, serr
		}
		out := e.confirmOutcome(draft, pathway, errBroadcast, "")
		out.ReportID = id
		out.Err = err
		return out, nil
	default:
		return Outcome{}, err
	}
}

// reportSaved refuses changes to a draft whose report is already stored.
// Only confirm (retrying the broadcast) and cancel are accepted then.
func (e *Engine) reportSaved(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID) (Outcome, error) {
	if draft.CurrentStep != models.StateConfirm || draft.Mode != models.DraftModeForward {
		draft.CurrentStep = models.StateConfirm
		draft.Mode = models.DraftModeForward
		if err := e.states.SaveDraft(ctx, draft); err != nil {
			return Outcome{}, err
		}
	}
	slog.Debug("Engine rejected change to saved report", "conversationID", draft.ConversationID, "reportID", draft.ReportID)
	out := e.confirmOutcome(draft, pathway, errReportSaved, "")
	out.ReportID = draft.ReportID
	out.Err = &models.ValidationError{Step: models.StateConfirm, Reason: errReportSaved}
	return out, nil
}
