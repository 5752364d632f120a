package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/validate"
)

// Outcome is the result of handling one command.
type Outcome struct {
	ConversationID string           `json:"conversation_id"`
	State          models.StepID    `json:"state"`
	Pathway        models.PathwayID `json:"pathway,omitempty"`
	Prompt         Prompt           `json:"prompt"`
	// ReportID is set after a successful finalization.
	ReportID string `json:"report_id,omitempty"`
	// Err is the user-facing error condition, if any. It wraps one of the
	// models sentinel errors.
	Err error `json:"-"`
}

// Engine is the step executor. It drives every pathway through the same code
// path using the registry's definitions.
type Engine struct {
	registry  *Registry
	resolver  *Resolver
	navigator *Navigator
	states    StateManager
	options   OptionProvider
	finalizer *Finalizer
	locks     *keyedMutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegistry replaces DefaultRegistry.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithOptionProvider sets the source of reference options.
func WithOptionProvider(p OptionProvider) EngineOption {
	return func(e *Engine) { e.options = p }
}

// NewEngine creates an executor persisting drafts through states and
// finalizing reports through finalizer.
func NewEngine(states StateManager, finalizer *Finalizer, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:  DefaultRegistry,
		states:    states,
		finalizer: finalizer,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(e.registry)
	e.navigator = NewNavigator(e.registry)
	return e
}

// Registry returns the registry the engine runs on.
func (e *Engine) Registry() *Registry { return e.registry }

// Handle processes one command for a conversation. Commands for the same
// conversation are serialized. Internal failures never escape: the draft is
// discarded and the pathway menu is shown with a notice.
func (e *Engine) Handle(ctx context.Context, conversationID string, cmd Command) (out Outcome) {
	slog.Debug("Engine Handle invoked", "conversationID", conversationID, "command", cmd.Kind)

	unlock := e.locks.lock(conversationID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine Handle panic", "conversationID", conversationID, "panic", r)
			out = e.recoverToMenu(ctx, conversationID, fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	out, err = e.dispatch(ctx, conversationID, cmd)
	if err != nil {
		return e.recoverToMenu(ctx, conversationID, err)
	}
	out.ConversationID = conversationID
	slog.Debug("Engine Handle completed", "conversationID", conversationID, "state", out.State, "pathway", out.Pathway)
	return out
}

// Reset discards the conversation's draft, as cancel does.
func (e *Engine) Reset(ctx context.Context, conversationID string) error {
	unlock := e.locks.lock(conversationID)
	defer unlock()
	return e.states.ResetDraft(ctx, conversationID)
}

// Expire discards the conversation's draft if it was last touched before
// cutoff. It reports whether a draft was discarded.
func (e *Engine) Expire(ctx context.Context, conversationID string, cutoff time.Time) (bool, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	draft, err := e.states.GetDraft(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if draft == nil || !draft.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	if err := e.states.ResetDraft(ctx, conversationID); err != nil {
		return false, err
	}
	slog.Info("Engine draft expired", "conversationID", conversationID, "pathway", draft.PathwayID, "step", draft.CurrentStep, "updatedAt", draft.UpdatedAt)
	return true, nil
}

// RetryPublish re-runs finalization for a draft whose report was saved but
// whose broadcast failed. It returns the report id when the draft was
// completed, or "" when the conversation has nothing pending.
func (e *Engine) RetryPublish(ctx context.Context, conversationID string) (string, error) {
	unlock := e.locks.lock(conversationID)
	defer unlock()

	draft, err := e.states.GetDraft(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if draft == nil || draft.ReportID == "" {
		return "", nil
	}
	if e.finalizer == nil {
		return "", errors.New("no finalizer configured")
	}
	if draft.PathwayID == "" {
		pathway, err := e.resolve(draft)
		if err != nil {
			return "", err
		}
		draft.PathwayID = pathway
	}
	id, err := e.finalizer.Finalize(ctx, draft)
	if err != nil {
		return "", err
	}
	slog.Info("Engine pending report published", "conversationID", conversationID, "reportID", id)
	return id, nil
}

func (e *Engine) dispatch(ctx context.Context, conversationID string, cmd Command) (Outcome, error) {
	draft, err := e.states.GetDraft(ctx, conversationID)
	if err != nil {
		return Outcome{}, err
	}

	if cmd.Kind == CommandCancel {
		return e.cancel(ctx, conversationID, draft)
	}
	if draft == nil || draft.CurrentStep == models.StatePathwaySelect {
		return e.selectPathway(ctx, conversationID, cmd)
	}

	pathway, err := e.resolve(draft)
	if err != nil {
		return Outcome{}, err
	}
	if draft.CurrentStep != models.StateConfirm && !e.registry.Contains(pathway, draft.CurrentStep) {
		return Outcome{}, fmt.Errorf("%w: %s/%s", models.ErrStepNotFound, pathway, draft.CurrentStep)
	}

	// Edit and start prefixes only mean something on the confirmation
	// screen; elsewhere free text such as "edit of dosage" is an answer.
	if draft.CurrentStep != models.StateConfirm && (cmd.Kind == CommandEdit || cmd.Kind == CommandStart) {
		cmd = Command{Kind: CommandAnswer, Text: cmd.Text}
	}
	if draft.ReportID != "" {
		switch cmd.Kind {
		case CommandBack, CommandEdit, CommandKeep, CommandAnswer:
			return e.reportSaved(ctx, draft, pathway)
		}
	}

	switch cmd.Kind {
	case CommandBack:
		return e.back(ctx, draft, pathway)
	case CommandConfirm:
		if draft.CurrentStep != models.StateConfirm {
			return e.renderStep(ctx, draft, pathway, draft.CurrentStep, errNotAtConfirm, "")
		}
		return e.finalize(ctx, draft, pathway)
	case CommandEdit:
		return e.edit(ctx, draft, pathway, cmd.Field)
	case CommandMenu, CommandStart:
		return e.renderCurrent(ctx, draft, pathway, "", noticeDraftExists)
	case CommandKeep:
		return e.submit(ctx, draft, pathway, "", true)
	default:
		return e.submit(ctx, draft, pathway, cmd.Text, false)
	}
}

// resolve determines the draft's pathway, recording it when confident.
func (e *Engine) resolve(draft *models.DraftRecord) (models.PathwayID, error) {
	res, err := e.resolver.Resolve(draft.PathwayID, draft.CurrentStep, draft)
	if err != nil {
		return "", err
	}
	if res.Confident() {
		draft.PathwayID = res.PathwayID()
	} else {
		slog.Warn("Engine using fallback pathway", "conversationID", draft.ConversationID, "resolution", res.String())
	}
	return res.PathwayID(), nil
}

func (e *Engine) selectPathway(ctx context.Context, conversationID string, cmd Command) (Outcome, error) {
	var (
		id    models.PathwayID
		found bool
	)
	switch cmd.Kind {
	case CommandStart:
		id, found = e.lookupPathway(string(cmd.Pathway))
	case CommandAnswer:
		id, found = e.lookupPathway(cmd.Text)
	default:
		return Outcome{State: models.StatePathwaySelect, Prompt: e.menuPrompt("", "")}, nil
	}
	if !found {
		verr := &models.ValidationError{Step: models.StatePathwaySelect, Reason: validate.ErrNotAnOption.Error()}
		return Outcome{
			State:  models.StatePathwaySelect,
			Prompt: e.menuPrompt(verr.Reason, ""),
			Err:    verr,
		}, nil
	}

	pathway, err := e.registry.Pathway(id)
	if err != nil {
		return Outcome{}, err
	}
	draft := models.NewDraftRecord(conversationID)
	draft.PathwayID = pathway.ID
	draft.MedicalAction = pathway.Label
	draft.CurrentStep = pathway.Steps[0]
	if err := e.states.SaveDraft(ctx, draft); err != nil {
		return Outcome{}, err
	}
	slog.Info("Engine draft started", "conversationID", conversationID, "pathway", pathway.ID)
	return e.renderStep(ctx, draft, pathway.ID, draft.CurrentStep, "", "")
}

// lookupPathway accepts a menu number, a label, a pathway id or an alias.
func (e *Engine) lookupPathway(raw string) (models.PathwayID, bool) {
	pathways := e.registry.Pathways()
	labels := make([]string, len(pathways))
	for i, p := range pathways {
		labels[i] = p.Label
	}
	if label, err := validate.OneOf(labels)(raw); err == nil {
		for _, p := range pathways {
			if p.Label == label {
				return p.ID, true
			}
		}
	}
	if id := models.PathwayID(strings.TrimSpace(raw)); e.registry.IsRegistered(id) {
		return id, true
	}
	return e.registry.MatchAction(raw)
}

func (e *Engine) cancel(ctx context.Context, conversationID string, draft *models.DraftRecord) (Outcome, error) {
	notice := ""
	if draft != nil {
		if err := e.states.ResetDraft(ctx, conversationID); err != nil {
			return Outcome{}, err
		}
		notice = noticeCancelled
		slog.Info("Engine draft cancelled", "conversationID", conversationID, "pathway", draft.PathwayID)
	}
	return Outcome{State: models.StatePathwaySelect, Prompt: e.menuPrompt("", notice)}, nil
}

func (e *Engine) back(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID) (Outcome, error) {
	if draft.Mode == models.DraftModeEdit {
		return e.abandonEdit(ctx, draft, pathway)
	}

	prev := e.navigator.PreviousStep(pathway, draft.CurrentStep)
	if prev == models.StepExit {
		if err := e.states.ResetDraft(ctx, draft.ConversationID); err != nil {
			return Outcome{}, err
		}
		slog.Info("Engine draft exited", "conversationID", draft.ConversationID, "pathway", pathway)
		return Outcome{State: models.StatePathwaySelect, Prompt: e.menuPrompt("", noticeExited)}, nil
	}

	draft.CurrentStep = prev
	if err := e.states.SaveDraft(ctx, draft); err != nil {
		return Outcome{}, err
	}
	return e.renderStep(ctx, draft, pathway, prev, "", "")
}

func (e *Engine) submit(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID, raw string, keep bool) (Outcome, error) {
	step := draft.CurrentStep
	if step == models.StateConfirm {
		return e.confirmOutcome(draft, pathway, errAtConfirm, ""), nil
	}
	spec, err := e.registry.Step(pathway, step)
	if err != nil {
		return Outcome{}, err
	}

	if keep {
		stored, ok := draft.Value(step)
		if !ok {
			return e.reject(ctx, draft, pathway, step, errNothingToKeep)
		}
		raw = stored
	}

	value, err := e.validateAnswer(ctx, spec, draft, raw)
	if err != nil {
		return e.reject(ctx, draft, pathway, step, err.Error())
	}

	previous, had := draft.Value(step)
	draft.Set(step, value)
	if had && previous != value {
		e.dropStaleDependents(ctx, draft, pathway, spec)
	}

	next, err := e.registry.Successor(pathway, step)
	if err != nil {
		return Outcome{}, err
	}
	if draft.Mode == models.DraftModeEdit && (next == models.StateConfirm || draft.Has(next)) {
		draft.Mode = models.DraftModeForward
		next = models.StateConfirm
	}
	draft.CurrentStep = next
	if err := e.states.SaveDraft(ctx, draft); err != nil {
		return Outcome{}, err
	}

	if next == models.StateConfirm {
		return e.confirmOutcome(draft, pathway, "", ""), nil
	}
	return e.renderStep(ctx, draft, pathway, next, "", "")
}

// reject re-renders step unchanged with reason as the error.
func (e *Engine) reject(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID, step models.StepID, reason string) (Outcome, error) {
	slog.Debug("Engine answer rejected", "conversationID", draft.ConversationID, "step", step, "reason", reason)
	out, err := e.renderStep(ctx, draft, pathway, step, reason, "")
	if err != nil {
		return Outcome{}, err
	}
	out.Err = &models.ValidationError{Step: step, Reason: reason}
	return out, nil
}

func (e *Engine) validateAnswer(ctx context.Context, spec StepSpec, draft *models.DraftRecord, raw string) (string, error) {
	if spec.IsOptionStep() {
		options, err := e.optionsFor(ctx, spec, draft)
		if err != nil {
			slog.Error("Engine options lookup failed", "error", err, "step", spec.ID)
			return "", errors.New(errOptionsMissing)
		}
		return validate.OneOf(options)(raw)
	}
	if spec.Validate == nil {
		return validate.Required(raw)
	}
	return spec.Validate(raw)
}

func (e *Engine) optionsFor(ctx context.Context, spec StepSpec, draft *models.DraftRecord) ([]string, error) {
	if len(spec.Options) > 0 {
		return spec.Options, nil
	}
	if spec.Reference == "" {
		return nil, nil
	}
	if e.options == nil {
		return nil, fmt.Errorf("no option provider configured for %s", spec.Reference)
	}
	parent := ""
	if spec.Parent != nil {
		parent = spec.Parent(draft)
	}
	return e.options.ListOptions(ctx, spec.Reference, parent)
}

// dropStaleDependents removes answers that are no longer valid after spec's
// answer changed, e.g. a doctor who does not work in the new department.
func (e *Engine) dropStaleDependents(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID, spec StepSpec) {
	for _, dep := range spec.Dependents {
		value, ok := draft.Value(dep)
		if !ok || !e.registry.Contains(pathway, dep) {
			continue
		}
		depSpec, err := e.registry.Step(pathway, dep)
		if err != nil {
			continue
		}
		options, err := e.optionsFor(ctx, depSpec, draft)
		if err != nil {
			slog.Warn("Engine could not recheck dependent answer", "error", err, "step", dep)
			continue
		}
		if _, err := validate.OneOf(options)(value); err != nil {
			delete(draft.Fields, dep)
			slog.Info("Engine dropped stale answer", "conversationID", draft.ConversationID, "step", dep, "changed", spec.ID)
		}
	}
}

// renderStep is the single rendering path for data steps, in forward and edit mode.
func (e *Engine) renderStep(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID, step models.StepID, errText, notice string) (Outcome, error) {
	spec, err := e.registry.Step(pathway, step)
	if err != nil {
		return Outcome{}, err
	}
	p := Prompt{
		Step:     step,
		Title:    spec.Label,
		Text:     spec.Prompt,
		FreeText: !spec.IsOptionStep(),
		Editing:  draft.Mode == models.DraftModeEdit,
		Error:    errText,
		Notice:   notice,
	}
	if spec.IsOptionStep() {
		options, err := e.optionsFor(ctx, spec, draft)
		if err != nil {
			slog.Error("Engine options lookup failed", "error", err, "step", step)
		}
		if len(options) == 0 && errText == "" {
			p.Error = errOptionsMissing
		}
		p.Options = options
	}
	if v, ok := draft.Value(step); ok {
		p.Prefill, p.HasPrefill = v, true
	}
	return Outcome{State: step, Pathway: pathway, Prompt: p}, nil
}

func (e *Engine) renderCurrent(ctx context.Context, draft *models.DraftRecord, pathway models.PathwayID, errText, notice string) (Outcome, error) {
	if draft.CurrentStep == models.StateConfirm {
		return e.confirmOutcome(draft, pathway, errText, notice), nil
	}
	return e.renderStep(ctx, draft, pathway, draft.CurrentStep, errText, notice)
}

func (e *Engine) confirmOutcome(draft *models.DraftRecord, pathway models.PathwayID, errText, notice string) Outcome {
	return Outcome{
		State:   models.StateConfirm,
		Pathway: pathway,
		Prompt:  e.confirmPrompt(draft, pathway, errText, notice),
	}
}

// recoverToMenu discards the draft after an internal failure.
func (e *Engine) recoverToMenu(ctx context.Context, conversationID string, cause error) Outcome {
	slog.Error("Engine resetting conversation after failure", "error", cause, "conversationID", conversationID)
	if err := e.states.ResetDraft(ctx, conversationID); err != nil {
		slog.Error("Engine failed to discard draft", "error", err, "conversationID", conversationID)
	}
	return Outcome{
		ConversationID: conversationID,
		State:          models.StatePathwaySelect,
		Prompt:         e.menuPrompt("", noticeFailure),
		Err:            cause,
	}
}
