package flow

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Resolution is the result of pathway inference: either Resolved or Fallback.
type Resolution interface {
	// PathwayID returns the pathway to use for this request.
	PathwayID() models.PathwayID
	// Confident reports whether the pathway may be written back into the draft.
	Confident() bool
	String() string
	resolution()
}

// Resolved means the pathway was determined unambiguously.
type Resolved struct {
	Pathway models.PathwayID
	Reason  string
}

// Fallback means inference was ambiguous and the fail-safe choice was used.
type Fallback struct {
	Pathway models.PathwayID
	Reason  string
}

func (r Resolved) PathwayID() models.PathwayID { return r.Pathway }
func (r Resolved) Confident() bool             { return true }
func (r Resolved) String() string              { return fmt.Sprintf("resolved %s (%s)", r.Pathway, r.Reason) }
func (Resolved) resolution()                   {}

func (f Fallback) PathwayID() models.PathwayID { return f.Pathway }
func (f Fallback) Confident() bool             { return false }
func (f Fallback) String() string              { return fmt.Sprintf("fallback %s (%s)", f.Pathway, f.Reason) }
func (Fallback) resolution()                   {}

// Resolver infers the pathway of a draft that may have lost its pathway id.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a Resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve determines which pathway governs the draft at step current.
// Precedence: a registered explicit id, then the draft's medical action, then
// the answered fields, then the registry's default pathway. When nothing
// matches and the default lacks the current step, the first registered
// pathway that has the step is used instead.
func (r *Resolver) Resolve(explicit models.PathwayID, current models.StepID, draft *models.DraftRecord) (Resolution, error) {
	var action string
	if draft != nil {
		action = draft.MedicalAction
	}

	if explicit != "" {
		if r.registry.IsRegistered(explicit) {
			if action != "" {
				if byAction, ok := r.registry.MatchAction(action); ok && byAction != explicit {
					slog.Warn("Resolver explicit pathway conflicts with medical action",
						"pathway", explicit, "medicalAction", action, "actionPathway", byAction)
				}
			}
			return Resolved{Pathway: explicit, Reason: "explicit pathway"}, nil
		}
		slog.Warn("Resolver ignoring unregistered pathway", "pathway", explicit)
	}

	if action != "" {
		if id, ok := r.registry.MatchAction(action); ok {
			return Resolved{Pathway: id, Reason: "medical action"}, nil
		}
		slog.Debug("Resolver medical action not recognised", "medicalAction", action)
	}

	candidates := r.candidates(current, draft)
	if len(candidates) == 1 {
		return Resolved{Pathway: candidates[0], Reason: "only pathway consistent with the draft"}, nil
	}

	def := r.registry.Default()
	if !r.registry.IsRegistered(def) {
		return nil, fmt.Errorf("%w: default pathway %q is not registered", models.ErrUnresolvedPathway, def)
	}
	if len(candidates) == 0 {
		if current != "" && !current.IsMetaState() && !r.registry.Contains(def, current) {
			if ids := r.registry.PathwaysWithStep(current); len(ids) > 0 {
				slog.Warn("Resolver no pathway matches draft, using first pathway with step", "step", current, "chosen", ids[0])
				return Fallback{Pathway: ids[0], Reason: "no pathway matches the draft, first pathway with current step"}, nil
			}
		}
		slog.Warn("Resolver no pathway matches draft, using default", "step", current, "default", def)
		return Fallback{Pathway: def, Reason: "no pathway matches the draft"}, nil
	}

	best := candidates[0]
	for _, id := range candidates {
		if id == def {
			return Fallback{Pathway: def, Reason: "ambiguous draft, default pathway"}, nil
		}
		if r.registry.Index(id, current) > r.registry.Index(best, current) {
			best = id
		}
	}
	slog.Warn("Resolver ambiguous draft", "step", current, "candidates", candidates, "chosen", best)
	return Fallback{Pathway: best, Reason: "ambiguous draft, longest matching prefix"}, nil
}

// candidates lists pathways that contain every answered field and whose steps
// before current have all been answered. At CONFIRM every step must be answered.
func (r *Resolver) candidates(current models.StepID, draft *models.DraftRecord) []models.PathwayID {
	var ids []models.PathwayID
	if current == "" || current.IsMetaState() {
		for _, p := range r.registry.Pathways() {
			ids = append(ids, p.ID)
		}
	} else {
		ids = r.registry.PathwaysWithStep(current)
	}

	var out []models.PathwayID
	for _, id := range ids {
		if r.consistent(id, current, draft) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Resolver) consistent(id models.PathwayID, current models.StepID, draft *models.DraftRecord) bool {
	if draft != nil {
		for step := range draft.Fields {
			if !r.registry.Contains(id, step) {
				return false
			}
		}
	}
	if current != models.StateConfirm && !r.registry.Contains(id, current) {
		return true
	}
	steps, err := r.registry.Steps(id)
	if err != nil {
		return false
	}
	for _, step := range steps {
		if step == current {
			break
		}
		if !draft.Has(step) {
			return false
		}
	}
	return true
}
