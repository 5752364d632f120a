package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/validate"
)

// Pathway is the static definition of one report type.
type Pathway struct {
	ID    models.PathwayID
	Label string
	// Aliases are additional medical-action strings that select this pathway.
	Aliases []string
	// Steps lists the pathway's steps in forward order.
	Steps []models.StepID
	// Back overrides the predecessor of a step. Unlisted steps go back to
	// the step listed before them, and the first step goes back to EXIT.
	Back map[models.StepID]models.StepID
	// Prompts overrides the catalogue prompt for individual steps.
	Prompts map[models.StepID]string
}

type definition struct {
	Pathway
	order    []models.StepID
	index    map[models.StepID]int
	back     map[models.StepID]models.StepID
	next     map[models.StepID]models.StepID
	terminal models.StepID
}

// Registry holds the step catalogue and the registered pathways. It is
// populated during initialization and read-only afterwards.
type Registry struct {
	steps          map[models.StepID]StepSpec
	pathways       map[models.PathwayID]*definition
	order          []models.PathwayID
	actions        map[string]models.PathwayID
	defaultPathway models.PathwayID
}

// NewRegistry creates a registry with the given step catalogue.
func NewRegistry(steps ...StepSpec) *Registry {
	r := &Registry{
		steps:    make(map[models.StepID]StepSpec, len(steps)),
		pathways: make(map[models.PathwayID]*definition),
		actions:  make(map[string]models.PathwayID),
	}
	for _, s := range steps {
		r.steps[s.ID] = s
	}
	return r
}

// Register validates p and adds it to the registry. The predecessor map must
// form a single chain over all steps that starts at EXIT.
func (r *Registry) Register(p Pathway) error {
	if p.ID == "" {
		return errors.New("pathway id is required")
	}
	if _, exists := r.pathways[p.ID]; exists {
		return fmt.Errorf("pathway %s already registered", p.ID)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pathway %s has no steps", p.ID)
	}

	def := &definition{
		Pathway: p,
		index:   make(map[models.StepID]int, len(p.Steps)),
		back:    make(map[models.StepID]models.StepID, len(p.Steps)),
		next:    make(map[models.StepID]models.StepID, len(p.Steps)),
	}
	members := make(map[models.StepID]bool, len(p.Steps))
	for i, step := range p.Steps {
		if step.IsMetaState() || strings.HasPrefix(string(step), models.ReservedKeyPrefix) {
			return fmt.Errorf("pathway %s: step %q uses a reserved name", p.ID, step)
		}
		if members[step] {
			return fmt.Errorf("pathway %s: duplicate step %s", p.ID, step)
		}
		if _, ok := r.steps[step]; !ok {
			return fmt.Errorf("pathway %s: step %s is not in the catalogue", p.ID, step)
		}
		members[step] = true
		if i == 0 {
			def.back[step] = models.StepExit
		} else {
			def.back[step] = p.Steps[i-1]
		}
	}
	for step, prev := range p.Back {
		if !members[step] {
			return fmt.Errorf("pathway %s: back edge from unknown step %s", p.ID, step)
		}
		if prev != models.StepExit && !members[prev] {
			return fmt.Errorf("pathway %s: back edge to unknown step %s", p.ID, prev)
		}
		if prev == step {
			return fmt.Errorf("pathway %s: step %s goes back to itself", p.ID, step)
		}
		def.back[step] = prev
	}
	for step := range p.Prompts {
		if !members[step] {
			return fmt.Errorf("pathway %s: prompt override for unknown step %s", p.ID, step)
		}
	}

	var first models.StepID
	for _, step := range p.Steps {
		prev := def.back[step]
		if prev == models.StepExit {
			if first != "" {
				return fmt.Errorf("pathway %s: both %s and %s go back to EXIT", p.ID, first, step)
			}
			first = step
			continue
		}
		if other, taken := def.next[prev]; taken {
			return fmt.Errorf("pathway %s: %s and %s both go back to %s", p.ID, other, step, prev)
		}
		def.next[prev] = step
	}
	if first == "" {
		return fmt.Errorf("pathway %s: no step goes back to EXIT", p.ID)
	}

	// Walking forward from the first step must reach every step exactly once.
	for step, ok := first, true; ok; step, ok = def.next[step] {
		if _, seen := def.index[step]; seen {
			return fmt.Errorf("pathway %s: cycle at step %s", p.ID, step)
		}
		def.index[step] = len(def.order)
		def.order = append(def.order, step)
		def.terminal = step
	}
	if len(def.order) != len(p.Steps) {
		return fmt.Errorf("pathway %s: chain reaches %d of %d steps", p.ID, len(def.order), len(p.Steps))
	}

	for _, action := range append([]string{p.Label, string(p.ID)}, p.Aliases...) {
		key := normalizeAction(action)
		if key == "" {
			continue
		}
		if other, exists := r.actions[key]; exists && other != p.ID {
			return fmt.Errorf("pathway %s: action %q already maps to %s", p.ID, action, other)
		}
		r.actions[key] = p.ID
	}

	r.pathways[p.ID] = def
	r.order = append(r.order, p.ID)
	if r.defaultPathway == "" {
		r.defaultPathway = p.ID
	}
	slog.Debug("Registry Register", "pathway", p.ID, "steps", len(def.order), "terminal", def.terminal)
	return nil
}

// MustRegister is like Register but panics on an invalid definition.
func (r *Registry) MustRegister(p Pathway) {
	if err := r.Register(p); err != nil {
		panic(fmt.Sprintf("flow: %v", err))
	}
}

// SetDefault designates the fail-safe pathway used when inference is ambiguous.
func (r *Registry) SetDefault(id models.PathwayID) error {
	if _, ok := r.pathways[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownPathway, id)
	}
	r.defaultPathway = id
	return nil
}

// Default returns the fail-safe pathway id.
func (r *Registry) Default() models.PathwayID {
	return r.defaultPathway
}

// IsRegistered reports whether id names a registered pathway.
func (r *Registry) IsRegistered(id models.PathwayID) bool {
	_, ok := r.pathways[id]
	return ok
}

// Pathways returns the registered pathways in registration order.
func (r *Registry) Pathways() []Pathway {
	out := make([]Pathway, 0, len(r.order))
	for _, id := range r.order {
		def := r.pathways[id]
		p := def.Pathway
		p.Steps = append([]models.StepID(nil), def.order...)
		out = append(out, p)
	}
	return out
}

// Pathway returns the definition for id.
func (r *Registry) Pathway(id models.PathwayID) (Pathway, error) {
	def, err := r.lookup(id)
	if err != nil {
		return Pathway{}, err
	}
	p := def.Pathway
	p.Steps = append([]models.StepID(nil), def.order...)
	return p, nil
}

// Steps returns the pathway's steps in forward order.
func (r *Registry) Steps(id models.PathwayID) ([]models.StepID, error) {
	def, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]models.StepID(nil), def.order...), nil
}

// Predecessor returns the step before step, or StepExit for the first step.
func (r *Registry) Predecessor(id models.PathwayID, step models.StepID) (models.StepID, error) {
	def, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	prev, ok := def.back[step]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", models.ErrStepNotFound, id, step)
	}
	return prev, nil
}

// Successor returns the step after step, or StateConfirm after the terminal step.
func (r *Registry) Successor(id models.PathwayID, step models.StepID) (models.StepID, error) {
	def, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	if _, ok := def.index[step]; !ok {
		return "", fmt.Errorf("%w: %s/%s", models.ErrStepNotFound, id, step)
	}
	if next, ok := def.next[step]; ok {
		return next, nil
	}
	return models.StateConfirm, nil
}

// First returns the pathway's first step.
func (r *Registry) First(id models.PathwayID) (models.StepID, error) {
	def, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return def.order[0], nil
}

// Terminal returns the pathway's last step.
func (r *Registry) Terminal(id models.PathwayID) (models.StepID, error) {
	def, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return def.terminal, nil
}

// Contains reports whether step belongs to pathway id.
func (r *Registry) Contains(id models.PathwayID, step models.StepID) bool {
	def, ok := r.pathways[id]
	if !ok {
		return false
	}
	_, ok = def.index[step]
	return ok
}

// Index returns the zero-based forward position of step in pathway id, or -1.
func (r *Registry) Index(id models.PathwayID, step models.StepID) int {
	def, ok := r.pathways[id]
	if !ok {
		return -1
	}
	i, ok := def.index[step]
	if !ok {
		return -1
	}
	return i
}

// Step returns the spec for step as used by pathway id, with any prompt override applied.
func (r *Registry) Step(id models.PathwayID, step models.StepID) (StepSpec, error) {
	def, err := r.lookup(id)
	if err != nil {
		return StepSpec{}, err
	}
	if _, ok := def.index[step]; !ok {
		return StepSpec{}, fmt.Errorf("%w: %s/%s", models.ErrStepNotFound, id, step)
	}
	spec := r.steps[step]
	if prompt, ok := def.Prompts[step]; ok {
		spec.Prompt = prompt
	}
	return spec, nil
}

// PathwaysWithStep lists the pathways containing step, in registration order.
func (r *Registry) PathwaysWithStep(step models.StepID) []models.PathwayID {
	var out []models.PathwayID
	for _, id := range r.order {
		if _, ok := r.pathways[id].index[step]; ok {
			out = append(out, id)
		}
	}
	return out
}

// MatchAction maps a medical-action string (label, id or alias) to its pathway.
func (r *Registry) MatchAction(action string) (models.PathwayID, bool) {
	id, ok := r.actions[normalizeAction(action)]
	return id, ok
}

func (r *Registry) lookup(id models.PathwayID) (*definition, error) {
	def, ok := r.pathways[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownPathway, id)
	}
	return def, nil
}

func normalizeAction(s string) string {
	return validate.Fold(s)
}
