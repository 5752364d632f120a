package flow

import (
	"log/slog"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Navigator answers "where does back go from here".
type Navigator struct {
	registry *Registry
}

// NewNavigator creates a Navigator over registry.
func NewNavigator(registry *Registry) *Navigator {
	return &Navigator{registry: registry}
}

// PreviousStep returns the step before current in pathway. CONFIRM goes back
// to the terminal step and the first step goes back to StepExit. A pair the
// registry does not know is logged and also mapped to StepExit.
func (n *Navigator) PreviousStep(pathway models.PathwayID, current models.StepID) models.StepID {
	if current == models.StateConfirm {
		terminal, err := n.registry.Terminal(pathway)
		if err != nil {
			slog.Error("Navigator PreviousStep unknown pathway", "error", err, "pathway", pathway)
			return models.StepExit
		}
		return terminal
	}

	prev, err := n.registry.Predecessor(pathway, current)
	if err != nil {
		slog.Error("Navigator PreviousStep inconsistent state", "error", err, "pathway", pathway, "step", current)
		return models.StepExit
	}
	return prev
}
