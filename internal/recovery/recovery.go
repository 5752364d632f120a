// Package recovery runs startup tasks that bring ReportPipe back to a
// consistent state after a restart: reports whose broadcast never went out
// are published, and drafts that went stale while the process was down are
// discarded.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Recoverable is a component with startup recovery work.
type Recoverable interface {
	Name() string
	Recover(ctx context.Context) error
}

// Func adapts a function to Recoverable.
type Func struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (f Func) Name() string                      { return f.Label }
func (f Func) Recover(ctx context.Context) error { return f.Fn(ctx) }

// RecoveryManager runs every registered component once.
type RecoveryManager struct {
	recoverables []Recoverable
}

// NewRecoveryManager creates an empty manager.
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a component.
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RecoverAll runs every component in registration order. A failing component
// does not stop the others.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	failed := 0
	for _, r := range rm.recoverables {
		if err := r.Recover(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", r.Name())
			failed++
			continue
		}
		slog.Debug("Component recovered", "component", r.Name())
	}

	slog.Info("Application recovery completed", "recovered", len(rm.recoverables)-failed, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(rm.recoverables))
	}
	return nil
}

// DraftLister lists stored flow states. store.FlowStateStore satisfies it.
type DraftLister interface {
	ListFlowStates(flowType string) ([]models.FlowState, error)
}

// Republisher completes a saved report whose broadcast failed. *flow.Engine satisfies it.
type Republisher interface {
	RetryPublish(ctx context.Context, conversationID string) (string, error)
}

// Notifier tells a conversation about a recovered report. *messaging.Presenter satisfies it.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

// PendingBroadcasts publishes reports that were saved before a broadcast
// failure left their drafts waiting at confirmation.
type PendingBroadcasts struct {
	drafts   DraftLister
	engine   Republisher
	notifier Notifier
}

// NewPendingBroadcasts creates the recoverable. notifier may be nil.
func NewPendingBroadcasts(drafts DraftLister, engine Republisher, notifier Notifier) *PendingBroadcasts {
	return &PendingBroadcasts{drafts: drafts, engine: engine, notifier: notifier}
}

func (p *PendingBroadcasts) Name() string { return "pending-broadcasts" }

// Recover retries every pending report. Single failures are logged and the
// draft stays in place for the user or the next restart.
func (p *PendingBroadcasts) Recover(ctx context.Context) error {
	states, err := p.drafts.ListFlowStates(string(models.FlowTypeReport))
	if err != nil {
		return fmt.Errorf("list drafts: %w", err)
	}

	published := 0
	for _, fs := range states {
		if fs.StateData[string(models.DataKeyReportID)] == "" {
			continue
		}
		id, err := p.engine.RetryPublish(ctx, fs.ParticipantID)
		if err != nil {
			slog.Warn("PendingBroadcasts retry failed", "error", err, "conversationID", fs.ParticipantID)
			continue
		}
		if id == "" {
			continue
		}
		published++
		if p.notifier != nil {
			text := fmt.Sprintf("Report %s has now been published.", id)
			if err := p.notifier.Notify(ctx, fs.ParticipantID, text); err != nil {
				slog.Warn("PendingBroadcasts notify failed", "error", err, "conversationID", fs.ParticipantID)
			}
		}
	}
	if published > 0 {
		slog.Info("PendingBroadcasts published pending reports", "count", published)
	}
	return nil
}
