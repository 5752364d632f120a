// Package flow implements the report collection state machine: the pathway
// registry, pathway inference, back navigation, the step executor and
// finalization.
package flow

import (
	"context"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// StateManager persists one draft per conversation.
type StateManager interface {
	// GetDraft returns the conversation's draft, or nil when there is none.
	GetDraft(ctx context.Context, conversationID string) (*models.DraftRecord, error)

	// SaveDraft creates or replaces the conversation's draft.
	SaveDraft(ctx context.Context, draft *models.DraftRecord) error

	// ResetDraft removes the conversation's draft. Removing a missing draft is not an error.
	ResetDraft(ctx context.Context, conversationID string) error
}

// OptionProvider lists reference options (hospitals, doctors, translators...)
// for option steps that are not backed by a fixed list.
type OptionProvider interface {
	ListOptions(ctx context.Context, kind models.ReferenceKind, parent string) ([]string, error)
}

// ReportSaver persists a finalized report.
type ReportSaver interface {
	SaveReport(report models.Report) error
}

// Publisher announces a persisted report.
type Publisher interface {
	Publish(ctx context.Context, report models.Report) error
}
