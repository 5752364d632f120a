package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

// StoreBasedStateManager implements StateManager on top of a FlowStateStore.
// Drafts are stored as flow states of type models.FlowTypeReport.
type StoreBasedStateManager struct {
	store store.FlowStateStore
}

// NewStoreBasedStateManager creates a new StateManager backed by st.
func NewStoreBasedStateManager(st store.FlowStateStore) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetDraft loads the conversation's draft.
func (sm *StoreBasedStateManager) GetDraft(ctx context.Context, conversationID string) (*models.DraftRecord, error) {
	slog.Debug("StateManager GetDraft", "conversationID", conversationID)

	fs, err := sm.store.GetFlowState(conversationID, string(models.FlowTypeReport))
	if err != nil {
		slog.Error("StateManager GetDraft error", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("get draft %s: %w", conversationID, err)
	}
	if fs == nil {
		slog.Debug("StateManager GetDraft not found", "conversationID", conversationID)
		return nil, nil
	}

	draft := models.DraftFromFlowState(*fs)
	slog.Debug("StateManager GetDraft found", "conversationID", conversationID, "pathway", draft.PathwayID, "step", draft.CurrentStep)
	return draft, nil
}

// SaveDraft writes the draft, stamping UpdatedAt.
func (sm *StoreBasedStateManager) SaveDraft(ctx context.Context, draft *models.DraftRecord) error {
	if draft == nil || draft.ConversationID == "" {
		return fmt.Errorf("save draft: conversation id is required")
	}
	slog.Debug("StateManager SaveDraft", "conversationID", draft.ConversationID, "pathway", draft.PathwayID, "step", draft.CurrentStep, "mode", draft.Mode)

	now := time.Now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	if err := sm.store.SaveFlowState(draft.ToFlowState()); err != nil {
		slog.Error("StateManager SaveDraft error", "error", err, "conversationID", draft.ConversationID)
		return fmt.Errorf("save draft %s: %w", draft.ConversationID, err)
	}
	return nil
}

// ResetDraft deletes the conversation's draft.
func (sm *StoreBasedStateManager) ResetDraft(ctx context.Context, conversationID string) error {
	slog.Debug("StateManager ResetDraft", "conversationID", conversationID)

	if err := sm.store.DeleteFlowState(conversationID, string(models.FlowTypeReport)); err != nil {
		slog.Error("StateManager ResetDraft error", "error", err, "conversationID", conversationID)
		return fmt.Errorf("reset draft %s: %w", conversationID, err)
	}
	return nil
}
