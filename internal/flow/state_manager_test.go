package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

func TestStoreBasedStateManager(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	sm := NewStoreBasedStateManager(st)

	d, err := sm.GetDraft(ctx, testConversation)
	if err != nil || d != nil {
		t.Fatalf("expected no draft, got %+v, %v", d, err)
	}

	draft := models.NewDraftRecord(testConversation)
	draft.PathwayID = models.PathwayEmergency
	draft.MedicalAction = "Emergency"
	draft.CurrentStep = models.StepDiagnosis
	draft.Set(models.StepPatientName, "Ali Hassan")
	if err := sm.SaveDraft(ctx, draft); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	fs, err := st.GetFlowState(testConversation, string(models.FlowTypeReport))
	if err != nil || fs == nil {
		t.Fatalf("flow state not stored: %v", err)
	}
	if fs.CurrentState != string(models.StepDiagnosis) {
		t.Errorf("stored step = %s", fs.CurrentState)
	}

	got, err := sm.GetDraft(ctx, testConversation)
	if err != nil || got == nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if got.PathwayID != models.PathwayEmergency || got.MedicalAction != "Emergency" {
		t.Errorf("control data lost: %+v", got)
	}
	if v, _ := got.Value(models.StepPatientName); v != "Ali Hassan" {
		t.Errorf("patient_name = %q", v)
	}

	if err := sm.ResetDraft(ctx, testConversation); err != nil {
		t.Fatalf("ResetDraft failed: %v", err)
	}
	if d, _ := sm.GetDraft(ctx, testConversation); d != nil {
		t.Error("draft survived reset")
	}
}

func TestSaveDraftRequiresConversation(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	if err := sm.SaveDraft(context.Background(), models.NewDraftRecord("")); err == nil {
		t.Error("expected error for empty conversation id")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")
	unlockB := k.lock("b")
	if k.size() != 2 {
		t.Fatalf("size = %d", k.size())
	}

	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		unlock := k.lock("a")
		close(acquired)
		unlock()
		close(done)
	}()
	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	default:
	}

	unlockA()
	<-acquired
	<-done
	unlockB()
	if k.size() != 0 {
		t.Errorf("entries leaked: %d", k.size())
	}
}
