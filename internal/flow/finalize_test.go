package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

func TestFinalizeSavesAndPublishesOnce(t *testing.T) {
	f := newFixture(t, true)
	f.walk(t, models.PathwayRehabilitation, models.StateConfirm, nil)

	out := f.send(t, "تأكيد")
	expectState(t, out, models.StatePathwaySelect)
	if out.ReportID != "report-1" || out.Err != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if f.saver.calls != 1 || f.publisher.calls != 1 {
		t.Errorf("save calls %d, publish calls %d", f.saver.calls, f.publisher.calls)
	}
	if f.publisher.reports[0].ID != out.ReportID {
		t.Errorf("published id %s, saved id %s", f.publisher.reports[0].ID, out.ReportID)
	}
	if f.draft(t) != nil {
		t.Error("draft not cleared")
	}
}

func TestFinalizeWithBroadcastDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.walk(t, models.PathwayRadiology, models.StateConfirm, nil)
	out := f.send(t, "confirm")
	expectState(t, out, models.StatePathwaySelect)
	if f.saver.calls != 1 || f.publisher.calls != 0 {
		t.Errorf("save calls %d, publish calls %d", f.saver.calls, f.publisher.calls)
	}
}

func TestFinalizeStorageFailureKeepsDraft(t *testing.T) {
	f := newFixture(t, true)
	f.walk(t, models.PathwayRadiology, models.StateConfirm, nil)

	f.saver.err = errors.New("disk full")
	out := f.send(t, "confirm")
	expectState(t, out, models.StateConfirm)
	if !errors.Is(out.Err, models.ErrStorageFailure) {
		t.Fatalf("err = %v, want ErrStorageFailure", out.Err)
	}
	if f.publisher.calls != 0 {
		t.Error("nothing may be published when saving failed")
	}
	d := f.draft(t)
	if d == nil || d.CurrentStep != models.StateConfirm || d.ReportID != "" {
		t.Fatalf("draft not preserved: %+v", d)
	}

	f.saver.err = nil
	out = f.send(t, "confirm")
	expectState(t, out, models.StatePathwaySelect)
	if len(f.saver.reports) != 1 || f.publisher.calls != 1 {
		t.Errorf("saved %d, published %d", len(f.saver.reports), f.publisher.calls)
	}
}

func TestFinalizeBroadcastFailureRetriesOnlyPublish(t *testing.T) {
	f := newFixture(t, true)
	f.walk(t, models.PathwayAppointmentReschedule, models.StateConfirm, nil)

	f.publisher.err = errors.New("whatsapp offline")
	out := f.send(t, "confirm")
	expectState(t, out, models.StateConfirm)
	if !errors.Is(out.Err, models.ErrBroadcastFailure) {
		t.Fatalf("err = %v, want ErrBroadcastFailure", out.Err)
	}
	if out.ReportID != "report-1" {
		t.Errorf("report id = %q", out.ReportID)
	}
	if d := f.draft(t); d == nil || d.ReportID != "report-1" {
		t.Fatalf("draft must remember the saved report id: %+v", d)
	}

	f.publisher.err = nil
	out = f.send(t, "confirm")
	expectState(t, out, models.StatePathwaySelect)
	if out.ReportID != "report-1" {
		t.Errorf("retry produced report id %q", out.ReportID)
	}
	if f.saver.calls != 1 || f.publisher.calls != 2 || len(f.publisher.reports) != 1 {
		t.Errorf("save calls %d, publish calls %d", f.saver.calls, f.publisher.calls)
	}
}

func TestFinalizerRejectsIncompleteDraft(t *testing.T) {
	saver := &recordingSaver{}
	publisher := &recordingPublisher{}
	states := &memoryStates{}
	fin := NewFinalizer(saver, publisher, states, BroadcastConfig{Enabled: true})

	d := models.NewDraftRecord(testConversation)
	d.PathwayID = models.PathwayLabTests
	d.CurrentStep = models.StateConfirm
	d.Set(models.StepPatientName, "Ali Hassan")

	_, err := fin.Finalize(context.Background(), d)
	var incomplete *models.IncompleteDraftError
	if !errors.As(err, &incomplete) || incomplete.Field != models.StepHospital {
		t.Fatalf("err = %v, want missing hospital", err)
	}
	if !errors.Is(err, models.ErrIncompleteDraft) {
		t.Error("IncompleteDraftError must match ErrIncompleteDraft")
	}
	if saver.calls != 0 || publisher.calls != 0 || states.resets != 0 {
		t.Error("incomplete draft must not be saved, published or cleared")
	}
}

func TestFinalizerUnknownPathway(t *testing.T) {
	fin := NewFinalizer(&recordingSaver{}, nil, &memoryStates{}, BroadcastConfig{})
	d := models.NewDraftRecord(testConversation)
	d.PathwayID = "nope"
	if _, err := fin.Finalize(context.Background(), d); !errors.Is(err, models.ErrUnknownPathway) {
		t.Errorf("err = %v, want ErrUnknownPathway", err)
	}
}

type memoryStates struct {
	drafts map[string]*models.DraftRecord
	resets int
}

func (m *memoryStates) GetDraft(ctx context.Context, id string) (*models.DraftRecord, error) {
	return m.drafts[id], nil
}

func (m *memoryStates) SaveDraft(ctx context.Context, d *models.DraftRecord) error {
	if m.drafts == nil {
		m.drafts = make(map[string]*models.DraftRecord)
	}
	m.drafts[d.ConversationID] = d
	return nil
}

func (m *memoryStates) ResetDraft(ctx context.Context, id string) error {
	m.resets++
	delete(m.drafts, id)
	return nil
}

func TestRetryPublishCompletesPendingReport(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if id, err := f.engine.RetryPublish(ctx, testConversation); id != "" || err != nil {
		t.Fatalf("no draft: id %q, err %v", id, err)
	}

	f.walk(t, models.PathwayEmergency, models.StateConfirm, nil)
	if id, err := f.engine.RetryPublish(ctx, testConversation); id != "" || err != nil {
		t.Fatalf("unconfirmed draft must be left alone: id %q, err %v", id, err)
	}

	f.publisher.err = errors.New("whatsapp offline")
	f.send(t, "confirm")
	if _, err := f.engine.RetryPublish(ctx, testConversation); !errors.Is(err, models.ErrBroadcastFailure) {
		t.Fatalf("err = %v, want ErrBroadcastFailure", err)
	}

	f.publisher.err = nil
	id, err := f.engine.RetryPublish(ctx, testConversation)
	if err != nil || id != "report-1" {
		t.Fatalf("RetryPublish = %q, %v", id, err)
	}
	if f.saver.calls != 1 {
		t.Errorf("report saved %d times", f.saver.calls)
	}
	if f.draft(t) != nil {
		t.Error("draft not cleared")
	}
}

func TestSavedReportCannotBeChanged(t *testing.T) {
	f := newFixture(t, true)
	f.walk(t, models.PathwayRadiology, models.StateConfirm, nil)

	f.publisher.err = errors.New("whatsapp offline")
	f.send(t, "confirm")
	f.publisher.err = nil

	for _, raw := range []string{"edit " + string(models.StepRadiologyType), "edit 1", "back", "keep", "CT"} {
		out := f.send(t, raw)
		expectState(t, out, models.StateConfirm)
		if !errors.Is(out.Err, models.ErrValidationFailed) {
			t.Fatalf("%q: err = %v, want ErrValidationFailed", raw, out.Err)
		}
		if out.Prompt.Error != errReportSaved {
			t.Errorf("%q: prompt error = %q", raw, out.Prompt.Error)
		}
		d := f.draft(t)
		if d == nil || d.CurrentStep != models.StateConfirm || d.Mode != models.DraftModeForward || d.ReportID != "report-1" {
			t.Fatalf("%q: draft changed: %+v", raw, d)
		}
	}

	out := f.send(t, "confirm")
	expectState(t, out, models.StatePathwaySelect)
	if f.saver.calls != 1 || len(f.publisher.reports) != 1 {
		t.Fatalf("save calls %d, published %d", f.saver.calls, len(f.publisher.reports))
	}
	key := string(models.StepRadiologyType)
	saved, published := f.saver.reports[0].Fields[key], f.publisher.reports[0].Fields[key]
	if saved != "MRI" || published != saved {
		t.Errorf("saved %q, published %q", saved, published)
	}
}

func TestCancelAfterBroadcastFailure(t *testing.T) {
	f := newFixture(t, true)
	f.walk(t, models.PathwayRadiology, models.StateConfirm, nil)

	f.publisher.err = errors.New("whatsapp offline")
	f.send(t, "confirm")

	out := f.send(t, "cancel")
	expectState(t, out, models.StatePathwaySelect)
	if f.draft(t) != nil {
		t.Error("draft not discarded")
	}
	if len(f.saver.reports) != 1 {
		t.Errorf("saved reports = %d", len(f.saver.reports))
	}
}
