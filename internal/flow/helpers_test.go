package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/reference"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

type recordingSaver struct {
	mu      sync.Mutex
	calls   int
	reports []models.Report
	err     error
}

func (s *recordingSaver) SaveReport(r models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r)
	return nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	calls   int
	reports []models.Report
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, r models.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.reports = append(p.reports, r)
	return nil
}

type fixture struct {
	engine    *Engine
	store     *store.InMemoryStore
	states    *StoreBasedStateManager
	saver     *recordingSaver
	publisher *recordingPublisher
}

const testConversation = "15551234567"

func seedReferences(t *testing.T, p reference.Registry) {
	t.Helper()
	seed := reference.Seed{
		Hospitals: []reference.SeedHospital{
			{Name: "City Hospital", Departments: []reference.SeedDepartment{
				{Name: "Internal Medicine", Doctors: []string{"Dr. Hadi"}},
				{Name: "Surgery", Doctors: []string{"Dr. Rana"}},
			}},
			{Name: "Ibn Sina", Departments: []reference.SeedDepartment{
				{Name: "Internal Medicine", Doctors: []string{"Dr. Sami"}},
			}},
			{Name: "Al Amal", Departments: []reference.SeedDepartment{
				{Name: "Pediatrics", Doctors: []string{"Dr. Nour"}},
			}},
		},
		Translators: []string{"Omar", "Layla"},
	}
	for _, opt := range seed.Options() {
		if err := p.Add(context.Background(), opt); err != nil {
			t.Fatalf("seed reference option: %v", err)
		}
	}
}

func newFixture(t *testing.T, broadcast bool) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	refs := reference.NewStoreProvider(st)
	seedReferences(t, refs)

	states := NewStoreBasedStateManager(st)
	saver := &recordingSaver{}
	publisher := &recordingPublisher{}
	var n atomic.Int64
	finalizer := NewFinalizer(saver, publisher, states, BroadcastConfig{Enabled: broadcast},
		WithReportIDs(func() string { return fmt.Sprintf("report-%d", n.Add(1)) }))
	engine := NewEngine(states, finalizer, WithOptionProvider(refs))
	return &fixture{engine: engine, store: st, states: states, saver: saver, publisher: publisher}
}

// validAnswers holds an accepted raw answer per step.
var validAnswers = map[models.StepID]string{
	models.StepPatientName:      "Ali Hassan",
	models.StepHospital:         "City Hospital",
	models.StepDepartment:       "Internal Medicine",
	models.StepDoctor:           "Dr. Hadi",
	models.StepComplaint:        "cough",
	models.StepDiagnosis:        "bronchitis",
	models.StepDecision:         "medication",
	models.StepTests:            "CBC, chest X-ray",
	models.StepRoomNumber:       "204",
	models.StepFollowupDate:     "14/03/2025",
	models.StepTranslator:       "Omar",
	models.StepEmergencyStatus:  "Admitted",
	models.StepAdmissionReason:  "pneumonia",
	models.StepNotes:            "stable",
	models.StepOperationName:    "appendectomy",
	models.StepOperationDetails: "laparoscopic, no complications",
	models.StepDischargeType:    "Recovered",
	models.StepAdmissionSummary: "five days of IV antibiotics",
	models.StepTherapyType:      "Physiotherapy",
	models.StepTherapyDetails:   "three sessions a week",
	models.StepSuccessRate:      "80",
	models.StepRecommendations:  "rest",
	models.StepRadiologyType:    "MRI",
	models.StepDeliveryDate:     "2025-04-01",
	models.StepRescheduleReason: "doctor unavailable",
	models.StepTestNames:        "HbA1c",
	models.StepResultsDate:      "2025-04-02",
	models.StepDeviceName:       "wheelchair",
}

func (f *fixture) send(t *testing.T, raw string) Outcome {
	t.Helper()
	return f.engine.Handle(context.Background(), testConversation, ParseCommand(raw))
}

func (f *fixture) draft(t *testing.T) *models.DraftRecord {
	t.Helper()
	d, err := f.states.GetDraft(context.Background(), testConversation)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	return d
}

// walk starts pathway and answers every step until stop (or CONFIRM).
func (f *fixture) walk(t *testing.T, pathway models.PathwayID, stop models.StepID, overrides map[models.StepID]string) Outcome {
	t.Helper()
	out := f.send(t, "start:"+string(pathway))
	if out.Err != nil {
		t.Fatalf("start %s failed: %v", pathway, out.Err)
	}
	for out.State != stop && out.State != models.StateConfirm {
		answer, ok := overrides[out.State]
		if !ok {
			answer = validAnswers[out.State]
		}
		prev := out.State
		out = f.send(t, answer)
		if out.Err != nil {
			t.Fatalf("answer %q for %s rejected: %v", answer, prev, out.Err)
		}
	}
	return out
}

func expectState(t *testing.T, out Outcome, want models.StepID) {
	t.Helper()
	if out.State != want {
		t.Fatalf("state = %s, want %s (prompt error %q, err %v)", out.State, want, out.Prompt.Error, out.Err)
	}
}

func expectPrefill(t *testing.T, out Outcome, want string) {
	t.Helper()
	if !out.Prompt.HasPrefill || out.Prompt.Prefill != want {
		t.Fatalf("prefill = %q (has %v), want %q", out.Prompt.Prefill, out.Prompt.HasPrefill, want)
	}
}
