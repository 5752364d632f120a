package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/store"
	"github.com/BTreeMap/ReportPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReportPipe/internal/whatsapp"
)

type fakeEngine struct {
	mu       sync.Mutex
	commands []flow.Command
	ids      []string
}

func (f *fakeEngine) Handle(ctx context.Context, conversationID string, cmd flow.Command) flow.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	f.ids = append(f.ids, conversationID)
	return flow.Outcome{
		ConversationID: conversationID,
		State:          models.StatePathwaySelect,
		Prompt:         flow.Prompt{Step: models.StatePathwaySelect, Text: "menu"},
	}
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func TestProcessResponseRoutesToEngine(t *testing.T) {
	client := whatsapp.NewMockClient()
	svc := NewWhatsAppService(client)
	engine := &fakeEngine{}
	st := store.NewInMemoryStore()
	rh := NewResponseHandler(svc, engine, st)

	err := rh.ProcessResponse(context.Background(), models.Response{ID: "m1", From: "+1 555 123 4567", Body: "back"})
	if err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if engine.ids[0] != "15551234567" || engine.commands[0].Kind != flow.CommandBack {
		t.Errorf("engine got %v %+v", engine.ids, engine.commands)
	}
	if sent := client.Sent(); len(sent) != 1 || sent[0].Body != "menu" {
		t.Errorf("prompt not sent: %+v", sent)
	}
	responses, _ := st.GetResponses()
	if len(responses) != 1 || responses[0].From != "15551234567" {
		t.Errorf("response not stored canonically: %+v", responses)
	}
}

func TestProcessResponseDropsDuplicates(t *testing.T) {
	engine := &fakeEngine{}
	rh := NewResponseHandler(NewWhatsAppService(whatsapp.NewMockClient()), engine, store.NewInMemoryStore())

	msg := models.Response{ID: "dup-1", From: "15551234567", Body: "hello"}
	for i := 0; i < 3; i++ {
		if err := rh.ProcessResponse(context.Background(), msg); err != nil {
			t.Fatalf("ProcessResponse failed: %v", err)
		}
	}
	if engine.count() != 1 {
		t.Errorf("engine called %d times, want 1", engine.count())
	}

	// Messages without an id cannot be de-duplicated.
	msg.ID = ""
	_ = rh.ProcessResponse(context.Background(), msg)
	_ = rh.ProcessResponse(context.Background(), msg)
	if engine.count() != 3 {
		t.Errorf("engine called %d times, want 3", engine.count())
	}
}

func TestProcessResponseRejectsInvalidSender(t *testing.T) {
	engine := &fakeEngine{}
	rh := NewResponseHandler(NewWhatsAppService(whatsapp.NewMockClient()), engine, nil)
	if err := rh.ProcessResponse(context.Background(), models.Response{From: "abc", Body: "hi"}); err == nil {
		t.Error("expected error for invalid sender")
	}
	if engine.count() != 0 {
		t.Error("engine must not see invalid senders")
	}
}

func TestResponseHandlerDrivesRealEngine(t *testing.T) {
	st := store.NewInMemoryStore()
	states := flow.NewStoreBasedStateManager(st)
	finalizer := flow.NewFinalizer(st, nil, states, flow.BroadcastConfig{})
	engine := flow.NewEngine(states, finalizer)

	client := whatsapp.NewMockClient()
	rh := NewResponseHandler(NewWhatsAppService(client), engine, st)
	ctx := context.Background()

	for _, body := range []string{"hi", "Radiology"} {
		if err := rh.ProcessResponse(ctx, models.Response{From: "15551234567", Body: body}); err != nil {
			t.Fatalf("ProcessResponse(%q) failed: %v", body, err)
		}
	}
	sent := client.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Body, "1. New consultation") {
		t.Errorf("menu not numbered:\n%s", sent[0].Body)
	}
	if !strings.Contains(sent[1].Body, "patient's full name") {
		t.Errorf("expected the first radiology question:\n%s", sent[1].Body)
	}
}

func TestResponseHandlerStartConsumesChannels(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	engine := &fakeEngine{}
	st := store.NewInMemoryStore()
	rh := NewResponseHandler(svc, engine, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rh.Start(ctx)

	svc.safeEmitResponse(models.Response{ID: "SM1", From: "whatsapp:+15551234567", Body: "menu"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		receipts, _ := st.GetReceipts()
		if engine.count() == 1 && len(receipts) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("engine calls = %d; receipts not recorded", engine.count())
}
