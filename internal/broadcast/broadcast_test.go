package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
	_ "github.com/lib/pq"
)

type recordedMessage struct {
	To   string
	Body string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []recordedMessage
	failFor map[string]bool
}

func (f *fakeSender) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return errors.New("unreachable")
	}
	f.sent = append(f.sent, recordedMessage{To: to, Body: body})
	return nil
}

type stubPublisher struct {
	calls int
	err   error
}

func (s *stubPublisher) Publish(ctx context.Context, report models.Report) error {
	s.calls++
	return s.err
}

func sampleReport() models.Report {
	return models.Report{
		ID:             "report-7",
		PathwayID:      models.PathwayRadiology,
		ConversationID: "15551234567",
		Fields: map[string]string{
			"translator":     "Omar",
			"patient_name":   "Ali Hassan",
			"radiology_type": "MRI",
			"legacy_note":    "kept",
		},
		CreatedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestChatPublisherSendsToEveryRecipient(t *testing.T) {
	sender := &fakeSender{}
	pub, err := NewChatPublisher(sender, []string{" 111 ", "", "222"})
	if err != nil {
		t.Fatalf("NewChatPublisher failed: %v", err)
	}
	if err := pub.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(sender.sent) != 2 || sender.sent[0].To != "111" || sender.sent[1].To != "222" {
		t.Fatalf("unexpected deliveries: %+v", sender.sent)
	}

	body := sender.sent[0].Body
	for _, want := range []string{"Radiology", "report-7", "Patient name: Ali Hassan", "legacy_note: kept"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Index(body, "Ali Hassan") > strings.Index(body, "MRI") ||
		strings.Index(body, "MRI") > strings.Index(body, "Omar") {
		t.Errorf("fields not in pathway order:\n%s", body)
	}
}

func TestChatPublisherReportsPartialFailure(t *testing.T) {
	sender := &fakeSender{failFor: map[string]bool{"222": true}}
	pub, _ := NewChatPublisher(sender, []string{"111", "222"})
	err := pub.Publish(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "222") {
		t.Fatalf("expected failure naming 222, got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("healthy recipient should still receive the report")
	}
}

func TestNewChatPublisherValidation(t *testing.T) {
	if _, err := NewChatPublisher(&fakeSender{}, []string{" ", ""}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("err = %v, want ErrNoRecipients", err)
	}
	if _, err := NewChatPublisher(nil, []string{"111"}); err == nil {
		t.Error("expected error for nil sender")
	}
}

func TestParseRecipients(t *testing.T) {
	got := ParseRecipients(" 111, ,222,")
	if len(got) != 2 || got[0] != "111" || got[1] != "222" {
		t.Errorf("ParseRecipients = %v", got)
	}
	if ParseRecipients("") != nil {
		t.Error("empty list should give nil")
	}
}

func TestMultiPublisher(t *testing.T) {
	ok := &stubPublisher{}
	bad := &stubPublisher{err: errors.New("down")}
	mp := NewMultiPublisher(ok, nil, bad)
	if mp.Len() != 2 {
		t.Fatalf("Len = %d", mp.Len())
	}
	err := mp.Publish(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("err = %v", err)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("calls = %d, %d", ok.calls, bad.calls)
	}
	if err := NewMultiPublisher().Publish(context.Background(), sampleReport()); err != nil {
		t.Errorf("empty MultiPublisher returned %v", err)
	}
}

func TestPostgresNotifierRoundTrip(t *testing.T) {
	dsn, ok := syscall.Getenv("DATABASE_URL")
	if !ok || dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	channel := "reportpipe_test_" + time.Now().Format("150405")
	notes, err := Listen(ctx, dsn, channel)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	n := NewPostgresNotifier(db, channel)
	if err := n.Publish(ctx, sampleReport()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case note := <-notes:
		if note.ReportID != "report-7" || note.PathwayID != models.PathwayRadiology {
			t.Errorf("unexpected notification %+v", note)
		}
	case <-ctx.Done():
		t.Fatal("notification not received")
	}
}

func TestNewPostgresNotifierDefaultChannel(t *testing.T) {
	if NewPostgresNotifier(nil, "").Channel() != DefaultNotifyChannel {
		t.Error("default channel not applied")
	}
}
