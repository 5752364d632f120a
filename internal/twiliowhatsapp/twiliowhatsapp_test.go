package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestWhatsAppAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+15551234567", "whatsapp:+15551234567"},
		{"whatsapp:+15551234567", "whatsapp:+15551234567"},
	}
	for _, tt := range tests {
		if got := WhatsAppAddress(tt.in); got != tt.want {
			t.Errorf("WhatsAppAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error without sending number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromWhats("+15550001111"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550001111" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}
