package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "+14155552671", "Hello Test")
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

func TestMockClient_SendErr(t *testing.T) {
	mock := NewMockClient()
	mock.SendErr = errors.New("twilio unavailable")

	if err := mock.SendMessage(context.Background(), "+14155552671", "hi"); err == nil {
		t.Fatal("expected injected error")
	}
	if len(mock.SentMessages) != 0 {
		t.Error("failed send must not be recorded")
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestNewClient_WithOptions(t *testing.T) {
	client, err := NewClient(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromWhats("whatsapp:+14155550000"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.fromWhats != "whatsapp:+14155550000" {
		t.Errorf("fromWhats not applied: %q", client.fromWhats)
	}
}
