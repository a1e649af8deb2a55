package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/whatsapp"
)

// Ensure the implementations satisfy the Service interface
func TestServiceImplementations(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
	var _ Service = (*MockService)(nil)
}

// Test SendMessage emits a sent receipt
func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()
	to, body := "+14155552671", "hello"
	if err := svc.SendMessage(ctx, to, body); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != to {
			t.Errorf("expected receipt.To %s, got %s", to, receipt.To)
		}
		if receipt.Status != models.StatusTypeSent {
			t.Errorf("expected receipt.Status %s, got %s", models.StatusTypeSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_InvalidRecipient(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)

	if err := svc.SendMessage(context.Background(), "not-a-number", "hello"); !errors.Is(err, models.ErrInvalidPhoneNumber) {
		t.Errorf("expected ErrInvalidPhoneNumber, got %v", err)
	}
	if len(mockClient.Sent()) != 0 {
		t.Error("invalid recipient must not reach the client")
	}
}

func TestWhatsAppService_CanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	canonical, err := svc.ValidateAndCanonicalizeRecipient("+1 (415) 555-2671")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if canonical != "+14155552671" {
		t.Errorf("expected +14155552671, got %s", canonical)
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	// After Stop, Receipts and Responses channels should be closed
	// Receiving from closed channels yields zero value immediately
	receipt, ok := <-svc.Receipts()
	if ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	response, ok := <-svc.Responses()
	if ok {
		t.Errorf("expected responses channel closed, got value %v", response)
	}
}

func TestWhatsAppService_SendAfterStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+14155552671", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
