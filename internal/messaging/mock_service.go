package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/gboost/assist/internal/models"
)

// MockService is an in-memory Service implementation for tests. Sent messages
// are recorded, and incoming responses can be injected with InjectResponse.
type MockService struct {
	mu        sync.Mutex
	sent      []MockSentMessage
	SendErr   error
	receipts  chan models.Receipt
	responses chan models.Response
}

// MockSentMessage is one message recorded by MockService.
type MockSentMessage struct {
	To   string
	Body string
}

// NewMockService creates a mock messaging service.
func NewMockService() *MockService {
	return &MockService{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient applies the standard phone normalization.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return models.NormalizePhoneNumber(recipient)
}

// SendMessage records the message and emits a sent receipt.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, MockSentMessage{To: to, Body: body})
	m.mu.Unlock()

	select {
	case m.receipts <- models.Receipt{To: to, Status: models.StatusTypeSent, Time: time.Now().Unix()}:
	default:
	}
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	close(m.receipts)
	close(m.responses)
	return nil
}

func (m *MockService) Receipts() <-chan models.Receipt   { return m.receipts }
func (m *MockService) Responses() <-chan models.Response { return m.responses }

// InjectResponse feeds an incoming message into the Responses channel.
func (m *MockService) InjectResponse(resp models.Response) {
	m.responses <- resp
}

// Sent returns a copy of all recorded messages.
func (m *MockService) Sent() []MockSentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
