package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

// newTestSettings builds a settings store pointed at the given server URL.
func newTestSettings(t *testing.T, serverURL string, enableProcessing bool) *settings.Store {
	t.Helper()
	st := settings.New(store.NewInMemoryStore())
	if _, err := st.Load(); err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	token := "test-token"
	instance := "inst-1"
	if _, err := st.Save(models.SettingsPatch{
		ServerURL:        &serverURL,
		EnableProcessing: &enableProcessing,
		AuthToken:        &token,
		InstanceID:       &instance,
	}); err != nil {
		t.Fatalf("failed to save settings: %v", err)
	}
	return st
}

func TestProcessText_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/llm/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["instanceId"] != "inst-1" {
			t.Errorf("expected instance ID in request, got %v", body["instanceId"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"processedText": "Hello world."})
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, true))
	result := client.ProcessText(context.Background(), "helo world", ProcessOptions{})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.ProcessedText != "Hello world." || !result.Changed {
		t.Errorf("unexpected result: %+v", result)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
}

func TestProcessText_DisabledShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, false))
	result := client.ProcessText(context.Background(), "hello", ProcessOptions{})

	if result.ProcessedText != "hello" || result.Changed {
		t.Errorf("expected pass-through, got %+v", result)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected zero network calls, got %d", calls)
	}
}

func TestProcessText_ServerErrorFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, true))
	result := client.ProcessText(context.Background(), "hello", ProcessOptions{})

	if result.ProcessedText != "hello" || result.Changed {
		t.Errorf("expected original text on server error, got %+v", result)
	}
	if result.Err == nil {
		t.Error("expected error indicator to be attached")
	}
}

func TestProcessText_UnreachableFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(newTestSettings(t, srv.URL, true))
	result := client.ProcessText(context.Background(), "hello", ProcessOptions{})

	if result.ProcessedText != "hello" || result.Changed {
		t.Errorf("expected original text when unreachable, got %+v", result)
	}
	if result.Err == nil {
		t.Error("expected error indicator to be attached")
	}
}

func TestCorrectGrammar_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/llm/grammar" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["language"] != "auto" {
			t.Errorf("expected language auto, got %v", body["language"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"correctedText":    "receive the message",
			"detectedLanguage": "en",
			"corrections": []map[string]string{
				{"original": "recieve", "corrected": "receive", "type": "spelling"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, true))
	result := client.CorrectGrammar(context.Background(), "recieve teh mesage")

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.ProcessedText != "receive the message" || !result.Changed {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Original != "recieve teh mesage" {
		t.Errorf("original not preserved: %q", result.Original)
	}
	if result.Language != "en" || len(result.Corrections) != 1 {
		t.Errorf("language or corrections missing: %+v", result)
	}
}

func TestCorrectGrammar_FailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, true))
	result := client.CorrectGrammar(context.Background(), "hello")

	if result.ProcessedText != "hello" || result.Changed || result.Err == nil {
		t.Errorf("expected fail-open result, got %+v", result)
	}
}

func TestSuggestReply_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/llm/auto-reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["whatsappNumber"] != "+14155552671" {
			t.Errorf("expected partner number in request, got %v", body["whatsappNumber"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"suggestedReply": "Sounds good, see you then!",
			"confidence":     0.92,
			"autoSend":       true,
		})
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, true))
	suggestion, err := client.SuggestReply(context.Background(), ReplyRequest{
		Context:        []models.ContextEntry{{Direction: models.DirectionReceived, Text: "See you at 5?"}},
		LastMessage:    "See you at 5?",
		WhatsAppNumber: "+14155552671",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if suggestion.SuggestedReply != "Sounds good, see you then!" || !suggestion.AutoSend {
		t.Errorf("unexpected suggestion: %+v", suggestion)
	}
	if suggestion.Confidence != 0.92 {
		t.Errorf("confidence lost: %v", suggestion.Confidence)
	}
}

func TestSuggestReply_ErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(newTestSettings(t, srv.URL, true))
	if _, err := client.SuggestReply(context.Background(), ReplyRequest{LastMessage: "hi"}); err == nil {
		t.Error("expected error from failed suggestion call")
	}
}
