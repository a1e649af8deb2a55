// Package testutil provides common test utilities and helpers for assist tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gboost/assist/internal/api"
	"github.com/gboost/assist/internal/auth"
	"github.com/gboost/assist/internal/autoreply"
	"github.com/gboost/assist/internal/correction"
	"github.com/gboost/assist/internal/llm"
	"github.com/gboost/assist/internal/messaging"
	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/pipeline"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

// TestServer bundles a fully wired API server with its in-memory dependencies
// so tests can both drive the HTTP surface and inspect side effects.
type TestServer struct {
	Server     *api.Server
	Settings   *settings.Store
	Store      *store.InMemoryStore
	MsgService *messaging.MockService
	AutoReply  *autoreply.Coordinator
}

// NewTestServer creates a test API server with in-memory dependencies. Text
// processing is disabled so no network calls are attempted; tests that need
// processing enable it and point ServerURL at an httptest server.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	persist := store.NewInMemoryStore()
	st := settings.New(persist)
	if _, err := st.Load(); err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	off := false
	if _, err := st.Save(models.SettingsPatch{EnableProcessing: &off}); err != nil {
		t.Fatalf("failed to disable processing: %v", err)
	}

	msgService := messaging.NewMockService()
	authCoord := auth.NewCoordinator(st, persist, auth.WithExtensionID("ext-test"))
	processor := llm.NewClient(st)
	pipe := pipeline.New(st, persist, processor, correction.NewFlow(), msgService)
	autoReply := autoreply.NewCoordinator(st, persist, processor, msgService)

	return &TestServer{
		Server:     api.NewServer(st, persist, authCoord, pipe, autoReply, msgService),
		Settings:   st,
		Store:      persist,
		MsgService: msgService,
		AutoReply:  autoReply,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
