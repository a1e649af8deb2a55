package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

func newTestCoordinator(t *testing.T, serverURL string, opts ...Option) (*Coordinator, *settings.Store, *store.InMemoryStore) {
	t.Helper()
	persist := store.NewInMemoryStore()
	st := settings.New(persist)
	if _, err := st.Load(); err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if serverURL != "" {
		if _, err := st.Save(models.SettingsPatch{ServerURL: &serverURL}); err != nil {
			t.Fatalf("failed to save settings: %v", err)
		}
	}
	opts = append([]Option{WithExtensionID("ext-test"), WithPollInterval(5 * time.Millisecond)}, opts...)
	return NewCoordinator(st, persist, opts...), st, persist
}

func TestRequestAuthentication_InvalidPhoneNoNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c, _, _ := newTestCoordinator(t, srv.URL)
	for _, number := range []string{"", "abc", "123", "+1234 56789"} {
		if _, err := c.RequestAuthentication(context.Background(), number); !errors.Is(err, models.ErrInvalidPhoneNumber) {
			t.Errorf("RequestAuthentication(%q) expected ErrInvalidPhoneNumber, got %v", number, err)
		}
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected zero network calls for invalid numbers, got %d", calls)
	}
}

func TestRequestAuthentication_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/whatsapp/request" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["whatsappNumber"] != "+14155552671" {
			t.Errorf("expected normalized number, got %v", body["whatsappNumber"])
		}
		if body["extensionId"] != "ext-test" {
			t.Errorf("expected extension ID, got %v", body["extensionId"])
		}
		json.NewEncoder(w).Encode(map[string]string{"requestId": "req-42"})
	}))
	defer srv.Close()

	c, st, persist := newTestCoordinator(t, srv.URL)
	req, err := c.RequestAuthentication(context.Background(), "+1 (415) 555-2671")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.RequestID != "req-42" || req.Status != models.AuthRequestPending {
		t.Errorf("unexpected request: %+v", req)
	}

	stored, _ := persist.GetAuthRequest("req-42")
	if stored == nil || stored.Status != models.AuthRequestPending {
		t.Error("pending request not persisted")
	}
	if st.Current().WhatsAppNumber != "+14155552671" {
		t.Error("phone number not saved to settings")
	}
}

func TestRequestAuthentication_ServerErrorFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, st, _ := newTestCoordinator(t, srv.URL)
	if _, err := c.RequestAuthentication(context.Background(), "+14155552671"); !errors.Is(err, models.ErrAuthRequestFailed) {
		t.Errorf("expected ErrAuthRequestFailed, got %v", err)
	}
	if st.Current().Authenticated() {
		t.Error("failed request must not grant authentication")
	}
}

func TestPollOnce_AttemptBeyondCapTimesOutWithoutNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c, _, persist := newTestCoordinator(t, srv.URL)
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	status, err := c.PollOnce(context.Background(), "req-1", 61)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.AuthRequestTimedOut {
		t.Errorf("expected timed out, got %s", status)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected zero network calls, got %d", calls)
	}

	stored, _ := persist.GetAuthRequest("req-1")
	if stored.Status != models.AuthRequestTimedOut {
		t.Errorf("timeout not persisted, got %s", stored.Status)
	}
}

func TestPollOnce_CompletedPersistsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/whatsapp/status/req-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":     "completed",
			"token":      "tok-99",
			"instanceId": "inst-7",
		})
	}))
	defer srv.Close()

	c, st, persist := newTestCoordinator(t, srv.URL)
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	status, err := c.PollOnce(context.Background(), "req-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.AuthRequestCompleted {
		t.Errorf("expected completed, got %s", status)
	}

	cfg := st.Current()
	if cfg.AuthToken != "tok-99" || cfg.InstanceID != "inst-7" {
		t.Errorf("token not persisted: %+v", cfg)
	}
	if !cfg.Authenticated() {
		t.Error("expected authenticated after completion")
	}
}

func TestPollOnce_FailedSurfacesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "message": "pairing rejected"})
	}))
	defer srv.Close()

	c, st, persist := newTestCoordinator(t, srv.URL)
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	status, err := c.PollOnce(context.Background(), "req-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.AuthRequestFailed {
		t.Errorf("expected failed, got %s", status)
	}
	stored, _ := persist.GetAuthRequest("req-1")
	if stored.Message != "pairing rejected" {
		t.Errorf("server message lost: %q", stored.Message)
	}
	if st.Current().Authenticated() {
		t.Error("failed pairing must not grant authentication")
	}
}

func TestPollOnce_TransientErrorStaysPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _, persist := newTestCoordinator(t, srv.URL)
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	status, err := c.PollOnce(context.Background(), "req-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.AuthRequestPending {
		t.Errorf("expected pending on transient error, got %s", status)
	}
}

func TestPoll_ReachesCompletion(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n < 3 {
			json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "completed", "token": "tok", "instanceId": "inst"})
	}))
	defer srv.Close()

	c, _, persist := newTestCoordinator(t, srv.URL)
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	status, err := c.Poll(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.AuthRequestCompleted {
		t.Errorf("expected completed, got %s", status)
	}
}

func TestPoll_CapYieldsTimedOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	c, _, persist := newTestCoordinator(t, srv.URL, WithMaxAttempts(3))
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	status, err := c.Poll(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.AuthRequestTimedOut {
		t.Errorf("expected timed out at cap, got %s", status)
	}
}

func TestPoll_Cancellable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	c, _, persist := newTestCoordinator(t, srv.URL, WithPollInterval(time.Hour))
	persist.SaveAuthRequest(models.AuthRequest{RequestID: "req-1", Status: models.AuthRequestPending, CreatedAt: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Poll(ctx, "req-1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStatus_NoTokenNoNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c, _, _ := newTestCoordinator(t, srv.URL)
	status := c.Status(context.Background())
	if status.State != models.AuthStateUnauthenticated {
		t.Errorf("expected unauthenticated, got %s", status.State)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected zero network calls without token, got %d", calls)
	}
}

func TestStatus_ValidTokenAuthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, st, _ := newTestCoordinator(t, srv.URL)
	token, instance, number := "tok-1", "inst-1", "+14155552671"
	st.Save(models.SettingsPatch{AuthToken: &token, InstanceID: &instance, WhatsAppNumber: &number})

	status := c.Status(context.Background())
	if status.State != models.AuthStateAuthenticated {
		t.Fatalf("expected authenticated, got %+v", status)
	}
	if status.WhatsAppNumber != "+14155552671" || status.InstanceID != "inst-1" {
		t.Errorf("cached info missing: %+v", status)
	}
}

func TestStatus_RejectedTokenClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, st, _ := newTestCoordinator(t, srv.URL)
	token := "tok-stale"
	st.Save(models.SettingsPatch{AuthToken: &token})

	status := c.Status(context.Background())
	if status.State != models.AuthStateUnauthenticated {
		t.Errorf("expected unauthenticated, got %s", status.State)
	}
	if st.Current().Authenticated() {
		t.Error("rejected token must be cleared from settings")
	}
}
