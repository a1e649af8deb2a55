// Package auth coordinates pairing against the gboost backend.
//
// The state machine is Unauthenticated -> Pending -> {Authenticated, Failed,
// TimedOut}. A pairing request is created remotely, polled on a fixed
// interval with an explicit attempt cap, and the resulting token is persisted
// into the settings store, which broadcasts the change to the rest of the
// pipeline. Auth calls fail closed: no token is ever granted on error.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
	"github.com/google/uuid"
)

// Polling policy constants. ~5 minutes of polling total.
const (
	// DefaultPollInterval is the delay between status polls.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxPollAttempts caps the number of status polls per request.
	DefaultMaxPollAttempts = 60
	// DefaultRequestTimeout bounds each auth HTTP round trip.
	DefaultRequestTimeout = 30 * time.Second
)

// Coordinator drives the authentication state machine.
type Coordinator struct {
	settings     *settings.Store
	st           store.Store
	httpClient   *http.Client
	extensionID  string
	pollInterval time.Duration
	maxAttempts  int
}

// Opts holds configuration options for the coordinator.
type Opts struct {
	HTTPClient   *http.Client
	ExtensionID  string
	PollInterval time.Duration
	MaxAttempts  int
}

// Option defines a configuration option for the coordinator.
type Option func(*Opts)

// WithHTTPClient overrides the HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithExtensionID sets the identifier sent with pairing requests.
func WithExtensionID(id string) Option {
	return func(o *Opts) { o.ExtensionID = id }
}

// WithPollInterval overrides the polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithMaxAttempts overrides the polling attempt cap.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// NewCoordinator creates an authentication coordinator.
func NewCoordinator(st *settings.Store, persist store.Store, opts ...Option) *Coordinator {
	cfg := Opts{PollInterval: DefaultPollInterval, MaxAttempts: DefaultMaxPollAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if cfg.ExtensionID == "" {
		cfg.ExtensionID = uuid.NewString()
	}
	return &Coordinator{
		settings:     st,
		st:           persist,
		httpClient:   cfg.HTTPClient,
		extensionID:  cfg.ExtensionID,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
	}
}

type pairingRequest struct {
	WhatsAppNumber string `json:"whatsappNumber"`
	ExtensionID    string `json:"extensionId"`
	Timestamp      int64  `json:"timestamp"`
}

type pairingResponse struct {
	RequestID string `json:"requestId"`
}

// RequestAuthentication validates the phone number and starts a pairing
// request. Invalid numbers fail immediately with ErrInvalidPhoneNumber and no
// network call; backend failures surface as ErrAuthRequestFailed.
func (c *Coordinator) RequestAuthentication(ctx context.Context, phoneNumber string) (*models.AuthRequest, error) {
	number, err := models.NormalizePhoneNumber(phoneNumber)
	if err != nil {
		slog.Warn("Coordinator.RequestAuthentication: invalid phone number", "error", err)
		return nil, err
	}

	cfg := c.settings.Current()
	body, err := json.Marshal(pairingRequest{
		WhatsAppNumber: number,
		ExtensionID:    c.extensionID,
		Timestamp:      time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pairing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ServerURL+"/api/v1/auth/whatsapp/request", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build pairing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Coordinator.RequestAuthentication: request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrAuthRequestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Coordinator.RequestAuthentication: server rejected request", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: server returned status %d", models.ErrAuthRequestFailed, resp.StatusCode)
	}

	var pr pairingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", models.ErrAuthRequestFailed, err)
	}

	authReq := models.AuthRequest{
		RequestID:      pr.RequestID,
		WhatsAppNumber: number,
		CreatedAt:      time.Now().UTC(),
		Status:         models.AuthRequestPending,
	}
	if err := c.st.SaveAuthRequest(authReq); err != nil {
		return nil, fmt.Errorf("failed to persist auth request: %w", err)
	}
	if _, err := c.settings.Save(models.SettingsPatch{WhatsAppNumber: &number}); err != nil {
		return nil, fmt.Errorf("failed to persist phone number: %w", err)
	}

	slog.Info("Coordinator.RequestAuthentication: pairing request created", "requestID", pr.RequestID)
	return &authReq, nil
}

type statusResponse struct {
	Status     string `json:"status"`
	Token      string `json:"token,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// PollOnce performs a single status poll for the given request. An attempt
// beyond the cap yields AuthRequestTimedOut immediately with no network
// call. Transient transport errors and unknown statuses keep the request
// pending; completed and failed are terminal and persisted.
func (c *Coordinator) PollOnce(ctx context.Context, requestID string, attempt int) (models.AuthRequestStatus, error) {
	if attempt > c.maxAttempts {
		slog.Warn("Coordinator.PollOnce: attempt cap reached", "requestID", requestID, "attempt", attempt)
		c.markRequest(requestID, models.AuthRequestTimedOut, "authentication timed out")
		return models.AuthRequestTimedOut, nil
	}

	cfg := c.settings.Current()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ServerURL+"/api/v1/auth/whatsapp/status/"+requestID, nil)
	if err != nil {
		return models.AuthRequestPending, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transient network error: keep polling.
		slog.Debug("Coordinator.PollOnce: transient error, still pending", "requestID", requestID, "attempt", attempt, "error", err)
		return models.AuthRequestPending, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("Coordinator.PollOnce: non-2xx status, still pending", "requestID", requestID, "status", resp.StatusCode)
		return models.AuthRequestPending, nil
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		slog.Debug("Coordinator.PollOnce: undecodable response, still pending", "requestID", requestID, "error", err)
		return models.AuthRequestPending, nil
	}

	switch sr.Status {
	case "completed":
		if _, err := c.settings.Save(models.SettingsPatch{AuthToken: &sr.Token, InstanceID: &sr.InstanceID}); err != nil {
			return models.AuthRequestPending, fmt.Errorf("failed to persist token: %w", err)
		}
		c.markRequest(requestID, models.AuthRequestCompleted, "")
		slog.Info("Coordinator.PollOnce: authentication completed", "requestID", requestID)
		return models.AuthRequestCompleted, nil
	case "failed":
		c.markRequest(requestID, models.AuthRequestFailed, sr.Message)
		slog.Warn("Coordinator.PollOnce: authentication failed", "requestID", requestID, "message", sr.Message)
		return models.AuthRequestFailed, nil
	default:
		return models.AuthRequestPending, nil
	}
}

// Poll runs the polling loop for a pairing request until a terminal state,
// the attempt cap, or context cancellation. This replaces the original
// self-rescheduling timers with an explicit, cancellable retry policy.
func (c *Coordinator) Poll(ctx context.Context, requestID string) (models.AuthRequestStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		status, err := c.PollOnce(ctx, requestID, attempt)
		if err != nil {
			return status, err
		}
		if status != models.AuthRequestPending {
			return status, nil
		}
		if attempt >= c.maxAttempts {
			c.markRequest(requestID, models.AuthRequestTimedOut, "authentication timed out")
			return models.AuthRequestTimedOut, nil
		}

		select {
		case <-ctx.Done():
			slog.Debug("Coordinator.Poll: cancelled", "requestID", requestID, "attempt", attempt)
			return models.AuthRequestPending, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status reports the current authentication state. Without a stored token it
// returns Unauthenticated with no network call. With one, the token is
// verified against the backend; any verification failure clears the token
// (fail closed) and reports Unauthenticated.
func (c *Coordinator) Status(ctx context.Context) models.AuthStatus {
	cfg := c.settings.Current()
	if !cfg.Authenticated() {
		return models.AuthStatus{State: models.AuthStateUnauthenticated}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ServerURL+"/api/v1/auth/verify", nil)
	if err != nil {
		return models.AuthStatus{State: models.AuthStateUnauthenticated, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("Coordinator.Status: verification failed, clearing token", "error", err)
		c.clearToken()
		return models.AuthStatus{State: models.AuthStateUnauthenticated, Message: "token verification failed"}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Coordinator.Status: token rejected, clearing token", "status", resp.StatusCode)
		c.clearToken()
		return models.AuthStatus{State: models.AuthStateUnauthenticated, Message: "token rejected by server"}
	}

	return models.AuthStatus{
		State:          models.AuthStateAuthenticated,
		WhatsAppNumber: cfg.WhatsAppNumber,
		InstanceID:     cfg.InstanceID,
	}
}

// ClearAuthentication wipes the stored token and instance ID.
func (c *Coordinator) ClearAuthentication() error {
	return c.clearToken()
}

func (c *Coordinator) clearToken() error {
	empty := ""
	if _, err := c.settings.Save(models.SettingsPatch{AuthToken: &empty, InstanceID: &empty}); err != nil {
		slog.Error("Coordinator.clearToken: failed to clear token", "error", err)
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// markRequest persists a status transition for a stored auth request.
func (c *Coordinator) markRequest(requestID string, status models.AuthRequestStatus, message string) {
	existing, err := c.st.GetAuthRequest(requestID)
	if err != nil || existing == nil {
		if err != nil {
			slog.Error("Coordinator.markRequest: lookup failed", "requestID", requestID, "error", err)
		}
		return
	}
	existing.Status = status
	existing.Message = message
	if err := c.st.SaveAuthRequest(*existing); err != nil {
		slog.Error("Coordinator.markRequest: save failed", "requestID", requestID, "error", err)
	}
}
