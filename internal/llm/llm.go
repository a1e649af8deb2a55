// Package llm wraps the gboost backend's text processing endpoints.
//
// All processing calls are fail-open: on any transport or server error the
// original text is returned unchanged with the error attached, so a
// processing failure can never block message delivery. Reply suggestion is
// the exception and reports its error, since auto-reply silently skips on
// failure rather than falling back.
package llm

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
)

// DefaultRequestTimeout bounds each processing HTTP round trip.
const DefaultRequestTimeout = 30 * time.Second

// ProcessOptions carries per-request processing hints forwarded to the server.
type ProcessOptions struct {
	GrammarCorrection bool   `json:"grammarCorrection,omitempty"`
	Tone              string `json:"tone,omitempty"`
}

// ReplyRequest asks the backend for a suggested reply to an incoming message.
type ReplyRequest struct {
	Context        []models.ContextEntry
	LastMessage    string
	WhatsAppNumber string
}

// Processor is the text processing abstraction consumed by the outbound
// pipeline and the auto-reply coordinator.
type Processor interface {
	ProcessText(ctx context.Context, text string, opts ProcessOptions) models.ProcessResult
	CorrectGrammar(ctx context.Context, text string) models.CorrectionResult
	SuggestReply(ctx context.Context, req ReplyRequest) (models.ReplySuggestion, error)
}

// Client calls the gboost backend's /api/v1/llm endpoints. Server URL,
// instance ID, bearer token, and the processing toggle are read from the
// settings store on every call so configuration changes apply immediately.
type Client struct {
	settings   *settings.Store
	httpClient *http.Client
}

// Opts holds configuration options for the processing client.
type Opts struct {
	HTTPClient *http.Client
}

// Option defines a configuration option for the processing client.
type Option func(*Opts)

// WithHTTPClient overrides the HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// NewClient creates a processing client bound to the settings store.
func NewClient(st *settings.Store, opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{settings: st, httpClient: httpClient}
}

type processRequest struct {
	Text       string         `json:"text"`
	InstanceID string         `json:"instanceId"`
	Options    ProcessOptions `json:"options"`
}

type processResponse struct {
	ProcessedText string              `json:"processedText"`
	Corrections   []models.Correction `json:"corrections,omitempty"`
}

// ProcessText runs generic text processing. If processing is disabled in the
// settings it short-circuits to the original text with no network call.
func (c *Client) ProcessText(ctx context.Context, text string, opts ProcessOptions) models.ProcessResult {
	cfg := c.settings.Current()
	if !cfg.EnableProcessing {
		slog.Debug("Client.ProcessText: processing disabled, passing through", "length", len(text))
		return models.ProcessResult{ProcessedText: text, Changed: false}
	}

	var resp processResponse
	err := c.post(ctx, cfg.ServerURL+"/api/v1/llm/process", cfg.AuthToken, processRequest{
		Text:       text,
		InstanceID: cfg.InstanceID,
		Options:    opts,
	}, &resp)
	if err != nil {
		slog.Warn("Client.ProcessText: failed, falling back to original text", "error", err)
		return models.ProcessResult{ProcessedText: text, Changed: false, Err: err}
	}

	return models.ProcessResult{
		ProcessedText: resp.ProcessedText,
		Changed:       resp.ProcessedText != text,
		Corrections:   resp.Corrections,
	}
}

type grammarRequest struct {
	Text       string `json:"text"`
	InstanceID string `json:"instanceId"`
	Language   string `json:"language"`
}

type grammarResponse struct {
	CorrectedText    string              `json:"correctedText"`
	Corrections      []models.Correction `json:"corrections,omitempty"`
	DetectedLanguage string              `json:"detectedLanguage,omitempty"`
}

// CorrectGrammar runs grammar-specific correction with server-side language
// detection. Same fail-open contract as ProcessText.
func (c *Client) CorrectGrammar(ctx context.Context, text string) models.CorrectionResult {
	cfg := c.settings.Current()
	if !cfg.EnableProcessing {
		return models.CorrectionResult{Original: text, ProcessedText: text, Changed: false}
	}

	var resp grammarResponse
	err := c.post(ctx, cfg.ServerURL+"/api/v1/llm/grammar", cfg.AuthToken, grammarRequest{
		Text:       text,
		InstanceID: cfg.InstanceID,
		Language:   "auto",
	}, &resp)
	if err != nil {
		slog.Warn("Client.CorrectGrammar: failed, falling back to original text", "error", err)
		return models.CorrectionResult{Original: text, ProcessedText: text, Changed: false, Err: err}
	}

	return models.CorrectionResult{
		Original:      text,
		ProcessedText: resp.CorrectedText,
		Corrections:   resp.Corrections,
		Language:      resp.DetectedLanguage,
		Changed:       resp.CorrectedText != text,
	}
}

type replyRequestBody struct {
	Context        []models.ContextEntry `json:"context"`
	LastMessages   string                `json:"lastMessages"`
	InstanceID     string                `json:"instanceId"`
	WhatsAppNumber string                `json:"whatsappNumber"`
}

type replyResponse struct {
	SuggestedReply string  `json:"suggestedReply"`
	Confidence     float64 `json:"confidence"`
	AutoSend       bool    `json:"autoSend"`
}

// SuggestReply asks the backend for a reply suggestion given recent
// conversation context. Unlike the processing calls this reports failures;
// callers skip the auto-reply on error.
func (c *Client) SuggestReply(ctx context.Context, req ReplyRequest) (models.ReplySuggestion, error) {
	cfg := c.settings.Current()

	var resp replyResponse
	err := c.post(ctx, cfg.ServerURL+"/api/v1/llm/auto-reply", cfg.AuthToken, replyRequestBody{
		Context:        req.Context,
		LastMessages:   req.LastMessage,
		InstanceID:     cfg.InstanceID,
		WhatsAppNumber: req.WhatsAppNumber,
	}, &resp)
	if err != nil {
		return models.ReplySuggestion{}, fmt.Errorf("reply suggestion failed: %w", err)
	}

	return models.ReplySuggestion{
		SuggestedReply: resp.SuggestedReply,
		Confidence:     resp.Confidence,
		AutoSend:       resp.AutoSend,
	}, nil
}

// post sends a JSON POST with optional bearer auth and decodes a JSON reply.
// Any non-2xx status is treated uniformly as failure.
func (c *Client) post(ctx context.Context, url, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
