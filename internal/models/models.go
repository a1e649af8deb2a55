// Package models defines the core data structures for the assist service.
//
// It includes the persisted settings record, authentication requests, text
// processing results, and the conversation context types shared across modules.
package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// DefaultServerURL is the gboost backend used when no server URL is configured.
const DefaultServerURL = "https://api.gboost.app"

// MaxContextEntries bounds the per-partner conversation context window.
const MaxContextEntries = 10

// Error variables for better error handling and testability
var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	ErrAuthRequestFailed  = errors.New("authentication request failed")
	ErrAuthTimeout        = errors.New("authentication timed out")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
	ErrEmptyMessageBody   = errors.New("message body cannot be empty")
)

// Settings is the process-wide user configuration record. AuthToken empty
// means unauthenticated; the two are never allowed to diverge.
type Settings struct {
	ServerURL         string `json:"server_url"`
	EnableProcessing  bool   `json:"enable_processing"`
	GrammarCorrection bool   `json:"grammar_correction"`
	HideContacts      bool   `json:"hide_contacts"`
	AutoMode          bool   `json:"auto_mode"`
	WhatsAppNumber    string `json:"whatsapp_number"`
	AuthToken         string `json:"auth_token"`
	InstanceID        string `json:"instance_id"`
}

// DefaultSettings returns the settings record created on first run.
func DefaultSettings() Settings {
	return Settings{
		ServerURL:         DefaultServerURL,
		EnableProcessing:  true,
		GrammarCorrection: true,
	}
}

// Authenticated reports whether a token is present.
func (s Settings) Authenticated() bool {
	return s.AuthToken != ""
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	ServerURL         *string `json:"server_url,omitempty"`
	EnableProcessing  *bool   `json:"enable_processing,omitempty"`
	GrammarCorrection *bool   `json:"grammar_correction,omitempty"`
	HideContacts      *bool   `json:"hide_contacts,omitempty"`
	AutoMode          *bool   `json:"auto_mode,omitempty"`
	WhatsAppNumber    *string `json:"whatsapp_number,omitempty"`
	AuthToken         *string `json:"auth_token,omitempty"`
	InstanceID        *string `json:"instance_id,omitempty"`
}

// Apply merges the patch into s, trimming string fields. No validation is
// performed beyond trimming; malformed URLs or numbers fail later at the
// network boundary.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.ServerURL != nil {
		s.ServerURL = strings.TrimSpace(*p.ServerURL)
	}
	if p.EnableProcessing != nil {
		s.EnableProcessing = *p.EnableProcessing
	}
	if p.GrammarCorrection != nil {
		s.GrammarCorrection = *p.GrammarCorrection
	}
	if p.HideContacts != nil {
		s.HideContacts = *p.HideContacts
	}
	if p.AutoMode != nil {
		s.AutoMode = *p.AutoMode
	}
	if p.WhatsAppNumber != nil {
		s.WhatsAppNumber = strings.TrimSpace(*p.WhatsAppNumber)
	}
	if p.AuthToken != nil {
		s.AuthToken = strings.TrimSpace(*p.AuthToken)
	}
	if p.InstanceID != nil {
		s.InstanceID = strings.TrimSpace(*p.InstanceID)
	}
	return s
}

// phoneStripRegex removes the separators users commonly type into phone fields.
var phoneStripRegex = regexp.MustCompile(`[\s\-()]`)

// phoneFormatRegex matches digits with an optional leading plus, 10-15 digits.
var phoneFormatRegex = regexp.MustCompile(`^\+?\d{10,15}$`)

// NormalizePhoneNumber strips spaces, dashes and parentheses, validates the
// result as an E.164-ish number, and returns the canonical plus-prefixed
// form. Every caller that compares numbers relies on getting the same string
// for the same number regardless of input formatting. Returns
// ErrInvalidPhoneNumber on failure.
func NormalizePhoneNumber(number string) (string, error) {
	normalized := phoneStripRegex.ReplaceAllString(number, "")
	if !phoneFormatRegex.MatchString(normalized) {
		return "", ErrInvalidPhoneNumber
	}
	if normalized[0] != '+' {
		normalized = "+" + normalized
	}
	return normalized, nil
}

// AuthRequestStatus represents the lifecycle state of an authentication request.
type AuthRequestStatus string

const (
	AuthRequestPending   AuthRequestStatus = "pending"
	AuthRequestCompleted AuthRequestStatus = "completed"
	AuthRequestFailed    AuthRequestStatus = "failed"
	AuthRequestTimedOut  AuthRequestStatus = "timed_out"
)

// AuthRequest is a pairing request against the gboost backend. Terminal
// states (completed, failed, timed_out) end the request's lifecycle.
type AuthRequest struct {
	RequestID      string            `json:"request_id"`
	WhatsAppNumber string            `json:"whatsapp_number"`
	CreatedAt      time.Time         `json:"created_at"`
	Status         AuthRequestStatus `json:"status"`
	Message        string            `json:"message,omitempty"`
}

// AuthState is the coordinator's view of the authentication state machine.
type AuthState string

const (
	AuthStateUnauthenticated AuthState = "unauthenticated"
	AuthStatePending         AuthState = "pending"
	AuthStateAuthenticated   AuthState = "authenticated"
	AuthStateFailed          AuthState = "failed"
	AuthStateTimedOut        AuthState = "timed_out"
)

// AuthStatus is returned by the coordinator's status query.
type AuthStatus struct {
	State          AuthState `json:"state"`
	WhatsAppNumber string    `json:"whatsapp_number,omitempty"`
	InstanceID     string    `json:"instance_id,omitempty"`
	Message        string    `json:"message,omitempty"`
}

// Correction is one server-reported edit inside a processing result.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Type      string `json:"type,omitempty"`
}

// ProcessResult is the outcome of a generic text processing call. On any
// failure the pipeline falls back to the original text with Err attached;
// processing failures never block message delivery.
type ProcessResult struct {
	ProcessedText string       `json:"processed_text"`
	Changed       bool         `json:"changed"`
	Corrections   []Correction `json:"corrections,omitempty"`
	Err           error        `json:"-"`
}

// CorrectionResult is the outcome of a grammar correction call.
type CorrectionResult struct {
	Original      string       `json:"original"`
	ProcessedText string       `json:"processed_text"`
	Corrections   []Correction `json:"corrections,omitempty"`
	Language      string       `json:"language,omitempty"`
	Changed       bool         `json:"changed"`
	Err           error        `json:"-"`
}

// Direction marks a conversation context entry as sent or received.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ContextEntry is one record in a conversation partner's context window.
type ContextEntry struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
}

// ReplySuggestion is the backend's answer to an auto-reply request. The
// coordinator only dispatches automatically when AutoSend is true and local
// auto mode is still enabled at send time.
type ReplySuggestion struct {
	SuggestedReply string  `json:"suggested_reply"`
	Confidence     float64 `json:"confidence"`
	AutoSend       bool    `json:"auto_send"`
}

// StatusType represents the delivery status of a message.
type StatusType string

const (
	StatusTypeSent      StatusType = "sent"
	StatusTypeDelivered StatusType = "delivered"
	StatusTypeRead      StatusType = "read"
	StatusTypeFailed    StatusType = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string     `json:"to"`
	Status StatusType `json:"status"`
	Time   int64      `json:"time"`
}

// Response represents an incoming message from a conversation partner.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Stat counter names. Write-only telemetry; core logic never reads them.
const (
	StatMessagesProcessed = "messages_processed"
	StatCorrectionsMade   = "corrections_made"
	StatAutoRepliesSent   = "auto_replies_sent"
)
