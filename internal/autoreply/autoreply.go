// Package autoreply coordinates automatic replies for enrolled conversation
// partners.
//
// A partner must be explicitly enrolled before any automatic handling. For
// each incoming message the coordinator records conversation context, asks
// the processing backend for a suggestion, and dispatches it only when the
// backend marks it auto-sendable AND auto mode is still enabled at send time.
// The second check closes the race where the user disables auto mode while a
// suggestion is in flight.
package autoreply

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gboost/assist/internal/llm"
	"github.com/gboost/assist/internal/messaging"
	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

// Coordinator manages auto-reply membership, conversation context, and reply
// dispatch.
type Coordinator struct {
	settings   *settings.Store
	st         store.Store
	processor  llm.Processor
	msgService messaging.Service

	mu          sync.RWMutex
	members     map[string]struct{}
	contexts    map[string][]models.ContextEntry
	suggestions map[string]models.ReplySuggestion
}

// NewCoordinator creates an auto-reply coordinator.
func NewCoordinator(st *settings.Store, persist store.Store, processor llm.Processor, msgService messaging.Service) *Coordinator {
	return &Coordinator{
		settings:    st,
		st:          persist,
		processor:   processor,
		msgService:  msgService,
		members:     make(map[string]struct{}),
		contexts:    make(map[string][]models.ContextEntry),
		suggestions: make(map[string]models.ReplySuggestion),
	}
}

// Enroll adds a conversation partner to the auto-reply set. The number is
// normalized before storage so lookups are insensitive to formatting.
func (c *Coordinator) Enroll(number string) (string, error) {
	canonical, err := models.NormalizePhoneNumber(number)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.members[canonical] = struct{}{}
	c.mu.Unlock()
	slog.Info("Coordinator.Enroll: partner enrolled", "partner", canonical)
	return canonical, nil
}

// Remove drops a partner from the auto-reply set. Removing an unknown partner
// is a no-op. The partner's context window is kept so a re-enrollment resumes
// with history.
func (c *Coordinator) Remove(number string) {
	canonical, err := models.NormalizePhoneNumber(number)
	if err != nil {
		canonical = number
	}
	c.mu.Lock()
	delete(c.members, canonical)
	c.mu.Unlock()
	slog.Info("Coordinator.Remove: partner removed", "partner", canonical)
}

// IsEnrolled reports whether a partner is in the auto-reply set.
func (c *Coordinator) IsEnrolled(number string) bool {
	canonical, err := models.NormalizePhoneNumber(number)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[canonical]
	return ok
}

// List returns all enrolled partners.
func (c *Coordinator) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	return out
}

// RecordMessage appends an entry to a partner's context window, evicting the
// oldest entry beyond models.MaxContextEntries.
func (c *Coordinator) RecordMessage(partner string, direction models.Direction, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.contexts[partner], models.ContextEntry{Direction: direction, Text: text})
	if len(entries) > models.MaxContextEntries {
		entries = entries[len(entries)-models.MaxContextEntries:]
	}
	c.contexts[partner] = entries
}

// Context returns a copy of a partner's context window.
func (c *Coordinator) Context(partner string) []models.ContextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.contexts[partner]
	out := make([]models.ContextEntry, len(entries))
	copy(out, entries)
	return out
}

// LatestSuggestion returns the most recent suggestion produced for a partner
// that was not auto-sent, if any.
func (c *Coordinator) LatestSuggestion(partner string) (models.ReplySuggestion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.suggestions[partner]
	return s, ok
}

// HandleIncoming processes one incoming message. Messages from partners that
// are not enrolled, or received while auto mode is off or the instance is
// unauthenticated, are recorded in context (when enrolled) but produce no
// reply.
func (c *Coordinator) HandleIncoming(ctx context.Context, resp models.Response) {
	canonical, err := models.NormalizePhoneNumber(resp.From)
	if err != nil {
		slog.Debug("Coordinator.HandleIncoming: unparseable sender, ignoring", "from", resp.From)
		return
	}

	if !c.IsEnrolled(canonical) {
		slog.Debug("Coordinator.HandleIncoming: partner not enrolled, ignoring", "partner", canonical)
		return
	}

	c.RecordMessage(canonical, models.DirectionReceived, resp.Body)

	cfg := c.settings.Current()
	if !cfg.AutoMode {
		slog.Debug("Coordinator.HandleIncoming: auto mode disabled, context recorded only", "partner", canonical)
		return
	}
	if !cfg.Authenticated() {
		slog.Debug("Coordinator.HandleIncoming: not authenticated, skipping", "partner", canonical)
		return
	}

	suggestion, err := c.processor.SuggestReply(ctx, llm.ReplyRequest{
		Context:        c.Context(canonical),
		LastMessage:    resp.Body,
		WhatsAppNumber: canonical,
	})
	if err != nil {
		slog.Warn("Coordinator.HandleIncoming: suggestion failed, skipping reply", "partner", canonical, "error", err)
		return
	}
	if suggestion.SuggestedReply == "" {
		slog.Debug("Coordinator.HandleIncoming: empty suggestion, skipping", "partner", canonical)
		return
	}

	if !suggestion.AutoSend {
		c.mu.Lock()
		c.suggestions[canonical] = suggestion
		c.mu.Unlock()
		slog.Info("Coordinator.HandleIncoming: suggestion stored for review", "partner", canonical, "confidence", suggestion.Confidence)
		return
	}

	// Auto mode and membership may have changed while the suggestion was in
	// flight. Re-check both immediately before dispatch.
	if !c.settings.Current().AutoMode || !c.IsEnrolled(canonical) {
		slog.Info("Coordinator.HandleIncoming: auto mode disabled during suggestion, suppressing send", "partner", canonical)
		return
	}

	if err := c.msgService.SendMessage(ctx, canonical, suggestion.SuggestedReply); err != nil {
		slog.Error("Coordinator.HandleIncoming: auto-reply send failed", "partner", canonical, "error", err)
		return
	}

	c.RecordMessage(canonical, models.DirectionSent, suggestion.SuggestedReply)
	if err := c.st.IncrementStat(models.StatAutoRepliesSent); err != nil {
		slog.Warn("Coordinator.HandleIncoming: failed to record stat", "error", err)
	}
	slog.Info("Coordinator.HandleIncoming: auto-reply sent", "partner", canonical, "confidence", suggestion.Confidence)
}

// Run consumes incoming messages from the messaging service until the context
// is cancelled or the channel closes.
func (c *Coordinator) Run(ctx context.Context) {
	slog.Info("Coordinator.Run: auto-reply loop started")
	responses := c.msgService.Responses()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Coordinator.Run: stopping", "reason", ctx.Err())
			return
		case resp, ok := <-responses:
			if !ok {
				slog.Info("Coordinator.Run: responses channel closed, stopping")
				return
			}
			c.HandleIncoming(ctx, resp)
		}
	}
}
