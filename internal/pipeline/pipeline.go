// Package pipeline runs outbound messages through processing, correction
// decisions, and delivery.
//
// Processing is fail-open: a processing failure falls back to the user's
// original text and never blocks the send. Delivery failures are reported.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gboost/assist/internal/correction"
	"github.com/gboost/assist/internal/llm"
	"github.com/gboost/assist/internal/messaging"
	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

// SendResult reports what was delivered and how the text was chosen.
type SendResult struct {
	Recipient   string              `json:"recipient"`
	Body        string              `json:"body"`
	Original    string              `json:"original"`
	Processed   bool                `json:"processed"`
	Outcome     correction.Outcome  `json:"outcome,omitempty"`
	Corrections []models.Correction `json:"corrections,omitempty"`
}

// Pipeline coordinates processing and delivery of outbound messages.
type Pipeline struct {
	settings   *settings.Store
	st         store.Store
	processor  llm.Processor
	flow       *correction.Flow
	msgService messaging.Service
}

// New creates an outbound pipeline.
func New(st *settings.Store, persist store.Store, processor llm.Processor, flow *correction.Flow, msgService messaging.Service) *Pipeline {
	return &Pipeline{
		settings:   st,
		st:         persist,
		processor:  processor,
		flow:       flow,
		msgService: msgService,
	}
}

// Send processes and delivers one outbound message. The recipient is
// canonicalized by the messaging service; an empty body is rejected before
// any processing.
func (p *Pipeline) Send(ctx context.Context, to, body string) (*SendResult, error) {
	canonicalTo, err := p.msgService.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Warn("Pipeline.Send: invalid recipient", "to", to, "error", err)
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, models.ErrEmptyMessageBody
	}

	result := &SendResult{Recipient: canonicalTo, Original: body, Body: body}

	cfg := p.settings.Current()
	if cfg.EnableProcessing {
		processed, corrections := p.process(ctx, body, cfg)
		result.Corrections = corrections

		decision := p.flow.Decide(ctx, body, processed)
		result.Body = decision.Text
		result.Outcome = decision.Outcome
		result.Processed = decision.Text != body

		if result.Processed {
			if err := p.st.IncrementStat(models.StatCorrectionsMade); err != nil {
				slog.Warn("Pipeline.Send: failed to record correction stat", "error", err)
			}
		}
	}

	if err := p.msgService.SendMessage(ctx, canonicalTo, result.Body); err != nil {
		slog.Error("Pipeline.Send: delivery failed", "to", canonicalTo, "error", err)
		return nil, err
	}

	if err := p.st.IncrementStat(models.StatMessagesProcessed); err != nil {
		slog.Warn("Pipeline.Send: failed to record processed stat", "error", err)
	}
	slog.Info("Pipeline.Send: message delivered", "to", canonicalTo, "processed", result.Processed, "outcome", result.Outcome)
	return result, nil
}

// process runs the configured processing mode and returns the candidate text.
// Failures fall back to the original text.
func (p *Pipeline) process(ctx context.Context, body string, cfg models.Settings) (string, []models.Correction) {
	if cfg.GrammarCorrection {
		res := p.processor.CorrectGrammar(ctx, body)
		if res.Err != nil {
			slog.Warn("Pipeline.process: grammar correction failed, using original text", "error", res.Err)
			return body, nil
		}
		return res.ProcessedText, res.Corrections
	}

	res := p.processor.ProcessText(ctx, body, llm.ProcessOptions{GrammarCorrection: false})
	if res.Err != nil {
		slog.Warn("Pipeline.process: processing failed, using original text", "error", res.Err)
		return body, nil
	}
	return res.ProcessedText, res.Corrections
}
