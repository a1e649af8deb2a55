package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/gboost/assist/internal/correction"
	"github.com/gboost/assist/internal/llm"
	"github.com/gboost/assist/internal/messaging"
	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

// scriptedProcessor implements llm.Processor with fixed outputs.
type scriptedProcessor struct {
	grammarResult models.CorrectionResult
	processResult models.ProcessResult
	grammarCalls  int
	processCalls  int
}

func (s *scriptedProcessor) ProcessText(ctx context.Context, text string, opts llm.ProcessOptions) models.ProcessResult {
	s.processCalls++
	if s.processResult.ProcessedText == "" && s.processResult.Err == nil {
		return models.ProcessResult{ProcessedText: text}
	}
	return s.processResult
}

func (s *scriptedProcessor) CorrectGrammar(ctx context.Context, text string) models.CorrectionResult {
	s.grammarCalls++
	if s.grammarResult.ProcessedText == "" && s.grammarResult.Err == nil {
		return models.CorrectionResult{Original: text, ProcessedText: text}
	}
	return s.grammarResult
}

func (s *scriptedProcessor) SuggestReply(ctx context.Context, req llm.ReplyRequest) (models.ReplySuggestion, error) {
	return models.ReplySuggestion{}, nil
}

func newTestPipeline(t *testing.T, processor *scriptedProcessor, flowOpts ...correction.Option) (*Pipeline, *settings.Store, *store.InMemoryStore, *messaging.MockService) {
	t.Helper()
	persist := store.NewInMemoryStore()
	st := settings.New(persist)
	if _, err := st.Load(); err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	svc := messaging.NewMockService()
	return New(st, persist, processor, correction.NewFlow(flowOpts...), svc), st, persist, svc
}

func TestSend_GrammarCorrectionApplied(t *testing.T) {
	processor := &scriptedProcessor{
		grammarResult: models.CorrectionResult{
			Original:      "helo there",
			ProcessedText: "hello there",
			Changed:       true,
			Corrections:   []models.Correction{{Original: "helo", Corrected: "hello"}},
		},
	}
	p, _, persist, svc := newTestPipeline(t, processor)

	result, err := p.Send(context.Background(), "+14155552671", "helo there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "hello there" {
		t.Errorf("expected corrected body, got %q", result.Body)
	}
	if !result.Processed {
		t.Error("expected Processed true")
	}
	if result.Outcome != correction.OutcomeAutoAccepted {
		t.Errorf("expected auto-accepted outcome, got %s", result.Outcome)
	}
	if len(result.Corrections) != 1 {
		t.Errorf("expected corrections carried through, got %d", len(result.Corrections))
	}

	sent := svc.Sent()
	if len(sent) != 1 || sent[0].Body != "hello there" {
		t.Errorf("expected corrected text delivered, got %+v", sent)
	}

	stats, _ := persist.GetStats()
	if stats[models.StatMessagesProcessed] != 1 {
		t.Errorf("expected messages_processed=1, got %d", stats[models.StatMessagesProcessed])
	}
	if stats[models.StatCorrectionsMade] != 1 {
		t.Errorf("expected corrections_made=1, got %d", stats[models.StatCorrectionsMade])
	}
}

func TestSend_ProcessingDisabledPassesThrough(t *testing.T) {
	processor := &scriptedProcessor{}
	p, st, persist, svc := newTestPipeline(t, processor)
	off := false
	st.Save(models.SettingsPatch{EnableProcessing: &off})

	result, err := p.Send(context.Background(), "+14155552671", "helo there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "helo there" || result.Processed {
		t.Errorf("expected original text untouched, got %+v", result)
	}
	if processor.grammarCalls != 0 || processor.processCalls != 0 {
		t.Error("disabled processing must not call the processor")
	}
	if len(svc.Sent()) != 1 {
		t.Fatal("message must still be delivered")
	}

	stats, _ := persist.GetStats()
	if stats[models.StatCorrectionsMade] != 0 {
		t.Error("no correction stat expected for pass-through")
	}
}

func TestSend_GrammarToggleSelectsEndpoint(t *testing.T) {
	processor := &scriptedProcessor{
		processResult: models.ProcessResult{ProcessedText: "hello there", Changed: true},
	}
	p, st, _, _ := newTestPipeline(t, processor)
	grammar := false
	st.Save(models.SettingsPatch{GrammarCorrection: &grammar})

	if _, err := p.Send(context.Background(), "+14155552671", "helo there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processor.processCalls != 1 || processor.grammarCalls != 0 {
		t.Errorf("expected generic processing path, got process=%d grammar=%d", processor.processCalls, processor.grammarCalls)
	}
}

func TestSend_ProcessingFailureFallsBackToOriginal(t *testing.T) {
	processor := &scriptedProcessor{
		grammarResult: models.CorrectionResult{Original: "helo", ProcessedText: "helo", Err: errors.New("backend down")},
	}
	p, _, persist, svc := newTestPipeline(t, processor)

	result, err := p.Send(context.Background(), "+14155552671", "helo")
	if err != nil {
		t.Fatalf("processing failure must not block delivery: %v", err)
	}
	if result.Body != "helo" || result.Processed {
		t.Errorf("expected original text on failure, got %+v", result)
	}
	if len(svc.Sent()) != 1 {
		t.Fatal("message must still be delivered on processing failure")
	}

	stats, _ := persist.GetStats()
	if stats[models.StatCorrectionsMade] != 0 {
		t.Error("failed processing must not count a correction")
	}
}

func TestSend_RejectedCorrectionKeepsOriginal(t *testing.T) {
	processor := &scriptedProcessor{
		grammarResult: models.CorrectionResult{
			Original:      "short msg",
			ProcessedText: "a completely rewritten message",
			Changed:       true,
		},
	}
	rejecter := correction.PrompterFunc(func(ctx context.Context, original, corrected string) (bool, error) {
		return false, nil
	})
	p, _, _, svc := newTestPipeline(t, processor, correction.WithPrompter(rejecter))

	result, err := p.Send(context.Background(), "+14155552671", "short msg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "short msg" {
		t.Errorf("rejected correction must keep original, got %q", result.Body)
	}
	if result.Outcome != correction.OutcomeRejected {
		t.Errorf("expected rejected outcome, got %s", result.Outcome)
	}
	if sent := svc.Sent(); len(sent) != 1 || sent[0].Body != "short msg" {
		t.Errorf("expected original delivered, got %+v", sent)
	}
}

func TestSend_InvalidRecipient(t *testing.T) {
	p, _, _, svc := newTestPipeline(t, &scriptedProcessor{})

	if _, err := p.Send(context.Background(), "nope", "hello"); !errors.Is(err, models.ErrInvalidPhoneNumber) {
		t.Errorf("expected ErrInvalidPhoneNumber, got %v", err)
	}
	if len(svc.Sent()) != 0 {
		t.Error("invalid recipient must not deliver")
	}
}

func TestSend_EmptyBody(t *testing.T) {
	p, _, _, svc := newTestPipeline(t, &scriptedProcessor{})

	if _, err := p.Send(context.Background(), "+14155552671", "   "); !errors.Is(err, models.ErrEmptyMessageBody) {
		t.Errorf("expected ErrEmptyMessageBody, got %v", err)
	}
	if len(svc.Sent()) != 0 {
		t.Error("empty body must not deliver")
	}
}

func TestSend_DeliveryFailureReported(t *testing.T) {
	p, _, persist, svc := newTestPipeline(t, &scriptedProcessor{})
	svc.SendErr = errors.New("transport down")

	if _, err := p.Send(context.Background(), "+14155552671", "hello"); err == nil {
		t.Fatal("expected delivery error")
	}

	stats, _ := persist.GetStats()
	if stats[models.StatMessagesProcessed] != 0 {
		t.Error("failed delivery must not count as processed")
	}
}
