// Package genai provides a local, OpenAI-backed text processor.
//
// It implements the same Processor contract as the gboost backend client and
// is selected when no server URL is configured but an OpenAI API key is
// available. Suggestions produced locally are advisory only: AutoSend is
// never set, so the auto-reply coordinator will not dispatch them.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gboost/assist/internal/llm"
	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/settings"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the model returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

const (
	grammarSystemPrompt = "You are a grammar correction assistant. Correct spelling and grammar in the user's message. Reply with only the corrected text, nothing else. Preserve the original language."
	processSystemPrompt = "You are a writing assistant. Improve the user's message for clarity while preserving its meaning and tone. Reply with only the improved text, nothing else."
	replySystemPrompt   = "You are drafting a short reply to the last message in a chat conversation. Reply with only the suggested message text, nothing else."
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChat adapts the OpenAI SDK client to the chatService interface.
type openaiChat struct {
	client openai.Client
}

func (c openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client is an OpenAI-backed llm.Processor.
type Client struct {
	settings *settings.Store
	chat     chatService
	model    openai.ChatModel
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// NewClient initializes the GenAI client. The API key is taken from options
// or the OPENAI_API_KEY environment variable.
func NewClient(st *settings.Store, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{settings: st, chat: openaiChat{client: cli}, model: cfg.Model}, nil
}

// complete runs a single system+user chat completion and returns the text.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ProcessText improves the text via a local completion. Fail-open: any model
// error returns the original text unchanged.
func (c *Client) ProcessText(ctx context.Context, text string, opts llm.ProcessOptions) models.ProcessResult {
	if !c.settings.Current().EnableProcessing {
		return models.ProcessResult{ProcessedText: text, Changed: false}
	}

	system := processSystemPrompt
	if opts.GrammarCorrection {
		system = grammarSystemPrompt
	}
	out, err := c.complete(ctx, system, text)
	if err != nil {
		slog.Warn("Client.ProcessText: completion failed, falling back to original text", "error", err)
		return models.ProcessResult{ProcessedText: text, Changed: false, Err: err}
	}
	return models.ProcessResult{ProcessedText: out, Changed: out != text}
}

// CorrectGrammar corrects the text via a local completion. Same fail-open
// contract as the backend client; no language detection is attempted.
func (c *Client) CorrectGrammar(ctx context.Context, text string) models.CorrectionResult {
	if !c.settings.Current().EnableProcessing {
		return models.CorrectionResult{Original: text, ProcessedText: text, Changed: false}
	}

	out, err := c.complete(ctx, grammarSystemPrompt, text)
	if err != nil {
		slog.Warn("Client.CorrectGrammar: completion failed, falling back to original text", "error", err)
		return models.CorrectionResult{Original: text, ProcessedText: text, Changed: false, Err: err}
	}
	return models.CorrectionResult{Original: text, ProcessedText: out, Changed: out != text}
}

// SuggestReply drafts a reply from the conversation context. AutoSend is
// always false for local suggestions.
func (c *Client) SuggestReply(ctx context.Context, req llm.ReplyRequest) (models.ReplySuggestion, error) {
	var sb strings.Builder
	for _, entry := range req.Context {
		switch entry.Direction {
		case models.DirectionSent:
			sb.WriteString("Me: ")
		default:
			sb.WriteString("Them: ")
		}
		sb.WriteString(entry.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("Them: ")
	sb.WriteString(req.LastMessage)

	out, err := c.complete(ctx, replySystemPrompt, sb.String())
	if err != nil {
		return models.ReplySuggestion{}, fmt.Errorf("reply suggestion failed: %w", err)
	}
	return models.ReplySuggestion{SuggestedReply: out, Confidence: 0, AutoSend: false}, nil
}
