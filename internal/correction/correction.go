// Package correction decides whether a server-suggested correction replaces
// the user's original text.
//
// Trivial differences (punctuation, casing) are accepted without interrupting
// the user; larger edits go through a confirmation prompt with a bounded
// wait. The decision always resolves and never returns an error: on any
// missing input or prompt failure it degrades to a default outcome.
package correction

import (
	"context"
	"log/slog"
	"time"
)

// Default decision parameters.
const (
	// DefaultAutoAcceptThreshold is the edit distance below which a
	// correction is accepted without confirmation.
	DefaultAutoAcceptThreshold = 3
	// DefaultConfirmTimeout bounds the wait for an explicit user choice.
	DefaultConfirmTimeout = 5 * time.Second
)

// Outcome describes how a decision was reached.
type Outcome string

const (
	OutcomeKeptOriginal   Outcome = "kept_original"   // nothing to decide
	OutcomeAutoAccepted   Outcome = "auto_accepted"   // below threshold
	OutcomeAccepted       Outcome = "accepted"        // explicit accept
	OutcomeRejected       Outcome = "rejected"        // explicit reject
	OutcomeAcceptedByTime Outcome = "accepted_timeout" // no response within the timeout
)

// Decision is the resolved result: the text to send and how it was chosen.
type Decision struct {
	Text     string
	Distance int
	Outcome  Outcome
}

// Prompter solicits an explicit accept/reject choice from the user. Confirm
// blocks until a choice arrives or ctx is done; the returned bool is true
// for accept.
type Prompter interface {
	Confirm(ctx context.Context, original, corrected string) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, original, corrected string) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, original, corrected string) (bool, error) {
	return f(ctx, original, corrected)
}

// Flow resolves correction decisions.
type Flow struct {
	prompter  Prompter
	threshold int
	timeout   time.Duration
}

// Opts holds configuration options for the decision flow.
type Opts struct {
	Prompter  Prompter
	Threshold int
	Timeout   time.Duration
}

// Option defines a configuration option for the decision flow.
type Option func(*Opts)

// WithPrompter sets the confirmation prompter. Without one, large edits
// default to accept.
func WithPrompter(p Prompter) Option {
	return func(o *Opts) { o.Prompter = p }
}

// WithThreshold overrides the auto-accept edit distance threshold.
func WithThreshold(n int) Option {
	return func(o *Opts) { o.Threshold = n }
}

// WithConfirmTimeout overrides the confirmation wait bound.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewFlow creates a decision flow with the given options.
func NewFlow(opts ...Option) *Flow {
	cfg := Opts{Threshold: DefaultAutoAcceptThreshold, Timeout: DefaultConfirmTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultAutoAcceptThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfirmTimeout
	}
	return &Flow{prompter: cfg.Prompter, threshold: cfg.Threshold, timeout: cfg.Timeout}
}

// Decide resolves which text to send given the original and the corrected
// version. Empty or identical corrections keep the original. Edits below the
// threshold are auto-accepted. Larger edits consult the prompter, bounded by
// the timeout; no response, a prompter error, or a missing prompter all
// default to accepting the correction, matching the auto-close-to-accept
// behavior of the correction preview.
func (f *Flow) Decide(ctx context.Context, original, corrected string) Decision {
	if corrected == "" || corrected == original {
		return Decision{Text: original, Outcome: OutcomeKeptOriginal}
	}

	distance := Levenshtein(original, corrected)
	if distance < f.threshold {
		slog.Debug("Flow.Decide: auto-accepting trivial correction", "distance", distance, "threshold", f.threshold)
		return Decision{Text: corrected, Distance: distance, Outcome: OutcomeAutoAccepted}
	}

	if f.prompter == nil {
		slog.Debug("Flow.Decide: no prompter configured, defaulting to accept", "distance", distance)
		return Decision{Text: corrected, Distance: distance, Outcome: OutcomeAcceptedByTime}
	}

	promptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	accepted, err := f.prompter.Confirm(promptCtx, original, corrected)
	if err != nil {
		slog.Debug("Flow.Decide: prompt did not resolve, defaulting to accept", "error", err, "distance", distance)
		return Decision{Text: corrected, Distance: distance, Outcome: OutcomeAcceptedByTime}
	}
	if !accepted {
		slog.Debug("Flow.Decide: user rejected correction", "distance", distance)
		return Decision{Text: original, Distance: distance, Outcome: OutcomeRejected}
	}
	slog.Debug("Flow.Decide: user accepted correction", "distance", distance)
	return Decision{Text: corrected, Distance: distance, Outcome: OutcomeAccepted}
}
