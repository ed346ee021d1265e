// Package llm wraps the language model providers used for intent analysis
// and plan generation. Every provider is reduced to a single-shot completion
// that returns text, which callers usually parse as JSON.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/retry"
)

// ErrNotConfigured is returned when no provider credentials were given.
var ErrNotConfigured = errors.New("llm provider not configured")

// Request is one completion call.
type Request struct {
	// Model overrides the provider default.
	Model  string
	System string
	Prompt string
	// MaxTokens bounds the response. Defaults to 2048.
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Response is the completion text plus usage.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer produces completions.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

func (f CompleterFunc) Name() string { return "func" }

func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

const defaultMaxTokens = 2048

// Instrumented wraps a completer with the network retry profile, metrics
// and debug logging.
type Instrumented struct {
	next    Completer
	metrics *observability.Metrics
	retry   retry.Options
	logger  *slog.Logger
}

// InstrumentOption configures Instrument.
type InstrumentOption func(*Instrumented)

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.Metrics) InstrumentOption {
	return func(i *Instrumented) { i.metrics = m }
}

// WithRetry replaces the network retry profile.
func WithRetry(opts retry.Options) InstrumentOption {
	return func(i *Instrumented) { i.retry = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) InstrumentOption {
	return func(i *Instrumented) { i.logger = logger }
}

// Instrument wraps next.
func Instrument(next Completer, opts ...InstrumentOption) *Instrumented {
	i := &Instrumented{
		next:   next,
		retry:  retry.Network(),
		logger: slog.Default().With("component", "llm"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	opts := i.retry
	opts.Name = "llm." + i.next.Name()
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error) {
		i.metrics.RecordRetry("network")
		i.logger.Debug("retrying completion", "provider", i.next.Name(), "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	resp, result := retry.DoWithValue(ctx, opts, func(ctx context.Context) (*Response, error) {
		return i.next.Complete(ctx, req)
	})
	status := "success"
	if result.Err != nil {
		status = "error"
	}
	i.metrics.RecordLLMRequest(i.next.Name(), status, time.Since(start))
	if result.Err != nil {
		return nil, result.Err
	}
	return resp, nil
}

// ExtractJSON returns the JSON object embedded in text, stripping markdown
// code fences and any prose around the outermost braces.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
