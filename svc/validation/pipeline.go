package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
)

// Request identifies the proof to read and the amount the order expects.
type Request struct {
	ProofRef       string
	ExpectedAmount decimal.Decimal
	Currency       string
}

// Extractor reads payment fields from a proof artifact.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Extraction, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, req Request) (Extraction, error)

func (f ExtractorFunc) Extract(ctx context.Context, req Request) (Extraction, error) {
	return f(ctx, req)
}

// Pipeline turns a proof into a Verdict.
type Pipeline struct {
	extractor Extractor
	policy    Policy
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Pipeline)

func WithPolicy(p Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithTimeout bounds each extractor call. Non-positive values keep the
// default of 20s; an extractor call is never unbounded.
func WithTimeout(d time.Duration) Option {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// NewPipeline panics if extractor is nil.
func NewPipeline(extractor Extractor, opts ...Option) *Pipeline {
	if extractor == nil {
		panic("validation: extractor is required")
	}
	p := &Pipeline{
		extractor: extractor,
		policy:    DefaultPolicy(),
		timeout:   20 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("validation"))
	return p
}

// NewPipelineFromConfig builds a pipeline with thresholds from cfg.
func NewPipelineFromConfig(extractor Extractor, cfg Config, opts ...Option) (*Pipeline, error) {
	tolerance, err := decimal.NewFromString(cfg.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("validation: invalid amount tolerance %q: %w", cfg.Tolerance, err)
	}
	base := []Option{
		WithTimeout(cfg.Timeout),
		WithPolicy(Policy{MinConfidence: cfg.MinConfidence, Tolerance: tolerance}),
	}
	return NewPipeline(extractor, append(base, opts...)...), nil
}

// Validate calls the extractor once and classifies the result. Extractor
// failures never surface as errors: they produce a needs_review verdict
// whose Err wraps ErrExtractionUnavailable.
func (p *Pipeline) Validate(ctx context.Context, req Request) Verdict {
	v := p.validate(ctx, req)
	p.metrics.Verdict(string(v.Decision))

	attrs := []slog.Attr{logger.Verdict(string(v.Decision), v.Confidence)}
	if v.Err != nil {
		attrs = append(attrs, logger.Error(v.Err))
	}
	p.logger.LogAttrs(ctx, slog.LevelInfo, "proof validated", attrs...)
	return v
}

func (p *Pipeline) validate(ctx context.Context, req Request) Verdict {
	if req.ProofRef == "" {
		return unavailable(ErrEmptyProofRef)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ext, err := p.call(callCtx, req)
	if err != nil {
		return unavailable(err)
	}

	ext.Confidence = clampConfidence(ext.Confidence)
	return Verdict{
		Decision:   p.policy.Decide(ext.Confidence, ext.Amount, req.ExpectedAmount),
		Extraction: &ext,
		Confidence: ext.Confidence,
	}
}

// call runs the extractor and returns as soon as either it finishes or ctx
// expires, so an extractor that ignores its context cannot stall the caller.
func (p *Pipeline) call(ctx context.Context, req Request) (Extraction, error) {
	type result struct {
		ext Extraction
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("extractor panicked: %v", r)}
			}
		}()
		ext, err := p.extractor.Extract(ctx, req)
		done <- result{ext: ext, err: err}
	}()

	select {
	case r := <-done:
		return r.ext, r.err
	case <-ctx.Done():
		return Extraction{}, ctx.Err()
	}
}

func unavailable(cause error) Verdict {
	return Verdict{
		Decision: DecisionNeedsReview,
		Err:      errors.Join(ErrExtractionUnavailable, cause),
	}
}
