package gateway

import (
	"context"
	"math/rand"
	"time"

	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// RetryConfig configures exponential backoff for transient provider errors.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig retries three times with jittered exponential backoff
// starting at one second, capped at sixteen seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retried wraps a Gateway so that calls failing with a retryable
// qmderrors code (CodeProviderTransient) are retried with backoff;
// AuthMissing and other non-retryable errors return immediately.
type Retried struct {
	inner Gateway
	cfg   RetryConfig
}

var _ Gateway = (*Retried)(nil)

// NewRetried wraps inner with cfg's retry policy.
func NewRetried(inner Gateway, cfg RetryConfig) *Retried {
	return &Retried{inner: inner, cfg: cfg}
}

func retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !qmderrors.IsCode(err, qmderrors.CodeProviderTransient) || attempt >= cfg.MaxRetries {
			return err
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

func (r *Retried) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := retry(ctx, r.cfg, func() error {
		v, err := r.inner.Embed(ctx, text)
		out = v
		return err
	})
	return out, err
}

func (r *Retried) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := retry(ctx, r.cfg, func() error {
		v, err := r.inner.EmbedBatch(ctx, texts)
		out = v
		return err
	})
	return out, err
}

func (r *Retried) ExpandQuery(ctx context.Context, query string, n int) ([]Expansion, error) {
	var out []Expansion
	err := retry(ctx, r.cfg, func() error {
		v, err := r.inner.ExpandQuery(ctx, query, n)
		out = v
		return err
	})
	return out, err
}

func (r *Retried) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	var out []RerankResult
	err := retry(ctx, r.cfg, func() error {
		v, err := r.inner.Rerank(ctx, query, docs)
		out = v
		return err
	})
	return out, err
}

func (r *Retried) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := retry(ctx, r.cfg, func() error {
		v, err := r.inner.Generate(ctx, prompt)
		out = v
		return err
	})
	return out, err
}

func (r *Retried) ModelInfo() ModelInfo {
	return r.inner.ModelInfo()
}
