// Package throttle caps and paces calls to external model endpoints. A
// weighted semaphore bounds in-flight calls and a token bucket spaces their
// starts. Callers are delayed, never rejected, until their context ends.
package throttle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/54b3r/assessrec-go/internal/llm"
	"github.com/54b3r/assessrec-go/internal/rag"
)

// DefaultMaxInFlight is used when Config.MaxInFlight is zero.
const DefaultMaxInFlight = 4

// Config tunes a Limiter.
type Config struct {
	// MaxInFlight caps concurrent calls. Defaults to DefaultMaxInFlight.
	MaxInFlight int64
	// RatePerSecond paces call starts. Zero or negative means unpaced.
	RatePerSecond float64
	// Burst is the token bucket size. Defaults to 1 when pacing is on.
	Burst int
}

// Limiter is shared by every decorated client that draws on the same quota.
type Limiter struct {
	sem *semaphore.Weighted
	rl  *rate.Limiter
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	n := cfg.MaxInFlight
	if n <= 0 {
		n = DefaultMaxInFlight
	}
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Limiter{sem: semaphore.NewWeighted(n), rl: rate.NewLimiter(limit, burst)}
}

// Do runs fn once a slot is free and the pacer allows it. It returns the
// context error if ctx ends while waiting.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	return l.DoWithin(ctx, 0, fn)
}

// DoWithin is Do with a timeout on fn alone. The clock starts once the call
// is admitted, so queueing behind other callers never eats into it.
func (l *Limiter) DoWithin(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("throttle: waiting for slot: %w", err)
	}
	defer l.sem.Release(1)
	if err := l.rl.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: waiting for rate: %w", err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

type completer struct {
	inner llm.Completer
	l     *Limiter
}

// Completer wraps inner so every call goes through l.
func Completer(inner llm.Completer, l *Limiter) llm.Completer {
	return &completer{inner: inner, l: l}
}

func (c *completer) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithin(ctx, prompt, 0)
}

// CompleteWithin implements llm.TimedCompleter.
func (c *completer) CompleteWithin(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	var out string
	err := c.l.DoWithin(ctx, timeout, func(ctx context.Context) error {
		var err error
		out, err = c.inner.Complete(ctx, prompt)
		return err
	})
	return out, err
}

type embedder struct {
	inner rag.Embedder
	l     *Limiter
}

// Embedder wraps inner so every call goes through l.
func Embedder(inner rag.Embedder, l *Limiter) rag.Embedder {
	return &embedder{inner: inner, l: l}
}

func (e *embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedWithin(ctx, texts, 0)
}

// EmbedWithin implements rag.TimedEmbedder.
func (e *embedder) EmbedWithin(ctx context.Context, texts []string, timeout time.Duration) ([][]float32, error) {
	var out [][]float32
	err := e.l.DoWithin(ctx, timeout, func(ctx context.Context) error {
		var err error
		out, err = e.inner.Embed(ctx, texts)
		return err
	})
	return out, err
}
