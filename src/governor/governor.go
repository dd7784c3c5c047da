package governor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// rateLimited is implemented by errors that identify themselves as a
// provider rate-limit rejection (see connectors.RPCError).
type rateLimited interface {
	RateLimited() bool
}

// IsRateLimitError classifies provider rate-limit responses. Errors may
// implement the interface; for wrapped transport errors we fall back to the
// messages public RPC endpoints actually send.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var rl rateLimited
	if errors.As(err, &rl) {
		return rl.RateLimited()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}

// Governor serializes all provider-bound calls. Every RPC call site submits
// through here so the process as a whole stays under the public endpoint's
// limits: at most MaxInflight calls at once, at least MinSpacing between
// dispatches, and transparent resubmission after a fixed delay when the
// provider answers with a rate-limit error.
type Governor struct {
	slots chan struct{}

	mu           sync.Mutex
	lastDispatch time.Time

	minSpacing time.Duration
	retryDelay time.Duration
	maxRetries int
}

func New(cfg Config) *Governor {
	if cfg.MaxInflight < 1 {
		cfg.MaxInflight = 1
	}
	return &Governor{
		slots:      make(chan struct{}, cfg.MaxInflight),
		minSpacing: cfg.MinSpacing,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
	}
}

// Do runs fn under the governor. Rate-limit-class failures are retried after
// a fixed delay without surfacing to the caller, up to MaxRetries attempts;
// any other error propagates unchanged.
func (g *Governor) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slots }()

	var err error
	for attempt := 0; ; attempt++ {
		if werr := g.waitForSlotSpacing(ctx); werr != nil {
			return werr
		}

		err = fn(ctx)

		g.mu.Lock()
		g.lastDispatch = time.Now()
		g.mu.Unlock()

		if err == nil || !IsRateLimitError(err) {
			return err
		}
		if attempt >= g.maxRetries {
			logger.WithError(err).WithField("call", label).
				Warn("rate limit retries exhausted")
			return err
		}

		logger.WithField("call", label).
			WithField("attempt", attempt+1).
			Debug("provider rate limited, backing off")
		select {
		case <-time.After(g.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForSlotSpacing enforces the minimum gap between successive dispatches.
func (g *Governor) waitForSlotSpacing(ctx context.Context) error {
	for {
		g.mu.Lock()
		wait := g.minSpacing - time.Since(g.lastDispatch)
		if wait <= 0 {
			// Claim the dispatch point so a concurrent caller spaces
			// against us, not against the previous call.
			g.lastDispatch = time.Now()
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit is the typed form of Do for call sites that produce a result.
func Submit[T any](ctx context.Context, g *Governor, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, label, func(ctx context.Context) error {
		var ferr error
		out, ferr = fn(ctx)
		return ferr
	})
	return out, err
}
