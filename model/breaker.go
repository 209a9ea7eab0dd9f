package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/supportmesh/logging"
)

// BreakerOptions configure a Breaker.
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
	Logger   logging.Logger
}

// Breaker wraps a Model with circuit breaker protection. When the wrapped
// model fails repeatedly, subsequent calls fail fast without reaching the
// provider. A generation counts as failed when it ends with an error other
// than caller cancellation.
type Breaker struct {
	inner Model
	cb    *gobreaker.TwoStepCircuitBreaker[struct{}]
}

var _ Model = (*Breaker)(nil)

// NewBreaker wraps inner.
func NewBreaker(inner Model, optFns ...func(o *BreakerOptions)) *Breaker {
	opts := BreakerOptions{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		Interval:    60 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	name := "model:" + inner.Info().Provider + "/" + inner.Info().Name

	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // allow 1 trial request in half-open state
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("model.breaker.state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Breaker{inner: inner, cb: cb}
}

// Generate implements Model.
func (b *Breaker) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	done, err := b.cb.Allow()
	if err != nil {
		out := make(chan Response)
		errCh := make(chan error, 1)

		errCh <- fmt.Errorf("model %q circuit open: %w", b.inner.Info().Name, err)

		close(out)
		close(errCh)

		return out, errCh
	}

	innerOut, innerErr := b.inner.Generate(ctx, req)

	out := make(chan Response, cap(innerOut))
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for resp := range innerOut {
			if !Send(ctx, out, resp) {
				break
			}
		}

		drain(innerOut)

		genErr := <-innerErr
		done(genErr)

		if genErr != nil {
			errCh <- genErr
		}
	}()

	return out, errCh
}

// State returns the current circuit breaker state for monitoring.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Info implements Model.
func (b *Breaker) Info() Info { return b.inner.Info() }
