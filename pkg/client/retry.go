package client

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// requestState is a step of the per-request state machine:
//
//	pending -> (attempting -> backoff)* -> resolved | failed | timed_out | cancelled
type requestState string

const (
	statePending    requestState = "pending"
	stateAttempting requestState = "attempting"
	stateBackoff    requestState = "backoff"
	stateResolved   requestState = "resolved"
	stateFailed     requestState = "failed"
	stateTimedOut   requestState = "timed_out"
	stateCancelled  requestState = "cancelled"
)

var (
	// errBudgetExceeded is the context cause set when the request timeout fires.
	errBudgetExceeded = errors.New("request budget exceeded")

	// errAborted is the context cause set by CancelRequest and CancelAllRequests.
	errAborted = errors.New("request aborted")
)

// newBackoff returns an exact doubling schedule starting at base: base, 2*base, 4*base, ...
func newBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// attemptLoop drives one request through the state machine.
type attemptLoop struct {
	client  *Client
	key     string
	call    *Call
	opts    *requestOptions
	state   requestState
	attempt int
}

func (l *attemptLoop) transition(next requestState) {
	l.client.logger.Debug().
		Str("key", l.key).
		Str("from", string(l.state)).
		Str("to", string(next)).
		Int("attempt", l.attempt).
		Msg("Request state")
	l.state = next
}

// run performs up to retries+1 attempts. Timeout and cancellation end the loop
// at once and supersede whatever error the current attempt produced.
func (l *attemptLoop) run(ctx context.Context) (json.RawMessage, error) {
	schedule := newBackoff(l.opts.retryDelay)
	l.state = statePending

	var lastErr *Error
	for l.attempt = 1; ; l.attempt++ {
		l.transition(stateAttempting)

		payload, err := l.client.attempt(ctx, l.call)
		if err == nil {
			l.transition(stateResolved)
			if l.attempt > 1 {
				l.client.logger.Info().
					Str("key", l.key).
					Int("attempt", l.attempt).
					Msg("Request succeeded after retry")
			}
			return payload, nil
		}

		if terminal := l.interrupted(ctx); terminal != nil {
			return nil, terminal
		}

		lastErr = err
		lastErr.Attempts = l.attempt
		apiErrorsTotal.WithLabelValues(string(err.Kind)).Inc()

		if l.attempt > l.opts.retries {
			break
		}

		delay := schedule.NextBackOff()
		l.transition(stateBackoff)
		apiRetriesTotal.WithLabelValues(string(err.Kind)).Inc()
		apiRetryBackoffSeconds.Observe(delay.Seconds())

		l.client.logger.Warn().
			Err(err).
			Str("key", l.key).
			Int("attempt", l.attempt).
			Int("retries", l.opts.retries).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, l.interrupted(ctx)
		case <-timer.C:
		}
	}

	l.transition(stateFailed)
	apiRetryExhaustedTotal.WithLabelValues(string(lastErr.Kind)).Inc()
	l.client.logger.Error().
		Err(lastErr).
		Str("key", l.key).
		Int("attempts", l.attempt).
		Msg("Retry attempts exhausted")

	return nil, lastErr
}

// interrupted converts a finished context into a Timeout or Cancelled error.
// Returns nil while ctx is still live.
func (l *attemptLoop) interrupted(ctx context.Context) *Error {
	if ctx.Err() == nil {
		return nil
	}

	e := contextError(ctx, l.opts.timeout)
	e.Attempts = l.attempt
	apiErrorsTotal.WithLabelValues(string(e.Kind)).Inc()

	if e.Kind == KindTimeout {
		l.transition(stateTimedOut)
	} else {
		l.transition(stateCancelled)
	}
	return e
}

// contextError classifies why ctx ended. The request budget and caller
// deadlines are timeouts; aborts and caller cancellation are cancellations.
func contextError(ctx context.Context, timeout time.Duration) *Error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errBudgetExceeded):
		return NewTimeoutError(timeout)
	case errors.Is(cause, context.DeadlineExceeded):
		e := NewTimeoutError(timeout)
		e.Message = "caller deadline exceeded"
		return e
	default:
		return NewCancelledError(cause)
	}
}
