package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewBackoff_ExactDoubling(t *testing.T) {
	b := newBackoff(100 * time.Millisecond)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("backoff %d = %v, want %v", i, got, w)
		}
	}
}

func TestNewBackoff_ZeroBase(t *testing.T) {
	b := newBackoff(0)
	for i := 0; i < 3; i++ {
		if got := b.NextBackOff(); got != 0 {
			t.Errorf("backoff %d = %v, want 0", i, got)
		}
	}
}

func TestContextError(t *testing.T) {
	t.Run("budget exceeded is a timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeoutCause(context.Background(), time.Millisecond, errBudgetExceeded)
		defer cancel()
		<-ctx.Done()

		e := contextError(ctx, time.Millisecond)
		if e.Kind != KindTimeout {
			t.Errorf("Kind = %q, want timeout", e.Kind)
		}
	})

	t.Run("caller deadline is a timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		<-ctx.Done()

		e := contextError(ctx, time.Second)
		if e.Kind != KindTimeout {
			t.Errorf("Kind = %q, want timeout", e.Kind)
		}
		if e.Message != "caller deadline exceeded" {
			t.Errorf("Message = %q", e.Message)
		}
	})

	t.Run("abort is a cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(errAborted)

		e := contextError(ctx, time.Second)
		if e.Kind != KindCancelled {
			t.Errorf("Kind = %q, want cancelled", e.Kind)
		}
		if !errors.Is(e, errAborted) {
			t.Error("cancelled error should wrap the abort cause")
		}
	})

	t.Run("caller cancel is a cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if e := contextError(ctx, time.Second); e.Kind != KindCancelled {
			t.Errorf("Kind = %q, want cancelled", e.Kind)
		}
	})
}

func newLoop(t *testing.T, transport Transport, retries int, delay time.Duration) *attemptLoop {
	t.Helper()
	c := &Client{transport: transport, logger: zerolog.Nop(), handles: newHandleTable()}
	return &attemptLoop{
		client: c,
		key:    "/incidents",
		call:   &Call{URL: "http://api.test/incidents", Method: http.MethodGet, Header: http.Header{}},
		opts:   &requestOptions{method: http.MethodGet, retries: retries, retryDelay: delay},
	}
}

func TestAttemptLoop_States(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantState requestState
		wantCalls int32
	}{
		{"success resolves", http.StatusOK, 2, stateResolved, 1},
		{"exhaustion fails", http.StatusInternalServerError, 2, stateFailed, 3},
		{"zero retries fails after one", http.StatusBadRequest, 0, stateFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &countingTransport{fn: func(context.Context, *Call) (*Response, error) {
				return &Response{StatusCode: tt.status, Body: []byte(`{}`)}, nil
			}}
			loop := newLoop(t, transport, tt.retries, time.Millisecond)

			_, err := loop.run(context.Background())
			if (err == nil) != (tt.wantState == stateResolved) {
				t.Fatalf("unexpected err: %v", err)
			}
			if loop.state != tt.wantState {
				t.Errorf("state = %q, want %q", loop.state, tt.wantState)
			}
			if got := transport.calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestAttemptLoop_CancelledDuringBackoff(t *testing.T) {
	transport := &countingTransport{fn: func(context.Context, *Call) (*Response, error) {
		return &Response{StatusCode: http.StatusBadGateway}, nil
	}}
	loop := newLoop(t, transport, 3, time.Second)

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(errAborted)
	}()

	start := time.Now()
	_, err := loop.run(ctx)
	if KindOf(err) != KindCancelled {
		t.Fatalf("KindOf = %q, want cancelled", KindOf(err))
	}
	if loop.state != stateCancelled {
		t.Errorf("state = %q, want cancelled", loop.state)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should interrupt the backoff wait")
	}

	var e *Error
	if errors.As(err, &e) && e.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", e.Attempts)
	}
}

func TestAttemptLoop_TimeoutOverridesAttemptError(t *testing.T) {
	transport := &countingTransport{fn: func(ctx context.Context, _ *Call) (*Response, error) {
		<-ctx.Done()
		return nil, errors.New("read: connection closed")
	}}
	loop := newLoop(t, transport, 2, time.Millisecond)
	loop.opts.timeout = 20 * time.Millisecond

	ctx, cancel := context.WithTimeoutCause(context.Background(), loop.opts.timeout, errBudgetExceeded)
	defer cancel()

	_, err := loop.run(ctx)
	if KindOf(err) != KindTimeout {
		t.Fatalf("KindOf = %q, want timeout", KindOf(err))
	}
	if loop.state != stateTimedOut {
		t.Errorf("state = %q, want timed_out", loop.state)
	}
}
