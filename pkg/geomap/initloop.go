package geomap

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInitExhausted is the permanent failure after every attempt found the
// container without size. Only an explicit refresh should try again.
var ErrInitExhausted = errors.New("failed to initialize map after multiple attempts")

// InitState is the position of an initialisation run.
type InitState int

const (
	Idle InitState = iota
	Attempting
	Ready
	Failed
)

func (s InitState) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

const (
	DefaultInitAttempts = 5
	DefaultInitDelay    = 100 * time.Millisecond
)

// Target is what an Initializer drives; *Renderer is the usual one.
type Target interface {
	Initialize(c Container) error
}

// Initializer retries Target.Initialize while the container is not laid
// out. Transitions:
//
//	Idle -> Attempting(1)
//	Attempting(n) -> Ready            on success
//	Attempting(n) -> Attempting(n+1)  on ErrNotReady, n < MaxAttempts, after Delay
//	Attempting(n) -> Failed           on ErrNotReady with n == MaxAttempts, or any other error
type Initializer struct {
	MaxAttempts int
	Delay       time.Duration
	// After is the timer used between attempts; nil means time.After.
	After func(time.Duration) <-chan time.Time
	// OnTransition observes every state change. attempt is 0 outside Attempting.
	OnTransition func(state InitState, attempt int)
}

// Run drives the state machine to Ready or Failed. A cancelled context stops
// the run between attempts and returns the context error.
func (in Initializer) Run(ctx context.Context, r Target, c Container) error {
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultInitAttempts
	}
	delay := in.Delay
	if delay <= 0 {
		delay = DefaultInitDelay
	}
	after := in.After
	if after == nil {
		after = time.After
	}
	notify := func(s InitState, n int) {
		if in.OnTransition != nil {
			in.OnTransition(s, n)
		}
	}

	for attempt := 1; ; attempt++ {
		notify(Attempting, attempt)
		err := r.Initialize(c)
		switch {
		case err == nil:
			notify(Ready, 0)
			return nil
		case !errors.Is(err, ErrNotReady):
			notify(Failed, 0)
			return err
		case attempt >= maxAttempts:
			notify(Failed, 0)
			return fmt.Errorf("%w (%d attempts, %s apart): %v", ErrInitExhausted, attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			notify(Idle, 0)
			return ctx.Err()
		case <-after(delay):
		}
	}
}

// Start runs the initializer in the background; the channel receives the
// single outcome and is then closed.
func (in Initializer) Start(ctx context.Context, r Target, c Container) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		out <- in.Run(ctx, r, c)
	}()
	return out
}
