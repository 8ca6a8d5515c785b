package geomap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// growingContainer reports zero size until it has been measured n times.
type growingContainer struct {
	mu    sync.Mutex
	calls int
	after int
}

func (c *growingContainer) Key() string { return "map" }

func (c *growingContainer) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.after > 0 && c.calls > c.after {
		return 800, 600
	}
	return 0, 0
}

type fakeClock struct {
	waits []time.Duration
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// TestInitializerGivesUp makes five attempts 100ms apart and then fails.
func TestInitializerGivesUp(t *testing.T) {
	t.Parallel()

	r := NewRenderer(&recordingBackend{}, time.UTC)
	defer r.Close()
	clock := &fakeClock{}
	var states []InitState
	in := Initializer{
		After:        clock.After,
		OnTransition: func(s InitState, _ int) { states = append(states, s) },
	}

	err := in.Run(context.Background(), r, &growingContainer{})
	if !errors.Is(err, ErrInitExhausted) {
		t.Fatalf("Run err=%v want ErrInitExhausted", err)
	}
	if len(clock.waits) != 4 {
		t.Fatalf("waits=%d want 4", len(clock.waits))
	}
	for _, d := range clock.waits {
		if d != 100*time.Millisecond {
			t.Fatalf("wait=%s want 100ms", d)
		}
	}
	attempts := 0
	for _, s := range states {
		if s == Attempting {
			attempts++
		}
	}
	if attempts != 5 || states[len(states)-1] != Failed {
		t.Fatalf("states=%v", states)
	}
	if r.IsInitialized() {
		t.Fatalf("renderer initialised after failure")
	}
}

// TestInitializerSucceedsOnceSized stops retrying at the first sized attempt.
func TestInitializerSucceedsOnceSized(t *testing.T) {
	t.Parallel()

	r := NewRenderer(&recordingBackend{}, time.UTC)
	defer r.Close()
	clock := &fakeClock{}
	var last InitState
	in := Initializer{After: clock.After, OnTransition: func(s InitState, _ int) { last = s }}

	if err := in.Run(context.Background(), r, &growingContainer{after: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(clock.waits) != 2 || last != Ready || !r.IsInitialized() {
		t.Fatalf("waits=%d state=%s initialised=%v", len(clock.waits), last, r.IsInitialized())
	}
}

// TestInitializerCancelled returns the context error between attempts.
func TestInitializerCancelled(t *testing.T) {
	t.Parallel()

	r := NewRenderer(&recordingBackend{}, time.UTC)
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := Initializer{After: func(time.Duration) <-chan time.Time { return nil }}

	if err := <-in.Start(ctx, r, &growingContainer{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start err=%v want context.Canceled", err)
	}
}

// TestInitializerRealTimer uses the default delay end to end.
func TestInitializerRealTimer(t *testing.T) {
	t.Parallel()

	r := NewRenderer(&recordingBackend{}, time.UTC)
	defer r.Close()
	start := time.Now()
	err := Initializer{}.Run(context.Background(), r, &growingContainer{})
	if !errors.Is(err, ErrInitExhausted) {
		t.Fatalf("Run err=%v", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("gave up after %s, want >= 400ms", elapsed)
	}
}
