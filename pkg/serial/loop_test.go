package serial

import (
	"errors"
	"sync"
	"testing"
)

// TestDoSerialises hammers the loop from many goroutines and checks that
// the plain counter owned by the loop never loses an increment.
func TestDoSerialises(t *testing.T) {
	l := New()
	defer l.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := l.Do(func() { counter++ }); err != nil {
					t.Errorf("Do: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	var got int
	_ = l.Do(func() { got = counter })
	if got != 1000 {
		t.Fatalf("counter=%d want 1000", got)
	}
}

func TestDoAfterClose(t *testing.T) {
	l := New()
	l.Close()
	l.Close()
	if err := l.Do(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do after Close err=%v want ErrStopped", err)
	}
}
