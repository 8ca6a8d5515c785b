// Package serial runs closures on a single owning goroutine.
//
// Renderers and views keep their state inside the loop so callers from
// many HTTP goroutines never touch it concurrently. The response cache and
// the session holder own their state the same way with dedicated message
// types; Loop does it for arbitrary closures.
package serial

import "errors"

// ErrStopped is returned by Do once Close has been called.
var ErrStopped = errors.New("serial loop stopped")

// Loop executes submitted functions one at a time, in submission order.
type Loop struct {
	ops  chan op
	quit chan struct{}
}

type op struct {
	fn   func()
	done chan struct{}
}

// New starts the owning goroutine.
func New() *Loop {
	l := &Loop{
		ops:  make(chan op),
		quit: make(chan struct{}),
	}
	go l.run()
	return l
}

// Do runs fn on the loop goroutine and waits for it to return.
// fn must not call Do on the same loop; that would deadlock.
func (l *Loop) Do(fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case <-l.quit:
		return ErrStopped
	case l.ops <- o:
	}
	<-o.done
	return nil
}

// Close stops the loop. Safe to call more than once.
func (l *Loop) Close() {
	select {
	case <-l.quit:
		return
	default:
	}
	close(l.quit)
}

func (l *Loop) run() {
	for {
		select {
		case <-l.quit:
			return
		case o := <-l.ops:
			o.fn()
			close(o.done)
		}
	}
}
