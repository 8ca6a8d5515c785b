// Package ratelimit sequences requests per client key. Requests of one key
// run one at a time; heavy requests additionally wait out a cooldown after
// the previous heavy request of the same key finished.
//
// Every key gets its own worker goroutine, fed by a small queue. Workers
// retire after a quiet period. No mutexes: the dispatcher goroutine owns
// the worker table.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy is returned when a key already has a full queue.
	ErrBusy = errors.New("too many queued requests")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rate limiter closed")
)

// Kind separates cheap requests from ones that are throttled.
type Kind int

const (
	// General requests only queue behind other requests of the same key.
	General Kind = iota
	// Heavy requests also wait for the cooldown after the last heavy one.
	Heavy
)

const (
	defaultQueue = 16
	defaultIdle  = time.Minute
)

// Limiter is safe for concurrent use. A nil Limiter admits everything.
type Limiter struct {
	cooldown time.Duration
	idle     time.Duration
	queue    int
	now      func() time.Time

	requests chan keyedRequest
	retire   chan retireRequest
	quit     chan struct{}
}

type keyedRequest struct {
	key string
	req request
}

type request struct {
	ctx      context.Context
	kind     Kind
	arrived  time.Time
	response chan response
}

type response struct {
	release chan struct{}
	waited  time.Duration
	err     error
}

type retireRequest struct {
	key string
	ok  chan bool
}

// Permit is one admitted request. Release it when the request is done.
type Permit struct {
	release chan struct{}
	// Waited is the time spent queued and cooling down.
	Waited time.Duration
}

// Release lets the next request of the key proceed. Extra calls are no-ops.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	close(p.release)
	p.release = nil
}

// New starts a limiter with the given heavy-request cooldown.
func New(cooldown time.Duration) *Limiter {
	l := &Limiter{
		cooldown: cooldown,
		idle:     defaultIdle,
		queue:    defaultQueue,
		now:      time.Now,
		requests: make(chan keyedRequest),
		retire:   make(chan retireRequest),
		quit:     make(chan struct{}),
	}
	go l.loop()
	return l
}

// Close stops the dispatcher and every worker. Pending Acquire calls
// return ErrClosed.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
}

// Acquire waits for a slot for key. The permit must be released.
func (l *Limiter) Acquire(ctx context.Context, key string, kind Kind) (*Permit, error) {
	if l == nil {
		return &Permit{}, nil
	}
	select {
	case <-l.quit:
		return nil, ErrClosed
	default:
	}
	respCh := make(chan response, 1)
	req := request{ctx: ctx, kind: kind, arrived: l.now(), response: respCh}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.quit:
		return nil, ErrClosed
	case l.requests <- keyedRequest{key: key, req: req}:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.quit:
		return nil, ErrClosed
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return &Permit{release: resp.release, Waited: resp.waited}, nil
	}
}

func (l *Limiter) loop() {
	workers := make(map[string]chan request)
	for {
		select {
		case <-l.quit:
			return
		case rr := <-l.retire:
			// nothing can be enqueued while we look, so an empty queue
			// means the worker may go
			ch, ok := workers[rr.key]
			empty := !ok || len(ch) == 0
			if empty {
				delete(workers, rr.key)
			}
			rr.ok <- empty
		case kr := <-l.requests:
			ch, ok := workers[kr.key]
			if !ok {
				ch = make(chan request, l.queue)
				workers[kr.key] = ch
				go l.worker(kr.key, ch)
			}
			select {
			case ch <- kr.req:
			default:
				kr.req.response <- response{err: ErrBusy}
			}
		}
	}
}

func (l *Limiter) worker(key string, requests <-chan request) {
	var lastHeavy time.Time
	idle := time.NewTimer(l.idle)
	defer idle.Stop()

	for {
		select {
		case <-l.quit:
			return
		case req := <-requests:
			if l.serve(req, &lastHeavy) {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.idle)
		case <-idle.C:
			ok := make(chan bool, 1)
			select {
			case <-l.quit:
				return
			case l.retire <- retireRequest{key: key, ok: ok}:
			}
			if <-ok {
				return
			}
			idle.Reset(l.idle)
		}
	}
}

// serve admits one request and blocks until it is released. It reports
// true when the limiter is closing.
func (l *Limiter) serve(req request, lastHeavy *time.Time) bool {
	if req.ctx.Err() != nil {
		req.response <- response{err: req.ctx.Err()}
		return false
	}
	waited := max(l.now().Sub(req.arrived), 0)

	if req.kind == Heavy && !lastHeavy.IsZero() {
		if wait := lastHeavy.Add(l.cooldown).Sub(l.now()); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-req.ctx.Done():
				t.Stop()
				req.response <- response{err: req.ctx.Err()}
				return false
			case <-l.quit:
				t.Stop()
				return true
			case <-t.C:
				waited += wait
			}
		}
	}

	release := make(chan struct{})
	req.response <- response{release: release, waited: waited}

	// a cancelled request frees the slot even if its permit was never
	// picked up or released
	select {
	case <-release:
	case <-req.ctx.Done():
	case <-l.quit:
		return true
	}
	if req.kind == Heavy {
		*lastHeavy = l.now()
	}
	return false
}
