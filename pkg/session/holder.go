// Package session tracks who is logged in to the route API for one
// dashboard user and lets views follow changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"isotope-route-dashboard/pkg/apiclient"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session holder closed")

const loggedInValue = "true"

// Authenticator is the slice of the API client the holder needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (apiclient.LoginResponse, error)
	CurrentUser(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Store persists the logged-in flag so a restarted dashboard knows to ask
// upstream who the session belongs to.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// State is the value subscribers receive.
type State struct {
	Username string
}

func (s State) LoggedIn() bool { return s.Username != "" }

type subscription struct {
	ch chan State
}

// Holder owns the current State on its own goroutine. Subscribers get the
// current value first and then every change; slow subscribers miss
// intermediate values but never block the holder.
type Holder struct {
	auth  Authenticator
	store Store
	key   string
	logf  func(string, ...any)

	set         chan State
	get         chan chan State
	subscribe   chan subscription
	unsubscribe chan subscription
	quit        chan struct{}
}

// NewHolder starts a holder whose flag lives under key in store. store may
// be nil to skip persistence.
func NewHolder(auth Authenticator, store Store, key string, logf func(string, ...any)) *Holder {
	if logf == nil {
		logf = log.Printf
	}
	h := &Holder{
		auth:        auth,
		store:       store,
		key:         key,
		logf:        logf,
		set:         make(chan State),
		get:         make(chan chan State),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		quit:        make(chan struct{}),
	}
	go h.run()
	return h
}

// Close stops the holder and closes every subscription channel.
func (h *Holder) Close() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
}

// Restore asks upstream for the current user when the persisted flag says
// a login happened earlier. A rejected session clears the flag.
func (h *Holder) Restore(ctx context.Context) (State, error) {
	if h.store == nil {
		return h.Current(), nil
	}
	_, ok, err := h.store.Get(ctx, h.key)
	if err != nil {
		return State{}, fmt.Errorf("read session flag: %w", err)
	}
	if !ok {
		return h.Current(), nil
	}
	user, err := h.auth.CurrentUser(ctx)
	if err != nil {
		h.publish(State{})
		if errors.Is(err, apiclient.ErrUnauthorized) {
			if delErr := h.store.Delete(ctx, h.key); delErr != nil {
				h.logf("session %s: clear flag: %v", h.key, delErr)
			}
			return State{}, nil
		}
		return State{}, fmt.Errorf("restore session: %w", err)
	}
	st := State{Username: user}
	h.publish(st)
	return st, nil
}

// Login authenticates upstream and records the user.
func (h *Holder) Login(ctx context.Context, username, password string) (State, error) {
	resp, err := h.auth.Login(ctx, username, password)
	if err != nil {
		return State{}, err
	}
	if resp.Username == "" {
		return h.Current(), nil
	}
	if h.store != nil {
		if err := h.store.Set(ctx, h.key, loggedInValue); err != nil {
			h.logf("session %s: persist flag: %v", h.key, err)
		}
	}
	st := State{Username: resp.Username}
	h.publish(st)
	return st, nil
}

// Logout ends the upstream session. The local state is only cleared once
// upstream confirmed.
func (h *Holder) Logout(ctx context.Context) error {
	if err := h.auth.Logout(ctx); err != nil {
		return err
	}
	if h.store != nil {
		if err := h.store.Delete(ctx, h.key); err != nil {
			h.logf("session %s: clear flag: %v", h.key, err)
		}
	}
	h.publish(State{})
	return nil
}

// Current returns the latest state, or the zero State after Close.
func (h *Holder) Current() State {
	reply := make(chan State, 1)
	select {
	case h.get <- reply:
		return <-reply
	case <-h.quit:
		return State{}
	}
}

// Subscribe returns a channel that receives the current state and then
// every change until ctx ends or the holder closes.
func (h *Holder) Subscribe(ctx context.Context) (<-chan State, error) {
	select {
	case <-h.quit:
		return nil, ErrClosed
	default:
	}
	sub := subscription{ch: make(chan State, 1)}
	select {
	case h.subscribe <- sub:
	case <-h.quit:
		return nil, ErrClosed
	}
	go func() {
		select {
		case <-ctx.Done():
			select {
			case h.unsubscribe <- sub:
			case <-h.quit:
			}
		case <-h.quit:
		}
	}()
	return sub.ch, nil
}

func (h *Holder) publish(st State) {
	select {
	case h.set <- st:
	case <-h.quit:
	}
}

func (h *Holder) run() {
	var current State
	subs := make(map[chan State]struct{})
	deliver := func(ch chan State, st State) {
		// Keep only the newest value in the one-slot buffer.
		select {
		case <-ch:
		default:
		}
		ch <- st
	}

	for {
		select {
		case <-h.quit:
			for ch := range subs {
				close(ch)
			}
			return
		case reply := <-h.get:
			reply <- current
		case sub := <-h.subscribe:
			subs[sub.ch] = struct{}{}
			deliver(sub.ch, current)
		case sub := <-h.unsubscribe:
			if _, ok := subs[sub.ch]; ok {
				delete(subs, sub.ch)
				close(sub.ch)
			}
		case st := <-h.set:
			if st == current {
				continue
			}
			current = st
			for ch := range subs {
				deliver(ch, st)
			}
		}
	}
}
