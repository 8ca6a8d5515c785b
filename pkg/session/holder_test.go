package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"isotope-route-dashboard/pkg/apiclient"
)

type fakeAuth struct {
	user      string
	currentFn func() (string, error)
	logoutErr error
}

func (f *fakeAuth) Login(_ context.Context, username, password string) (apiclient.LoginResponse, error) {
	if password != "secret" {
		return apiclient.LoginResponse{}, &apiclient.StatusError{Op: "login", Status: 401}
	}
	f.user = username
	return apiclient.LoginResponse{Message: "ok", Username: username, SessionID: "s1"}, nil
}

func (f *fakeAuth) CurrentUser(context.Context) (string, error) {
	if f.currentFn != nil {
		return f.currentFn()
	}
	return f.user, nil
}

func (f *fakeAuth) Logout(context.Context) error { return f.logoutErr }

type memStore struct {
	mu sync.Mutex
	kv map[string]string
}

func newMemStore() *memStore { return &memStore{kv: map[string]string{}} }

func (m *memStore) Get(_ context.Context, k string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[k]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, k, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[k] = v
	return nil
}

func (m *memStore) Delete(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, k)
	return nil
}

func recv(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatalf("no state delivered")
		return State{}
	}
}

// TestLoginLogoutMirrorsFlag persists the flag on login and clears it on logout.
func TestLoginLogoutMirrorsFlag(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	h := NewHolder(&fakeAuth{}, store, "b1/isLoggedIn", t.Logf)
	defer h.Close()
	ctx := context.Background()

	if _, err := h.Login(ctx, "ops", "wrong"); !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("bad login err=%v", err)
	}
	if _, ok, _ := store.Get(ctx, "b1/isLoggedIn"); ok {
		t.Fatalf("flag set after failed login")
	}

	st, err := h.Login(ctx, "ops", "secret")
	if err != nil || st.Username != "ops" || !h.Current().LoggedIn() {
		t.Fatalf("Login=%+v,%v", st, err)
	}
	if v, ok, _ := store.Get(ctx, "b1/isLoggedIn"); !ok || v != "true" {
		t.Fatalf("flag=%q,%v", v, ok)
	}

	if err := h.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.Current().LoggedIn() {
		t.Fatalf("still logged in")
	}
	if _, ok, _ := store.Get(ctx, "b1/isLoggedIn"); ok {
		t.Fatalf("flag kept after logout")
	}
}

// TestLogoutFailureKeepsState leaves the user logged in when upstream refuses.
func TestLogoutFailureKeepsState(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{logoutErr: errors.New("upstream down")}
	h := NewHolder(auth, newMemStore(), "k", t.Logf)
	defer h.Close()
	ctx := context.Background()

	_, _ = h.Login(ctx, "ops", "secret")
	if err := h.Logout(ctx); err == nil {
		t.Fatalf("Logout succeeded")
	}
	if h.Current().Username != "ops" {
		t.Fatalf("state=%+v", h.Current())
	}
}

// TestRestore covers the three restore outcomes.
func TestRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no flag", func(t *testing.T) {
		called := false
		auth := &fakeAuth{currentFn: func() (string, error) { called = true; return "ops", nil }}
		h := NewHolder(auth, newMemStore(), "k", t.Logf)
		defer h.Close()
		st, err := h.Restore(ctx)
		if err != nil || st.LoggedIn() || called {
			t.Fatalf("Restore=%+v,%v called=%v", st, err, called)
		}
	})

	t.Run("valid session", func(t *testing.T) {
		store := newMemStore()
		_ = store.Set(ctx, "k", "true")
		h := NewHolder(&fakeAuth{user: "ops"}, store, "k", t.Logf)
		defer h.Close()
		st, err := h.Restore(ctx)
		if err != nil || st.Username != "ops" || h.Current().Username != "ops" {
			t.Fatalf("Restore=%+v,%v", st, err)
		}
	})

	t.Run("rejected session", func(t *testing.T) {
		store := newMemStore()
		_ = store.Set(ctx, "k", "true")
		auth := &fakeAuth{currentFn: func() (string, error) {
			return "", &apiclient.StatusError{Op: "current_user", Status: 401}
		}}
		h := NewHolder(auth, store, "k", t.Logf)
		defer h.Close()
		st, err := h.Restore(ctx)
		if err != nil || st.LoggedIn() {
			t.Fatalf("Restore=%+v,%v", st, err)
		}
		if _, ok, _ := store.Get(ctx, "k"); ok {
			t.Fatalf("flag kept after rejection")
		}
	})
}

// TestSubscribeSeesCurrentThenChanges follows login and logout.
func TestSubscribeSeesCurrentThenChanges(t *testing.T) {
	t.Parallel()

	h := NewHolder(&fakeAuth{}, nil, "k", t.Logf)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if st := recv(t, ch); st.LoggedIn() {
		t.Fatalf("initial=%+v", st)
	}
	_, _ = h.Login(context.Background(), "ops", "secret")
	if st := recv(t, ch); st.Username != "ops" {
		t.Fatalf("after login=%+v", st)
	}
	_ = h.Logout(context.Background())
	if st := recv(t, ch); st.LoggedIn() {
		t.Fatalf("after logout=%+v", st)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("value after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

// TestCloseEndsSubscriptions closes subscriber channels and rejects new ones.
func TestCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	h := NewHolder(&fakeAuth{}, nil, "k", t.Logf)
	ch, _ := h.Subscribe(context.Background())
	recv(t, ch)
	h.Close()
	h.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("value after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed")
	}
	if _, err := h.Subscribe(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe after close err=%v", err)
	}
	if h.Current().LoggedIn() {
		t.Fatalf("state after close")
	}
}
