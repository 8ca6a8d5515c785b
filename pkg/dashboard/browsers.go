package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"isotope-route-dashboard/pkg/apiclient"
	"isotope-route-dashboard/pkg/metrics"
	"isotope-route-dashboard/pkg/routeview"
	"isotope-route-dashboard/pkg/serial"
	"isotope-route-dashboard/pkg/session"
)

const (
	browserCookie = "routedash_browser"
	loggedInKey   = "isLoggedIn"
)

// browser is everything one visitor owns: an upstream session, its login
// state, the route list and the route currently shown.
type browser struct {
	id     string
	client *apiclient.Client
	auth   *session.Holder
	list   *routeview.List
	view   *routeview.View
	stop   context.CancelFunc

	lastSeen time.Time // owned by the registry loop
}

func (b *browser) close() {
	b.stop()
	b.view.Close()
	b.list.Close()
	b.auth.Close()
	b.client.Close()
}

// registry maps browser cookies to browsers. All map access runs on loop.
type registry struct {
	loop  *serial.Loop
	items map[string]*browser
	build func(id string) (*browser, error)
	now   func() time.Time
}

func newRegistry(build func(id string) (*browser, error)) *registry {
	return &registry{
		loop:  serial.New(),
		items: make(map[string]*browser),
		build: build,
		now:   time.Now,
	}
}

// get returns the browser for id, creating it when unknown. created is
// true for a fresh browser so the caller can restore its login.
func (r *registry) get(id string) (b *browser, created bool, err error) {
	if loopErr := r.loop.Do(func() {
		if existing, ok := r.items[id]; ok {
			existing.lastSeen = r.now()
			b = existing
			return
		}
		b, err = r.build(id)
		if err != nil {
			return
		}
		b.lastSeen = r.now()
		r.items[id] = b
		created = true
		metrics.ActiveViews.Set(float64(len(r.items)))
	}); loopErr != nil {
		return nil, false, loopErr
	}
	return b, created, err
}

// sweep closes browsers not seen for ttl and reports how many went.
func (r *registry) sweep(ttl time.Duration) int {
	var idle []*browser
	_ = r.loop.Do(func() {
		cutoff := r.now().Add(-ttl)
		for id, b := range r.items {
			if b.lastSeen.Before(cutoff) {
				idle = append(idle, b)
				delete(r.items, id)
			}
		}
		metrics.ActiveViews.Set(float64(len(r.items)))
	})
	for _, b := range idle {
		b.close()
	}
	return len(idle)
}

func (r *registry) len() int {
	n := 0
	_ = r.loop.Do(func() { n = len(r.items) })
	return n
}

func (r *registry) close() {
	var all []*browser
	_ = r.loop.Do(func() {
		for id, b := range r.items {
			all = append(all, b)
			delete(r.items, id)
		}
		metrics.ActiveViews.Set(0)
	})
	r.loop.Close()
	for _, b := range all {
		b.close()
	}
}

// browserID reads the browser cookie, issuing a new one when it is
// missing or malformed.
func browserID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(browserCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     browserCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
