// Package dashboard serves the route overview, the route map page and the
// chart, map and share endpoints its page script calls.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"isotope-route-dashboard/pkg/apiclient"
	"isotope-route-dashboard/pkg/database"
	"isotope-route-dashboard/pkg/geomap"
	"isotope-route-dashboard/pkg/metrics"
	"isotope-route-dashboard/pkg/ratelimit"
	"isotope-route-dashboard/pkg/routeview"
	"isotope-route-dashboard/pkg/session"
)

// Config wires a dashboard to its upstream API and local store.
type Config struct {
	APIURL     string
	APITimeout time.Duration
	CacheTTL   time.Duration
	Backoff    apiclient.Backoff
	// HTTPClient builds the upstream client of each browser; nil uses
	// a default client. It must return a fresh client per call.
	HTTPClient func() *http.Client

	Init        geomap.Initializer
	SettleDelay time.Duration
	ReadOnly    bool
	Location    *time.Location

	ChartWidth  int
	ChartHeight int

	// SessionTTL is how long an idle browser keeps its upstream session.
	SessionTTL time.Duration
	// HeavyCooldown spaces login attempts and share-code renders of one
	// client address.
	HeavyCooldown time.Duration
	// PublicURL prefixes the links encoded in share codes.
	PublicURL string
	// Store mirrors login flags; nil keeps them in memory only.
	Store   *database.Database
	Version string
	Logf    func(string, ...any)
}

const (
	defaultChartWidth  = 900
	defaultChartHeight = 320
	defaultSessionTTL  = 30 * time.Minute
	defaultCooldown    = time.Second
	maxDimension       = 8192
)

// Server is the dashboard HTTP surface.
type Server struct {
	cfg      Config
	logf     func(string, ...any)
	browsers *registry
	limiter  *ratelimit.Limiter
	router   *mux.Router
}

// New validates cfg and builds the router. Close releases every browser.
func New(cfg Config) (*Server, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("dashboard: api url required")
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if cfg.ChartWidth <= 0 {
		cfg.ChartWidth = defaultChartWidth
	}
	if cfg.ChartHeight <= 0 {
		cfg.ChartHeight = defaultChartHeight
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.HeavyCooldown <= 0 {
		cfg.HeavyCooldown = defaultCooldown
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	// fail early on a bad url rather than on the first visitor
	probe, err := apiclient.New(apiclient.Config{BaseURL: cfg.APIURL})
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	probe.Close()

	s := &Server{cfg: cfg, logf: cfg.Logf}
	s.browsers = newRegistry(s.newBrowser)
	s.limiter = ratelimit.New(cfg.HeavyCooldown)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	r.HandleFunc("/", s.listHandler).Methods(http.MethodGet)
	r.HandleFunc("/login", s.loginPageHandler).Methods(http.MethodGet)
	r.HandleFunc("/login", s.limited(ratelimit.Heavy, s.loginHandler)).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logoutHandler).Methods(http.MethodPost)
	r.HandleFunc("/legend.json", s.legendHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	rt := r.PathPrefix("/routes/{id:[0-9]+}").Subrouter()
	rt.HandleFunc("", s.routePageHandler).Methods(http.MethodGet)
	rt.HandleFunc("/rename", s.renameHandler).Methods(http.MethodPost)
	rt.HandleFunc("/delete", s.deleteRouteHandler).Methods(http.MethodPost)
	rt.HandleFunc("/refresh", s.refreshHandler).Methods(http.MethodPost)
	rt.HandleFunc("/state.json", s.stateHandler).Methods(http.MethodGet)
	rt.HandleFunc("/map.geojson", s.limited(ratelimit.General, s.mapHandler)).Methods(http.MethodGet)
	rt.HandleFunc("/chart/{metric:dose|count}.svg", s.chartHandler).Methods(http.MethodGet)
	rt.HandleFunc("/chart/{metric:dose|count}/activate", s.activateHandler).Methods(http.MethodPost)
	rt.HandleFunc("/points/{pid:[0-9]+}/delete", s.deletePointHandler).Methods(http.MethodPost)
	rt.HandleFunc("/qr.png", s.limited(ratelimit.Heavy, s.qrHandler)).Methods(http.MethodGet)
	return r
}

// Handler returns the router with the server header applied.
func (s *Server) Handler() http.Handler {
	return withServerHeader(s.router, s.cfg.Version)
}

// Run sweeps idle browsers until ctx ends.
func (s *Server) Run(ctx context.Context) {
	every := s.cfg.SessionTTL / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.browsers.sweep(s.cfg.SessionTTL); n > 0 {
				s.logf("dashboard: closed %d idle browser sessions", n)
			}
		}
	}
}

// Close releases every browser session.
func (s *Server) Close() {
	s.limiter.Close()
	s.browsers.close()
}

// limited runs h once the client address holds a limiter slot.
func (s *Server) limited(kind ratelimit.Kind, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		permit, err := s.limiter.Acquire(r.Context(), clientIP(r), kind)
		if err != nil {
			if errors.Is(err, ratelimit.ErrBusy) || errors.Is(err, ratelimit.ErrClosed) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
			}
			return
		}
		defer permit.Release()
		if permit.Waited > 0 {
			w.Header().Set("X-Queue-Wait", permit.Waited.Round(time.Millisecond).String())
		}
		h(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// newBrowser runs on the registry loop, so it must not block on the network.
func (s *Server) newBrowser(id string) (*browser, error) {
	var hc *http.Client
	if s.cfg.HTTPClient != nil {
		hc = s.cfg.HTTPClient()
	}
	client, err := apiclient.New(apiclient.Config{
		BaseURL:    s.cfg.APIURL,
		Timeout:    s.cfg.APITimeout,
		CacheTTL:   s.cfg.CacheTTL,
		Backoff:    s.cfg.Backoff,
		HTTPClient: hc,
		Logf:       s.logf,
	})
	if err != nil {
		return nil, err
	}

	var store session.Store
	if s.cfg.Store != nil {
		store = s.cfg.Store.Scoped("browser/" + id)
	}
	auth := session.NewHolder(client, store, loggedInKey, s.logf)

	ctx, stop := context.WithCancel(context.Background())
	updates, err := auth.Subscribe(ctx)
	if err != nil {
		stop()
		auth.Close()
		client.Close()
		return nil, err
	}
	go func() {
		short := id[:8]
		var prev session.State
		for st := range updates {
			if st == prev {
				continue
			}
			prev = st
			if st.LoggedIn() {
				s.logf("browser %s: signed in as %s", short, st.Username)
			} else {
				s.logf("browser %s: signed out", short)
			}
		}
	}()

	return &browser{
		id:     id,
		client: client,
		auth:   auth,
		list:   routeview.NewList(client, s.logf),
		view: routeview.New(client, geomap.DefaultFeatureBackend, routeview.Options{
			Init:        s.cfg.Init,
			SettleDelay: s.cfg.SettleDelay,
			ReadOnly:    s.cfg.ReadOnly,
			Location:    s.cfg.Location,
			Logf:        s.logf,
		}),
		stop: stop,
	}, nil
}

// browser resolves the visitor. A fresh browser restores a login
// remembered in the store before it is used.
func (s *Server) browser(w http.ResponseWriter, r *http.Request) (*browser, error) {
	id := browserID(w, r)
	b, created, err := s.browsers.get(id)
	if err != nil {
		return nil, err
	}
	if created {
		if _, err := b.auth.Restore(r.Context()); err != nil {
			s.logf("browser %s: restore session: %v", id[:8], err)
		}
	}
	return b, nil
}

func withServerHeader(h http.Handler, version string) http.Handler {
	name := "routedash"
	if version != "" {
		name += "/" + version
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", name)
		h.ServeHTTP(w, r)
	})
}
