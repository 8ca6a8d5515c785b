package routeview

import (
	"context"
	"fmt"
	"log"

	"isotope-route-dashboard/pkg/route"
	"isotope-route-dashboard/pkg/serial"
)

const (
	MsgLoadRoutes  = "Failed to load routes"
	MsgDeleteRoute = "Failed to delete route"
)

// ListAPI is what the route list needs from the upstream client.
type ListAPI interface {
	ListRoutes(ctx context.Context) ([]route.Route, error)
	DeleteRoute(ctx context.Context, id int64) error
	UpdateRouteName(ctx context.Context, id int64, name string) error
}

// ListState is a snapshot of the route list.
type ListState struct {
	Routes  []route.Route
	Loading bool
	Error   string
}

// List holds the route overview.
type List struct {
	api  ListAPI
	logf func(string, ...any)
	loop *serial.Loop

	gen     uint64
	routes  []route.Route
	loading bool
	errMsg  string
}

// NewList builds an empty list; call Load to fill it.
func NewList(api ListAPI, logf func(string, ...any)) *List {
	if logf == nil {
		logf = log.Printf
	}
	return &List{api: api, logf: logf, loop: serial.New()}
}

// Load replaces the list with the upstream one. Of two overlapping loads
// only the later one is applied.
func (l *List) Load(ctx context.Context) error {
	var gen uint64
	if err := l.loop.Do(func() {
		l.gen++
		gen = l.gen
		l.loading = true
		l.errMsg = ""
	}); err != nil {
		return err
	}

	routes, err := l.api.ListRoutes(ctx)
	stale := false
	if loopErr := l.loop.Do(func() {
		if gen != l.gen {
			stale = true
			return
		}
		l.loading = false
		if err != nil {
			l.errMsg = MsgLoadRoutes
			return
		}
		l.routes = routes
	}); loopErr != nil {
		return loopErr
	}
	if stale {
		return ErrStale
	}
	if err != nil {
		l.logf("%s: %v", MsgLoadRoutes, err)
		return fmt.Errorf("list routes: %w", err)
	}
	return nil
}

// DeleteRoute deletes upstream and drops the route from the list.
// Confirmation belongs to the caller.
func (l *List) DeleteRoute(ctx context.Context, id int64) error {
	_ = l.loop.Do(func() { l.loading = true })
	err := l.api.DeleteRoute(ctx, id)
	if loopErr := l.loop.Do(func() {
		l.loading = false
		if err != nil {
			l.errMsg = MsgDeleteRoute
			return
		}
		out := make([]route.Route, 0, len(l.routes))
		for _, r := range l.routes {
			if r.ID != id {
				out = append(out, r)
			}
		}
		l.routes = out
	}); loopErr != nil {
		return loopErr
	}
	if err != nil {
		l.logf("%s: %v", MsgDeleteRoute, err)
		return fmt.Errorf("delete route %d: %w", id, err)
	}
	return nil
}

// Rename validates name before any network call and updates the entry once
// upstream accepted it.
func (l *List) Rename(ctx context.Context, id int64, name string) error {
	clean, err := route.NormalizeName(name)
	if err != nil {
		return err
	}
	if err := l.api.UpdateRouteName(ctx, id, clean); err != nil {
		return fmt.Errorf("rename route %d: %w", id, err)
	}
	return l.loop.Do(func() {
		for i := range l.routes {
			if l.routes[i].ID == id {
				l.routes[i].Name = clean
			}
		}
	})
}

// Routes returns a copy of the current list.
func (l *List) Routes() []route.Route {
	return l.State().Routes
}

// Find returns the listed route with id.
func (l *List) Find(id int64) (route.Route, bool) {
	for _, r := range l.Routes() {
		if r.ID == id {
			return r, true
		}
	}
	return route.Route{}, false
}

// State returns a snapshot of the list.
func (l *List) State() ListState {
	var st ListState
	_ = l.loop.Do(func() {
		st = ListState{
			Routes:  append([]route.Route(nil), l.routes...),
			Loading: l.loading,
			Error:   l.errMsg,
		}
	})
	return st
}

// Close stops the list loop.
func (l *List) Close() { l.loop.Close() }
