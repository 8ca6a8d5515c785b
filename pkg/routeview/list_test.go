package routeview

import (
	"context"
	"errors"
	"testing"

	"isotope-route-dashboard/pkg/route"
)

type fakeListAPI struct {
	routes    []route.Route
	listErr   error
	deleteErr error
	renames   int
}

func (f *fakeListAPI) ListRoutes(context.Context) ([]route.Route, error) {
	return append([]route.Route(nil), f.routes...), f.listErr
}

func (f *fakeListAPI) DeleteRoute(context.Context, int64) error { return f.deleteErr }

func (f *fakeListAPI) UpdateRouteName(context.Context, int64, string) error {
	f.renames++
	return nil
}

func loadedList(t *testing.T, api *fakeListAPI) *List {
	t.Helper()
	l := NewList(api, t.Logf)
	t.Cleanup(l.Close)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l
}

// TestListDeleteRoute drops the route only after upstream agreed.
func TestListDeleteRoute(t *testing.T) {
	t.Parallel()

	api := &fakeListAPI{routes: []route.Route{{ID: 1, Name: "North loop"}, {ID: 2, Name: "River path"}}}
	l := loadedList(t, api)

	api.deleteErr = errors.New("500")
	if err := l.DeleteRoute(context.Background(), 1); err == nil {
		t.Fatalf("DeleteRoute succeeded")
	}
	if st := l.State(); len(st.Routes) != 2 || st.Error != MsgDeleteRoute {
		t.Fatalf("state=%+v", st)
	}

	api.deleteErr = nil
	if err := l.DeleteRoute(context.Background(), 1); err != nil {
		t.Fatalf("DeleteRoute: %v", err)
	}
	routes := l.Routes()
	if len(routes) != 1 || routes[0].ID != 2 {
		t.Fatalf("routes=%+v", routes)
	}
}

// TestListLoadFailure records the message and keeps the old list.
func TestListLoadFailure(t *testing.T) {
	t.Parallel()

	api := &fakeListAPI{routes: []route.Route{{ID: 1, Name: "North loop"}}}
	l := loadedList(t, api)
	api.listErr = errors.New("timeout")
	if err := l.Load(context.Background()); err == nil {
		t.Fatalf("Load succeeded")
	}
	if st := l.State(); st.Error != MsgLoadRoutes || len(st.Routes) != 1 || st.Loading {
		t.Fatalf("state=%+v", st)
	}
}

// TestListRename validates before calling upstream.
func TestListRename(t *testing.T) {
	t.Parallel()

	api := &fakeListAPI{routes: []route.Route{{ID: 1, Name: "North loop"}}}
	l := loadedList(t, api)

	if err := l.Rename(context.Background(), 1, "x!"); !errors.Is(err, route.ErrInvalidName) {
		t.Fatalf("Rename err=%v", err)
	}
	if api.renames != 0 {
		t.Fatalf("invalid name sent upstream")
	}
	if err := l.Rename(context.Background(), 1, "  Ridge (east)  "); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if r, _ := l.Find(1); r.Name != "Ridge (east)" {
		t.Fatalf("name=%q", r.Name)
	}
}
