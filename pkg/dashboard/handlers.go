package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"isotope-route-dashboard/pkg/apiclient"
	"isotope-route-dashboard/pkg/chart"
	"isotope-route-dashboard/pkg/geomap"
	"isotope-route-dashboard/pkg/radiation"
	"isotope-route-dashboard/pkg/route"
	"isotope-route-dashboard/pkg/routeview"
	"isotope-route-dashboard/pkg/sharecode"
)

const msgBadLogin = "Invalid username or password"

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	err := b.list.Load(r.Context())
	if s.redirectUnauthorized(w, r, err) {
		return
	}
	if err != nil && !errors.Is(err, routeview.ErrStale) {
		s.logf("list routes: %v", err)
	}
	st := b.list.State()
	status := http.StatusOK
	if st.Error != "" {
		status = http.StatusBadGateway
	}
	s.render(w, status, "list.html", listPage{
		page:   page{Title: "Routes", User: b.auth.Current().Username, Error: st.Error},
		Routes: st.Routes,
	})
}

func (s *Server) routePageHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	err := s.ensureRoute(r, b, id)
	if s.redirectUnauthorized(w, r, err) {
		return
	}
	status := http.StatusOK
	if err != nil {
		s.logf("open route %d: %v", id, err)
		status = statusFor(err)
	}
	s.render(w, status, "route.html", s.routePage(b))
}

// renameHandler renames through the open view when it shows the route,
// otherwise through the list. Invalid names come back as 422 with the
// form message and never reach upstream.
func (s *Server) renameHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	name := r.FormValue("name")

	if b.view.State().RouteID == id {
		err := b.view.Rename(r.Context(), name)
		if s.redirectUnauthorized(w, r, err) {
			return
		}
		switch {
		case errors.Is(err, route.ErrInvalidName):
			s.render(w, http.StatusUnprocessableEntity, "route.html", s.routePage(b))
		case err != nil:
			s.logf("rename route %d: %v", id, err)
			s.render(w, statusFor(err), "route.html", s.routePage(b))
		default:
			http.Redirect(w, r, routeURL(id), http.StatusSeeOther)
		}
		return
	}

	err := b.list.Rename(r.Context(), id, name)
	if s.redirectUnauthorized(w, r, err) {
		return
	}
	if err != nil {
		st := b.list.State()
		data := listPage{
			page:     page{Title: "Routes", User: b.auth.Current().Username},
			Routes:   st.Routes,
			RenameID: id,
		}
		status := http.StatusUnprocessableEntity
		if errors.Is(err, route.ErrInvalidName) {
			data.NameError = err.Error()
		} else {
			s.logf("rename route %d: %v", id, err)
			data.Error = routeview.MsgRename
			status = statusFor(err)
		}
		s.render(w, status, "list.html", data)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) deleteRouteHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	err := b.list.DeleteRoute(r.Context(), id)
	if s.redirectUnauthorized(w, r, err) {
		return
	}
	if err != nil {
		s.logf("delete route %d: %v", id, err)
		st := b.list.State()
		s.render(w, statusFor(err), "list.html", listPage{
			page:   page{Title: "Routes", User: b.auth.Current().Username, Error: st.Error},
			Routes: st.Routes,
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	var err error
	if b.view.State().RouteID == id {
		// the page reports its map size again after reloading
		if err = b.view.Detach(); err == nil {
			err = b.view.Refresh(r.Context())
		}
	} else {
		err = s.ensureRoute(r, b, id)
	}
	if s.redirectUnauthorized(w, r, err) {
		return
	}
	if err != nil {
		s.logf("refresh route %d: %v", id, err)
	}
	http.Redirect(w, r, routeURL(id), http.StatusSeeOther)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	st := b.view.State()
	if st.RouteID != id {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "route not open"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        st.RouteID,
		"name":      st.Name,
		"loading":   st.Loading,
		"error":     st.Error,
		"nameError": st.NameError,
		"map":       st.Map.String(),
		"count":     len(st.Measurements),
		"summary":   route.Summarize(st.Measurements),
	})
}

// mapHandler binds the route to the map element size the page reported
// and answers with the overlay as GeoJSON.
func (s *Server) mapHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	if err := s.ensureRoute(r, b, id); err != nil {
		s.jsonError(w, err, b.view.State().Error)
		return
	}

	vp := geomap.Viewport{
		Name:   "map-" + strconv.FormatInt(id, 10),
		Width:  dimension(r, "w", 0),
		Height: dimension(r, "h", 0),
	}
	if err := b.view.Attach(r.Context(), vp); err != nil {
		msg := b.view.State().Error
		if errors.Is(err, geomap.ErrInitExhausted) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": msg})
			return
		}
		s.jsonError(w, err, msg)
		return
	}

	var doc geomap.FeatureCollection
	err := b.view.Map().Inspect(func(sf geomap.Surface) {
		if fs, ok := sf.(*geomap.FeatureSurface); ok {
			doc = fs.Document()
		}
	})
	if err != nil {
		s.jsonError(w, err, routeview.MsgInit)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) chartHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	metric, _ := chart.ParseMetric(mux.Vars(r)["metric"])
	if err := s.ensureRoute(r, b, id); err != nil {
		s.jsonError(w, err, b.view.State().Error)
		return
	}

	surf := chart.NewSVGSurface(chartKey(metric),
		dimension(r, "w", s.cfg.ChartWidth), dimension(r, "h", s.cfg.ChartHeight))
	if err := b.view.RenderChart(metric, surf); err != nil {
		if errors.Is(err, chart.ErrSurfaceNotReady) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.jsonError(w, err, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(surf.Bytes())
}

// activateHandler takes the click position of an image input over a chart
// and deletes the nearest point.
func (s *Server) activateHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	metric, _ := chart.ParseMetric(mux.Vars(r)["metric"])
	x, errX := strconv.ParseFloat(r.FormValue("pt.x"), 64)
	y, errY := strconv.ParseFloat(r.FormValue("pt.y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "click position required", http.StatusBadRequest)
		return
	}
	if b.view.State().RouteID != id {
		http.Error(w, "route not open", http.StatusConflict)
		return
	}
	c, ok := b.view.Charts().Chart(chartKey(metric))
	if !ok {
		http.Error(w, "chart not rendered", http.StatusConflict)
		return
	}
	if pid, hit := c.Activate(x, y); hit {
		s.logf("chart %s: activated point %d of route %d", metric, pid, id)
	}
	http.Redirect(w, r, routeURL(id), http.StatusSeeOther)
}

func (s *Server) deletePointHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	pid, _ := pathID(r, "pid")
	if s.cfg.ReadOnly {
		http.Error(w, "read-only dashboard", http.StatusForbidden)
		return
	}
	err := s.ensureRoute(r, b, id)
	if err == nil {
		err = b.view.DeletePoint(r.Context(), pid)
	}
	if s.redirectUnauthorized(w, r, err) {
		return
	}
	if errors.Is(err, routeview.ErrUnknownPoint) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.logf("delete point %d of route %d: %v", pid, id, err)
	}
	http.Redirect(w, r, routeURL(id), http.StatusSeeOther)
}

// qrHandler encodes the public link of a route; the badge carries the
// colour of the route's peak dose rate.
func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	id, _ := pathID(r, "id")
	opt := sharecode.Options{SizePx: dimension(r, "size", 0)}
	if b.view.State().RouteID == id {
		if sum := b.view.Summary(); sum.Count > 0 {
			opt.Badge = radiation.Classify(sum.MaxDoseRate).RGBA()
		}
	}

	var buf bytes.Buffer
	if err := sharecode.EncodePNG(&buf, s.publicURL(r)+routeURL(id), opt); err != nil {
		s.logf("share code route %d: %v", id, err)
		http.Error(w, "Error generating share code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

func (s *Server) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	s.render(w, http.StatusOK, "login.html", loginPage{
		page: page{Title: "Login", User: b.auth.Current().Username},
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	username := r.FormValue("username")
	if _, err := b.auth.Login(r.Context(), username, r.FormValue("password")); err != nil {
		status, msg := http.StatusUnauthorized, msgBadLogin
		if !errors.Is(err, apiclient.ErrUnauthorized) {
			s.logf("login: %v", err)
			status, msg = statusFor(err), "Login failed"
		}
		s.render(w, status, "login.html", loginPage{
			page:     page{Title: "Login", Error: msg},
			Username: username,
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if err := b.auth.Logout(r.Context()); err != nil && !errors.Is(err, apiclient.ErrUnauthorized) {
		s.logf("logout: %v", err)
		s.render(w, statusFor(err), "login.html", loginPage{
			page: page{Title: "Login", User: b.auth.Current().Username, Error: "Logout failed"},
		})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// legendEntry is radiation.LegendEntry with the open ends left out, since
// JSON has no infinities.
type legendEntry struct {
	Lower *float64        `json:"lower,omitempty"`
	Upper *float64        `json:"upper,omitempty"`
	Color radiation.Color `json:"color"`
	Label string          `json:"label"`
	Range string          `json:"range"`
}

func (s *Server) legendHandler(w http.ResponseWriter, r *http.Request) {
	legend := radiation.Legend()
	out := make([]legendEntry, len(legend))
	for i, e := range legend {
		out[i] = legendEntry{Lower: finite(e.Lower), Upper: finite(e.Upper), Color: e.Color, Label: e.Label, Range: e.Range}
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, out)
}

// resolve finds the browser or answers 500.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*browser, bool) {
	b, err := s.browser(w, r)
	if err != nil {
		s.logf("browser session: %v", err)
		http.Error(w, "Session unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return b, true
}

// ensureRoute opens id in the browser's view unless it is already shown.
// A route whose metadata or data failed to load is opened again.
func (s *Server) ensureRoute(r *http.Request, b *browser, id int64) error {
	st := b.view.State()
	if st.RouteID == id && st.Error != routeview.MsgLoadRoute && st.Error != routeview.MsgLoadData {
		return nil
	}
	err := b.view.Open(r.Context(), id, nil)
	if errors.Is(err, routeview.ErrStale) && b.view.State().RouteID == id {
		// a concurrent request opened the same route
		return nil
	}
	return err
}

func (s *Server) routePage(b *browser) routePage {
	st := b.view.State()
	sum := route.Summarize(st.Measurements)
	p := routePage{
		page:        page{Title: st.Name, User: b.auth.Current().Username, Error: st.Error},
		ID:          st.RouteID,
		Name:        st.Name,
		NameError:   st.NameError,
		Loading:     st.Loading,
		Summary:     sum,
		Legend:      radiation.Legend(),
		ChartWidth:  s.cfg.ChartWidth,
		ChartHeight: s.cfg.ChartHeight,
		ReadOnly:    s.cfg.ReadOnly,
		MapFailed:   st.Map == geomap.Failed,
	}
	if p.Title == "" {
		p.Title = fmt.Sprintf("Route %d", st.RouteID)
	}
	if sum.Count > 0 {
		p.Peak = radiation.LegendFor(sum.MaxDoseRate)
	}
	return p
}

// redirectUnauthorized sends the browser to the login page when upstream
// rejected its session.
func (s *Server) redirectUnauthorized(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		return false
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
	return true
}

func (s *Server) jsonError(w http.ResponseWriter, err error, msg string) {
	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, statusFor(err), map[string]string{"error": msg})
}

func (s *Server) publicURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, apiclient.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apiclient.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, routeview.ErrStale):
		return http.StatusConflict
	case errors.Is(err, routeview.ErrNoRoute), errors.Is(err, routeview.ErrUnknownPoint):
		return http.StatusNotFound
	case errors.Is(err, route.ErrInvalidName):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "Error encoding JSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// dimension reads a pixel size from the query, clamped to maxDimension.
// Missing or malformed values give def.
func dimension(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return min(n, maxDimension)
}

func finite(f float64) *float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

func routeURL(id int64) string { return "/routes/" + strconv.FormatInt(id, 10) }

func chartKey(m chart.Metric) string { return "chart-" + m.String() }
