package dashboard

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"isotope-route-dashboard/pkg/radiation"
	"isotope-route-dashboard/pkg/route"
	"isotope-route-dashboard/pkg/routeview"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("pages").Funcs(template.FuncMap{
	"toJSON": func(v any) (template.JS, error) {
		b, err := json.Marshal(v)
		return template.JS(b), err
	},
	"dose": func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"cpm":  func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "n/a"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"span": func(d time.Duration) string { return d.Round(time.Second).String() },
}).ParseFS(templateFS, "templates/*.html"))

type page struct {
	Title string
	User  string
	Error string
}

type listPage struct {
	page
	Routes    []route.Route
	RenameID  int64
	NameError string
}

type routePage struct {
	page
	ID          int64
	Name        string
	NameError   string
	Loading     bool
	Summary     route.Summary
	Peak        radiation.LegendEntry
	Legend      []radiation.LegendEntry
	ChartWidth  int
	ChartHeight int
	ReadOnly    bool
	MapFailed   bool
}

// Confirmation asked by the page before a point is deleted.
func (routePage) ConfirmDelete() string { return "Are you sure you want to delete this point?" }

func (routePage) InitFailedMessage() string { return routeview.MsgInitExhausted }

type loginPage struct {
	page
	Username string
}

// render executes name into a buffer first so a template error never
// leaves a half-written page behind.
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logf("render %s: %v", name, err)
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
