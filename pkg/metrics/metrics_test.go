package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestMiddlewareLabelsByTemplate counts requests under the route template,
// not the concrete path. Collectors are process-global, so only deltas are
// compared.
func TestMiddlewareLabelsByTemplate(t *testing.T) {
	t.Parallel()

	r := mux.NewRouter()
	r.Use(Middleware)
	r.HandleFunc("/things/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "9" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tpl := "/things/{id:[0-9]+}"
	ok := httpRequestsTotal.WithLabelValues("GET", tpl, "200")
	missing := httpRequestsTotal.WithLabelValues("GET", tpl, "404")
	concrete := httpRequestsTotal.WithLabelValues("GET", "/things/7", "200")
	okBefore, missingBefore, concreteBefore := counterValue(t, ok), counterValue(t, missing), counterValue(t, concrete)

	for _, path := range []string{"/things/7", "/things/8", "/things/9"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := counterValue(t, ok) - okBefore; got != 2 {
		t.Fatalf("200 delta=%v want 2", got)
	}
	if got := counterValue(t, missing) - missingBefore; got != 1 {
		t.Fatalf("404 delta=%v want 1", got)
	}
	if got := counterValue(t, concrete) - concreteBefore; got != 0 {
		t.Fatalf("concrete path counted %v times", got)
	}
}

// TestHandlerExposesUpstream shows observed API calls on the scrape page.
func TestHandlerExposesUpstream(t *testing.T) {
	t.Parallel()

	calls := UpstreamRequests.WithLabelValues("list-things", "ok")
	before := counterValue(t, calls)
	ObserveUpstream("list-things", "ok", 20*time.Millisecond)
	after := counterValue(t, calls)
	if after-before != 1 {
		t.Fatalf("upstream delta=%v want 1", after-before)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	want := `routedash_upstream_requests_total{operation="list-things",outcome="ok"} ` + strconv.FormatFloat(after, 'g', -1, 64)
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("scrape page lacks %q", want)
	}
}
