// Package apiclient talks to the upstream route API: routes, their
// measurements, and the cookie-backed login session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/publicsuffix"

	"isotope-route-dashboard/pkg/metrics"
	"isotope-route-dashboard/pkg/route"
)

var (
	// ErrUnauthorized is returned for 401 and 403 answers.
	ErrUnauthorized = errors.New("not authorised")
	// ErrNotFound is returned for 404 answers.
	ErrNotFound = errors.New("not found")
	// ErrCircuitOpen means recent calls failed and the client is backing off.
	ErrCircuitOpen = errors.New("route API unavailable")
)

// StatusError carries a non-2xx upstream answer.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Backoff controls retries of idempotent reads.
type Backoff struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config describes how to reach the API.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
	Backoff  Backoff
	// HTTPClient overrides the default client; its Jar is replaced when nil.
	HTTPClient *http.Client
	Logf       func(string, ...any)
}

// LoginResponse is the upstream answer to a successful login.
type LoginResponse struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

// Client is safe for concurrent use. Each Client has its own cookie jar,
// so one Client corresponds to one upstream session.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *ResponseCache
	backoff Backoff
	logf    func(string, ...any)
}

// New builds a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	backoff := cfg.Backoff
	if backoff.InitialInterval <= 0 {
		backoff = Backoff{MaxRetries: 2, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
	}

	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "route-api " + base.Host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Status < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logf("%s: circuit %s -> %s", name, from, to)
		},
	})

	return &Client{
		base:    base,
		http:    hc,
		breaker: breaker,
		cache:   NewResponseCache(cfg.CacheTTL),
		backoff: backoff,
		logf:    logf,
	}, nil
}

// Close stops the response cache.
func (c *Client) Close() { c.cache.Close() }

// ListRoutes returns every route known upstream.
func (c *Client) ListRoutes(ctx context.Context) ([]route.Route, error) {
	var out []route.Route
	if err := c.getJSON(ctx, "list_routes", "/routes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRoute fetches one route.
func (c *Client) GetRoute(ctx context.Context, id int64) (route.Route, error) {
	var out route.Route
	err := c.getJSON(ctx, "get_route", routePath(id), &out)
	return out, err
}

// GetRouteData fetches the measurements of a route in collection order.
func (c *Client) GetRouteData(ctx context.Context, id int64) ([]route.Measurement, error) {
	var out []route.Measurement
	if err := c.getJSON(ctx, "get_route_data", routePath(id)+"/data", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRouteName renames a route.
func (c *Client) UpdateRouteName(ctx context.Context, id int64, name string) error {
	body := struct {
		NewName string `json:"newName"`
	}{name}
	if _, err := c.send(ctx, "rename_route", http.MethodPut, routePath(id)+"/name", body); err != nil {
		return err
	}
	c.invalidate(ctx, "/routes")
	return nil
}

// DeleteRoute removes a route and its measurements.
func (c *Client) DeleteRoute(ctx context.Context, id int64) error {
	if _, err := c.send(ctx, "delete_route", http.MethodDelete, routePath(id), nil); err != nil {
		return err
	}
	c.invalidate(ctx, "/routes")
	return nil
}

// DeletePoint removes one measurement from a route.
func (c *Client) DeletePoint(ctx context.Context, routeID, pointID int64) error {
	path := routePath(routeID) + "/data/" + strconv.FormatInt(pointID, 10)
	if _, err := c.send(ctx, "delete_point", http.MethodDelete, path, nil); err != nil {
		return err
	}
	c.invalidate(ctx, routePath(routeID)+"/data")
	return nil
}

// Login opens an upstream session; the cookie it sets is kept in the jar.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password}
	raw, err := c.send(ctx, "login", http.MethodPost, "/auth/login", body)
	if err != nil {
		return LoginResponse{}, err
	}
	var out LoginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return LoginResponse{}, fmt.Errorf("login: decode: %w", err)
	}
	return out, nil
}

// CurrentUser asks upstream who the session belongs to.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	raw, err := c.do(ctx, "current_user", http.MethodGet, "/auth/username", nil, true)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("current user: decode: %w", err)
	}
	return out.Username, nil
}

// Logout ends the upstream session and drops every cached response.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.send(ctx, "logout", http.MethodPost, "/auth/logout", struct{}{}); err != nil {
		return err
	}
	c.invalidate(ctx, "")
	return nil
}

func routePath(id int64) string { return "/routes/" + strconv.FormatInt(id, 10) }

func (c *Client) invalidate(ctx context.Context, prefix string) {
	c.cache.Invalidate(context.WithoutCancel(ctx), prefix)
}

// getJSON reads through the cache when one is configured.
func (c *Client) getJSON(ctx context.Context, op, path string, dst any) error {
	load := func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, op, http.MethodGet, path, nil, true)
	}
	var (
		raw []byte
		err error
	)
	if c.cache != nil {
		var hit bool
		raw, hit, err = c.cache.Get(ctx, path, load)
		if hit {
			metrics.CacheHits.WithLabelValues(op).Inc()
		} else {
			metrics.CacheMisses.WithLabelValues(op).Inc()
		}
	} else {
		raw, err = load(ctx)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	return c.do(ctx, op, method, path, body, false)
}

// do runs one API call through the circuit breaker. Reads are retried with
// exponential backoff on transport errors and 5xx answers; writes are not.
func (c *Client) do(ctx context.Context, op, method, path string, body any, retry bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("%s: encode: %w", op, err)
		}
	}

	start := time.Now()
	outcome := "ok"
	defer func() { metrics.ObserveUpstream(op, outcome, time.Since(start)) }()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome = "error"
			return nil, err
		}
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, op, method, path, payload)
		})
		if err == nil {
			return res.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "open"
			return nil, fmt.Errorf("%s: %w: %v", op, ErrCircuitOpen, err)
		}
		var se *StatusError
		if errors.As(err, &se) {
			outcome = strconv.Itoa(se.Status)
			if se.Status < 500 {
				return nil, err
			}
		} else {
			outcome = "error"
		}
		if !retry || attempt >= c.backoff.MaxRetries {
			return nil, err
		}

		delay := c.backoff.InitialInterval << attempt
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}
		c.logf("%s %s: attempt %d failed: %v; retrying in %s", method, path, attempt+1, err, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			outcome = "error"
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}
	return raw, nil
}

// upstreamMessage pulls {"message": "..."} or {"error": "..."} out of an
// error body, falling back to a trimmed plain-text body.
func upstreamMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 || strings.HasPrefix(s, "<") {
		return ""
	}
	return s
}
