package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// serveWithDomain runs :80 for ACME HTTP-01 challenges and redirects, and
// :443 with Let's Encrypt certificates for domain and www.domain. When
// autocert cannot issue a certificate for a host, the last good one for
// domain is served instead. Both servers stop when ctx ends.
func serveWithDomain(ctx context.Context, domain string, handler http.Handler, errLog *log.Logger, logf func(string, ...any)) error {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(_ context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			// IP literals are let through; they get the fallback cert
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	mux80 := http.NewServeMux()
	mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
	mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	srv80 := &http.Server{
		Addr:              ":80",
		Handler:           mux80,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          errLog,
	}
	go func() {
		logf("HTTP server (ACME+redirect) on :80")
		if err := srv80.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logf("HTTP server error: %v", err)
		}
	}()

	var fallback atomic.Pointer[tls.Certificate]
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for {
			c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
			if err != nil {
				logf("autocert renewal check: %v", err)
			} else {
				fallback.Store(c)
			}
			wait := t.C
			if fallback.Load() == nil {
				wait = time.After(time.Minute)
			}
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if fb := fallback.Load(); fb != nil {
			return fb, nil
		}
		return nil, err
	}

	srv443 := &http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          errLog,
	}
	go shutdownOnDone(ctx, logf, srv80, srv443)

	logf("HTTPS server for %s on :443", domain)
	if err := srv443.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// serveHTTP runs a plain listener on addr until ctx ends.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, errLog *log.Logger, logf func(string, ...any)) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          errLog,
	}
	go shutdownOnDone(ctx, logf, srv)

	logf("HTTP server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdownOnDone(ctx context.Context, logf func(string, ...any), servers ...*http.Server) {
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(sctx); err != nil {
			logf("shutdown %s: %v", s.Addr, err)
		}
	}
}
