// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package camomile provides an HTTP image proxy that verifies HMAC-signed
// URLs, defends against SSRF, and streams third-party images back to
// clients with hardened response headers. See SPEC_FULL.md for the full
// design; for typical use of constructing and running a Server, see
// cmd/camomile/main.go.
package camomile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Server is the request handler / state machine described in
// SPEC_FULL.md §4.6. It composes the HMAC codec, SSRF validator, and safe
// fetcher, and writes status, body, and hardened headers for every
// request it serves.
type Server struct {
	cfg     Config
	fetcher *safeFetcher
}

// New constructs a Server from cfg. It fails fast if cfg.Secret is missing
// or empty (spec.md §3, §4.7).
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errMissingSecret
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		fetcher: newSafeFetcher(),
	}, nil
}

// ServeHTTP implements http.Handler. It triages liveness/observability
// routes ahead of the proxy pipeline, mirroring the teacher's own
// ServeHTTP branches for "/", "/health-check", and "/metrics"
// (SPEC_FULL.md §6 AMBIENT), then runs the image-proxy state machine for
// everything else.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/favicon.ico":
		return
	case "/", "/health-check":
		fmt.Fprint(w, "OK")
		return
	case "/metrics":
		metricsHandler().ServeHTTP(w, r)
		return
	}

	timer := prometheusTimer()
	metricRequestsInFlight.Inc()
	defer func() {
		timer()
		metricRequestsInFlight.Dec()
	}()

	ctx := r.Context()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	s.serveImage(ctx, w, r)
}

// serveImage runs the SPLIT_PATH → VERIFY_HMAC → SSRF_CHECK → FETCH → EMIT
// pipeline in spec.md §4.6.
func (s *Server) serveImage(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.respondError(w, errMethodNotAllowed)
		return
	}

	digest, encodedURL, ok := splitSignedPath(r.URL.Path)
	if !ok {
		s.respondError(w, errMalformedRequest)
		return
	}

	rawURL, err := verifySignature(s.cfg.Secret, digest, encodedURL)
	if err != nil {
		s.respondError(w, err)
		return
	}

	target, err := validateURL(ctx, rawURL)
	if err != nil {
		s.respondClientErr(w, err)
		return
	}

	reqHeaders := filterHeaders(r.Header, requestHeaderAllowList)

	result, err := s.fetcher.fetch(ctx, r.Method, target, reqHeaders, s.cfg.MaxSize)
	if err != nil {
		if r.Context().Err() != nil {
			// Client disconnected; the socket is already gone. Silent,
			// terminal — spec.md §4.6, §4.8, §5.
			return
		}
		if ctx.Err() != nil {
			// Our own overall deadline (Config.Timeout) fired while the
			// client is still connected; unlike client disconnect this
			// is client-visible, mirroring the teacher's own
			// tphttp.TimeoutHandler in imageproxy.go.
			s.respondError(w, clientError(http.StatusGatewayTimeout,
				"Gateway timeout waiting for remote resource."))
			return
		}
		s.respondClientErr(w, err)
		return
	}

	s.emit(w, r.Method, result)
}

// emit writes the 2xx response: filtered upstream headers overlaid on the
// security header set, plus Via, per spec.md §4.6.
func (s *Server) emit(w http.ResponseWriter, method string, result *FetchResult) {
	writeSecurityHeaders(w.Header())
	copyHeaders(w.Header(), filterHeaders(result.Headers, responseHeaderAllowList))
	w.Header().Set("Via", s.cfg.ServerName)

	if method == http.MethodHead {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Body); err != nil {
		s.cfg.Logger.Printf("camomile: error writing response body: %v", err)
	}
}

// respondClientErr dispatches a *ClientVisibleError (from the SSRF
// validator or fetcher) or, for anything else, maps it to 500 and logs the
// cause out-of-band (spec.md §7, §8).
func (s *Server) respondClientErr(w http.ResponseWriter, err error) {
	var cve *ClientVisibleError
	if errors.As(err, &cve) {
		s.respondError(w, cve)
		return
	}
	s.cfg.Logger.Printf("camomile: internal error: %v", err)
	metricRemoteErrors.WithLabelValues("internal").Inc()
	s.respondError(w, errInternal)
}

// respondError writes an error response: the security header set plus a
// Content-Length reflecting the UTF-8 byte length of the message
// (spec.md §4.6).
func (s *Server) respondError(w http.ResponseWriter, err *ClientVisibleError) {
	writeSecurityHeaders(w.Header())
	w.Header().Set("Content-Length", strconv.Itoa(len(err.Message)))
	w.WriteHeader(err.Status)
	fmt.Fprint(w, err.Message)
}

// splitSignedPath parses the inbound path as /<digest>/<hex>, per
// spec.md §6.1. The path must split into at least three '/'-separated
// segments: an empty leading segment, the digest, and the hex-encoded URL
// (which may itself contain additional slashes).
func splitSignedPath(path string) (digest, encodedURL string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

