// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

import (
	"net"
	"net/http"
)

// Attach registers the Server as the handler for all paths on mux. The
// host server may route arbitrary request patterns into it
// (spec.md §4.7); Server.ServeHTTP itself triages its own ambient routes
// ("/", "/health-check", "/metrics") ahead of the proxy pipeline.
func (s *Server) Attach(mux *http.ServeMux) {
	mux.Handle("/", s)
}

// Listen binds addr, constructs a built-in *http.Server using Attach as
// its handler, starts serving in the background, and returns the
// underlying network server (spec.md §4.7). The returned *http.Server's
// Shutdown/Close methods stand in for spec.md §9's abstract
// "listening/close/error" lifecycle handle: by the time Listen returns
// without error, the socket is already bound and listening.
func (s *Server) Listen(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	s.Attach(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Printf("camomile: server error: %v", err)
		}
	}()

	return httpServer, nil
}
