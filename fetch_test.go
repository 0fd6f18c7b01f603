// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// allowAllResolver makes validateURL and the dial-time guard treat every
// host/address as a public unicast one, so fetch_test.go can redirect
// within an httptest.Server (whose address is loopback) without tripping
// SSRF classification at either checkpoint — the SSRF validator is
// exercised on its own in ssrf_test.go, and the dial-time guard in
// TestSecureDialer_blocksNonUnicastAddress below.
func allowAllResolver(t *testing.T) {
	t.Helper()
	origResolve := resolveHost
	origDial := dialClassifier
	resolveHost = func(context.Context, string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	dialClassifier = func(net.IP) ipClass { return classUnicast }
	t.Cleanup(func() {
		resolveHost = origResolve
		dialClassifier = origDial
	})
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestFetch_success(t *testing.T) {
	allowAllResolver(t)
	body := bytes.Repeat([]byte{0xFF}, 1024)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer ts.Close()

	f := newSafeFetcher()
	result, err := f.fetch(context.Background(), http.MethodGet, mustParseURL(t, ts.URL), nil, 0)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if !bytes.Equal(result.Body, body) {
		t.Errorf("body length = %d, want %d", len(result.Body), len(body))
	}
	if ct := result.Headers.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

func TestFetch_head(t *testing.T) {
	allowAllResolver(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := newSafeFetcher()
	result, err := f.fetch(context.Background(), http.MethodHead, mustParseURL(t, ts.URL), nil, 0)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if result.Body != nil {
		t.Errorf("HEAD fetch returned non-nil body: %v", result.Body)
	}
}

func TestFetch_missingContentType(t *testing.T) {
	allowAllResolver(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := newSafeFetcher()
	_, err := f.fetch(context.Background(), http.MethodGet, mustParseURL(t, ts.URL), nil, 0)
	if err != errMissingContentType {
		t.Errorf("fetch error = %v, want errMissingContentType", err)
	}
}

func TestFetch_disallowedContentType(t *testing.T) {
	allowAllResolver(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := newSafeFetcher()
	_, err := f.fetch(context.Background(), http.MethodGet, mustParseURL(t, ts.URL), nil, 0)
	if err != errNonImageContentType {
		t.Errorf("fetch error = %v, want errNonImageContentType", err)
	}
}

func TestFetch_tooLarge(t *testing.T) {
	allowAllResolver(t)
	body := bytes.Repeat([]byte{0xAB}, 1024)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer ts.Close()

	f := newSafeFetcher()
	_, err := f.fetch(context.Background(), http.MethodGet, mustParseURL(t, ts.URL), nil, 100)
	if err != errTooLarge {
		t.Errorf("fetch error = %v, want errTooLarge", err)
	}
}

func TestFetch_redirectChain(t *testing.T) {
	allowAllResolver(t)

	body := bytes.Repeat([]byte{0x01}, 1024)
	var finalURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
	mux.HandleFunc("/hop2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, finalURL, http.StatusFound)
	})
	mux.HandleFunc("/hop1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop2", http.StatusFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	finalURL = ts.URL + "/final"

	f := newSafeFetcher()
	result, err := f.fetch(context.Background(), http.MethodGet, mustParseURL(t, ts.URL+"/hop1"), nil, 0)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if !bytes.Equal(result.Body, body) {
		t.Errorf("redirect chain body mismatch")
	}
	if result.Redirects != 2 {
		t.Errorf("redirects = %d, want 2", result.Redirects)
	}
}

func TestSecureDialer_blocksNonUnicastAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"93.184.216.34:443", false},
		{"127.0.0.1:80", true},
		{"192.168.1.1:80", true},
		{"100.64.0.1:80", true},
	}

	for _, tt := range tests {
		err := secureDialer.Control("tcp4", tt.addr, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("secureDialer.Control(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestFetch_redirectMissingLocation(t *testing.T) {
	allowAllResolver(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound) // no Location header
	}))
	defer ts.Close()

	f := newSafeFetcher()
	_, err := f.fetch(context.Background(), http.MethodGet, mustParseURL(t, ts.URL), nil, 0)
	if err != errMissingLocation {
		t.Errorf("fetch error = %v, want errMissingLocation", err)
	}
}
