// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

import "net/http"

// requestHeaderAllowList are the inbound headers forwarded to the upstream
// origin (spec.md §6.2). Accept-Encoding and X-Forwarded-For are
// deliberately absent.
var requestHeaderAllowList = []string{
	"Accept",
	"Accept-Charset",
	"Accept-Language",
	"Cache-Control",
	"If-None-Match",
	"If-Modified-Since",
	"Range",
}

// responseHeaderAllowList are the outbound headers forwarded from the
// upstream origin response to the client (spec.md §6.3). Server is
// deliberately absent.
var responseHeaderAllowList = []string{
	"Accept-Ranges",
	"Cache-Control",
	"Content-Length",
	"Content-Encoding",
	"Content-Range",
	"Content-Type",
	"ETag",
	"Expires",
	"Last-Modified",
	"Transfer-Encoding",
}

// securityHeaders are emitted on every response the proxy itself
// originates (spec.md §6.4).
var securityHeaders = map[string]string{
	"X-Frame-Options":           "deny",
	"X-XSS-Protection":          "1; mode=block",
	"X-Content-Type-Options":    "nosniff",
	"Content-Security-Policy":   "default-src 'none'; img-src data:; style-src 'unsafe-inline'",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
}

// filterHeaders returns a mapping keyed by the canonical casing in
// allowList, containing only the entries whose lowercase form is present in
// src. Values are copied verbatim; absent keys never appear in the output.
// Keying by allowList's casing (rather than src's) is required because many
// HTTP stacks lowercase header names on ingress — see spec.md §9.
func filterHeaders(src http.Header, allowList []string) http.Header {
	out := make(http.Header, len(allowList))
	for _, name := range allowList {
		if v, ok := src[http.CanonicalHeaderKey(name)]; ok {
			out[name] = v
		}
	}
	return out
}

// copyHeaders writes every header in src into dst, adding to any existing
// values with the same key, mirroring the teacher's copyHeader.
func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// writeSecurityHeaders sets all securityHeaders on w.
func writeSecurityHeaders(w http.Header) {
	for k, v := range securityHeaders {
		w.Set(k, v)
	}
}
