// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

import (
	"context"
	"net"
	"net/url"

	"golang.org/x/net/idna"
)

// ipClass is the address-range classification spec.md §4.4 requires: the
// same taxonomy standard ipaddr libraries use (unicast, private, linkLocal,
// loopback, multicast, reserved, ...). Only unicast passes validation.
type ipClass int

const (
	classUnicast ipClass = iota
	classPrivate
	classLinkLocal
	classLoopback
	classMulticast
	classReserved
	classBroadcast
)

// resolveHost looks up host's IP addresses using the platform DNS resolver
// (spec.md §4.4). net.DefaultResolver is left at its zero value
// (PreferGo: false) deliberately: on most platforms this defers numeric-
// looking hostnames to the OS's getaddrinfo, which is what normalizes
// alternate IPv4 notations (octal, hex, short forms) into a canonical
// address before camomile ever classifies it — the same "parser normalizes
// before classification" property spec.md §4.4 relies on to close
// octal/hex/decimal parsing tricks. It is a variable so tests can
// substitute a deterministic resolver.
var resolveHost = func(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// specialPurposeRanges are IANA special-purpose IPv4 blocks that
// net.IP.IsGlobalUnicast() does not exclude (it only rules out
// broadcast/unspecified/loopback/multicast/link-local-unicast — see
// /usr/local/go/src/net/ip.go's IsGlobalUnicast doc comment). Left
// unblocked, each is a live SSRF target: carrier-grade NAT in particular is
// routable address space an attacker-controlled origin sits behind.
var specialPurposeRanges = []*net.IPNet{
	mustParseCIDR("100.64.0.0/10"),   // RFC 6598 carrier-grade NAT
	mustParseCIDR("192.0.0.0/24"),    // RFC 6890 IETF protocol assignments
	mustParseCIDR("192.0.2.0/24"),    // RFC 5737 TEST-NET-1
	mustParseCIDR("198.18.0.0/15"),   // RFC 2544 benchmarking
	mustParseCIDR("198.51.100.0/24"), // RFC 5737 TEST-NET-2
	mustParseCIDR("203.0.113.0/24"),  // RFC 5737 TEST-NET-3
	mustParseCIDR("240.0.0.0/4"),     // RFC 1112 Class E / reserved
}

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// classifyIP classifies ip into the taxonomy above, built on stdlib net.IP
// predicates (see DESIGN.md — no third-party IP-classification library
// appears anywhere in the retrieved corpus) plus an explicit check against
// specialPurposeRanges, since IsGlobalUnicast alone is not a complete
// "is this safe to fetch" predicate.
func classifyIP(ip net.IP) ipClass {
	switch {
	case ip.IsLoopback():
		return classLoopback
	case ip.IsLinkLocalUnicast():
		return classLinkLocal
	case ip.IsMulticast():
		return classMulticast
	case ip.IsUnspecified():
		return classReserved
	case isIPv4Broadcast(ip):
		return classBroadcast
	case ip.IsPrivate():
		return classPrivate
	case isSpecialPurpose(ip):
		return classReserved
	case !ip.IsGlobalUnicast():
		return classReserved
	default:
		return classUnicast
	}
}

func isIPv4Broadcast(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0] == 255 && v4[1] == 255 && v4[2] == 255 && v4[3] == 255
}

func isSpecialPurpose(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	for _, n := range specialPurposeRanges {
		if n.Contains(v4) {
			return true
		}
	}
	return false
}

// validateURL implements spec.md §4.4: parse, reject non-http(s) schemes,
// resolve the host, classify the resolved address, and reject anything
// other than a unicast address. On success it returns the parsed URL.
//
// The ordering of steps (structure, scheme, host) mirrors
// Kaikei-e-Alt's SSRFValidator.ValidateURL pipeline; hostname normalization
// via golang.org/x/net/idna closes Unicode/punycode host-confusion bypasses
// ahead of resolution, the same defense ssrf_validator.go applies via
// idna.ToASCII.
func validateURL(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, clientError(400, "%v", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errBadProtocol(u.Scheme + ":")
	}

	host := u.Hostname()
	if asciiHost, err := idna.ToASCII(host); err == nil {
		host = asciiHost
	}

	ips, err := resolveHost(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, errLookupFailed(u.Hostname())
	}

	for _, ip := range ips {
		if classifyIP(ip) != classUnicast {
			return nil, errBadURLHost
		}
	}

	return u, nil
}
