// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // wire-compatibility requirement, see SPEC_FULL.md §4.2
	"crypto/subtle"
)

// verifySignature decodes encodedURL (the hex encoding of the original
// image URL's UTF-8 bytes), recomputes its HMAC-SHA-1 digest using secret,
// and compares the resulting lowercase hex string against receivedDigest.
// On success it returns the decoded URL string; on any failure — malformed
// hex or a mismatched digest — it returns errBadSignature.
//
// The comparison is case-sensitive against the lowercase digest camomile
// produces (spec.md §4.2) and is done in constant time via
// subtle.ConstantTimeCompare, following the teacher's own validSignature use
// of hmac.Equal for constant-time MAC comparison.
func verifySignature(secret []byte, receivedDigest, encodedURL string) (string, error) {
	urlBytes, err := decodeHex(encodedURL)
	if err != nil {
		return "", errBadSignature
	}

	want := sign(secret, urlBytes)
	if len(want) != len(receivedDigest) ||
		subtle.ConstantTimeCompare([]byte(want), []byte(receivedDigest)) != 1 {
		return "", errBadSignature
	}

	return string(urlBytes), nil
}

// sign computes the lowercase hex HMAC-SHA-1 digest of urlBytes under
// secret. verifySignature uses it to recompute the expected digest, and
// tests use it to construct valid signed requests, mirroring the sibling
// signer described in spec.md §6.1.
func sign(secret, urlBytes []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(urlBytes)
	return encodeHex(mac.Sum(nil))
}
