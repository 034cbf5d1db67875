package service

import (
	"net/http"
	"strconv"

	"origin-relay/internal/headers"
)

// framingHeaders would stop the relayed app from loading under the relay origin.
var framingHeaders = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
}

// copyHeaders clones src without hop-by-hop headers.
func copyHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	headers.StripHopByHop(dst)
	return dst
}

// responseHeaders filters upstream response headers for the client. Content-Length
// is set to bodyLen, or kept from upstream when bodyLen is negative; drop names
// further headers to remove.
func responseHeaders(src http.Header, bodyLen int, drop ...string) http.Header {
	dst := copyHeaders(src)
	for _, h := range framingHeaders {
		dst.Del(h)
	}
	for _, h := range drop {
		dst.Del(h)
	}
	if bodyLen >= 0 {
		dst.Set("Content-Length", strconv.Itoa(bodyLen))
	}
	return dst
}
