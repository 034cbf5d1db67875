// Package headers holds header filtering shared by the inbound middleware
// and the response assembler.
package headers

import (
	"net/http"
	"strings"
)

// HopByHop are headers that should not be forwarded by proxies.
var HopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes hop-by-hop headers from h in place, including any
// named in the Connection header.
func StripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if t := strings.TrimSpace(token); t != "" {
				h.Del(t)
			}
		}
	}
	for _, name := range HopByHop {
		h.Del(name)
	}
}
