package codec

import (
	"net/http"
	"strings"
)

// hopByHop lists the headers §4.A requires stripping from response headers
// before they are written back to the public caller.
var hopByHop = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// StripHopByHop returns a copy of h with hop-by-hop headers removed (both the
// fixed set and any header named in a "Connection" value), and with malformed
// names or values dropped rather than propagated. Malformed input never
// aborts the response — it is simply excluded.
func StripHopByHop(h http.Header) http.Header {
	out := make(http.Header, len(h))

	drop := make(map[string]bool, len(hopByHop))
	for k := range hopByHop {
		drop[k] = true
	}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				drop[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for k, values := range h {
		ck := http.CanonicalHeaderKey(k)
		if drop[ck] || !validHeaderName(ck) {
			continue
		}
		kept := make([]string, 0, len(values))
		for _, v := range values {
			if validHeaderValue(v) {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[ck] = kept
		}
	}
	return out
}

// validHeaderName reports whether name is a syntactically valid HTTP header
// field name (RFC 7230 token production).
func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return false
		}
	}
	return true
}

// validHeaderValue reports whether v is free of control characters that
// would make it unsafe to transmit as a header field value.
func validHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
