package admission

import (
	"net"
	"strings"
)

// maxClientKeyLen caps the candidate identity before parsing so a
// pathological forwarded-chain header cannot inflate per-entry memory.
const maxClientKeyLen = 100

// ResolveClientKey derives the rate-limit bucket key for a request.
//
// peerAddr is the connection's remote address (possibly host:port).
// forwardedFor is the X-Forwarded-For header value, which is only
// consulted when trustProxy is set: a correctly configured trusted proxy
// appends the hop it saw as the LAST element, overwriting nothing a
// client may have planted earlier in the chain. With trustProxy unset
// the header is ignored entirely, since any caller can forge it.
//
// It never fails; at worst the (truncated) raw string is the key.
func ResolveClientKey(peerAddr, forwardedFor string, trustProxy bool) string {
	candidate := peerAddr

	if trustProxy && forwardedFor != "" {
		hops := strings.Split(forwardedFor, ",")
		if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
			candidate = last
		}
	}

	if len(candidate) > maxClientKeyLen {
		candidate = candidate[:maxClientKeyLen]
	}

	// Peer addresses from the listener arrive as host:port.
	if host, _, err := net.SplitHostPort(candidate); err == nil {
		candidate = host
	}

	return ParseAddress(candidate).Key
}
