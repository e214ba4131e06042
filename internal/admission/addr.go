// Package admission implements inbound rate limiting: client identity
// resolution from peer and proxy-chain addresses, and a bounded
// sliding-window request table.
package admission

import (
	"fmt"
	"net/netip"
	"strings"
)

// AddrKind classifies a raw client address string.
type AddrKind int

const (
	// AddrIPv4 is a valid IPv4 (or IPv4-mapped IPv6) address.
	AddrIPv4 AddrKind = iota

	// AddrIPv6 is a valid IPv6 address.
	AddrIPv6

	// AddrUnparseable is anything else; the raw string becomes the key.
	AddrUnparseable
)

// ParsedAddr is the classification of an address plus its bucket key.
type ParsedAddr struct {
	Kind AddrKind
	Key  string
}

// ParseAddress classifies raw and derives its rate-limit bucket key.
//
// IPv4 addresses stay individually granular: they are commonly NAT-shared
// by many independent clients, and collapsing them would punish
// bystanders. IPv6 addresses are bucketed by /64 because residential ISPs
// hand one /64 to a customer and rotate addresses within it, which would
// otherwise make per-address limits trivially evadable.
//
// It never fails; unparseable input is returned unchanged as the key.
func ParseAddress(raw string) ParsedAddr {
	trimmed := strings.TrimSpace(raw)

	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return ParsedAddr{Kind: AddrUnparseable, Key: trimmed}
	}

	if addr.Is4() || addr.Is4In6() {
		return ParsedAddr{Kind: AddrIPv4, Key: addr.Unmap().String()}
	}

	return ParsedAddr{Kind: AddrIPv6, Key: bucket64(addr)}
}

// bucket64 returns the first four 16-bit groups of addr joined with a
// "/64" suffix, e.g. "2001:db8:0:1/64".
func bucket64(addr netip.Addr) string {
	a16 := addr.As16()

	var b strings.Builder
	for i := 0; i < 4; i++ {
		if i > 0 {
			b.WriteByte(':')
		}
		group := uint16(a16[2*i])<<8 | uint16(a16[2*i+1])
		fmt.Fprintf(&b, "%x", group)
	}
	b.WriteString("/64")
	return b.String()
}
