// Package netaddr provides a uniform 128-bit representation for IPv4 and
// IPv6 addresses, plus CIDR mask construction. Every other policy engine in
// this daemon (ACL, upstream router) builds its comparisons on top of this
// single address space rather than juggling net.IP's variable-length forms.
package netaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Size is the width, in bytes, of the uniform address representation.
const Size = 16

// v4Offset is the number of leading bits consumed by the IPv4-mapped IPv6
// prefix "::ffff:0:0/96". An IPv4 prefix length of n therefore occupies the
// same bits as an IPv6 prefix length of n+V4PrefixOffset.
const v4Offset = 96

// V4PrefixOffset is the number of bits an IPv4 prefix length is shifted by
// when expressed in the uniform 128-bit space.
const V4PrefixOffset = v4Offset

// Addr is a 16-byte address in the uniform IPv4-mapped-IPv6 space.
type Addr [Size]byte

// v4Prefix is the fixed ::ffff: prefix used to embed an IPv4 address in the
// 128-bit space.
var v4Prefix = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}

// Parse converts a textual IPv4 or IPv6 address into the uniform
// representation. It returns an error if text is not a valid address.
func Parse(text string) (Addr, error) {
	var a Addr

	if text == "" {
		return a, fmt.Errorf("netaddr: empty address")
	}

	ip := net.ParseIP(text)
	if ip == nil {
		return a, fmt.Errorf("netaddr: invalid address %q", text)
	}

	if v4 := ip.To4(); v4 != nil {
		copy(a[:12], v4Prefix[:])
		copy(a[12:], v4)

		return a, nil
	}

	v6 := ip.To16()
	copy(a[:], v6)

	return a, nil
}

// IsV4 reports whether a is an IPv4-mapped address.
func (a Addr) IsV4() bool {
	return [12]byte(a[:12]) == v4Prefix
}

// String renders a in its canonical textual form: dotted-quad for
// IPv4-mapped addresses, canonical IPv6 otherwise.
func (a Addr) String() string {
	if a.IsV4() {
		return net.IP(a[12:]).String()
	}

	return net.IP(a[:]).String()
}

// And returns the bitwise AND of a and mask.
func (a Addr) And(mask Addr) Addr {
	var out Addr
	for i := range a {
		out[i] = a[i] & mask[i]
	}

	return out
}

// Equal reports whether a and b hold the same address bits.
func (a Addr) Equal(b Addr) bool {
	return a == b
}

// ParseMask builds a contiguous-ones-from-MSB mask in the uniform 128-bit
// space from a decimal prefix-length string. When v6 is false, the prefix
// length is interpreted in the 32-bit IPv4 space and then shifted by
// V4PrefixOffset so it lines up with the IPv4-mapped address layout.
func ParseMask(text string, v6 bool) (Addr, error) {
	var m Addr

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return m, fmt.Errorf("netaddr: invalid prefix length %q: %w", text, err)
	}

	bits := n
	if !v6 {
		if n < 0 || n > 32 {
			return m, fmt.Errorf("netaddr: ipv4 prefix length %d out of range", n)
		}

		bits = n + v4Offset
	} else if n < 0 || n > 128 {
		return m, fmt.Errorf("netaddr: ipv6 prefix length %d out of range", n)
	}

	return maskFromBits(bits), nil
}

// maskFromBits builds a 128-bit mask with the given number of leading one
// bits, zero elsewhere.
func maskFromBits(bits int) Addr {
	var m Addr

	full := bits / 8
	rem := bits % 8

	for i := 0; i < full && i < Size; i++ {
		m[i] = 0xff
	}

	if full < Size && rem > 0 {
		m[full] = byte(0xff << (8 - rem))
	}

	return m
}

// DottedQuadToBits converts an IPv4 dotted-quad mask (e.g. "255.255.0.0")
// into a prefix length, for directives that accept a netmask instead of a
// prefix length. It requires the mask to be contiguous ones from the MSB.
func DottedQuadToBits(text string) (int, error) {
	ip := net.ParseIP(text)
	if ip == nil {
		return 0, fmt.Errorf("netaddr: invalid netmask %q", text)
	}

	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("netaddr: not an ipv4 netmask %q", text)
	}

	bits := 0
	seenZero := false
	for _, b := range v4 {
		for i := 7; i >= 0; i-- {
			if b&(1<<uint(i)) != 0 {
				if seenZero {
					return 0, fmt.Errorf("netaddr: discontiguous netmask %q", text)
				}

				bits++
			} else {
				seenZero = true
			}
		}
	}

	return bits, nil
}
