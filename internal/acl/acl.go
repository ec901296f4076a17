// Package acl implements the proxy's access control list: an ordered set of
// ALLOW/DENY rules matched against a connecting peer's address and hostname.
// Entries are evaluated in insertion order and the first match wins; an
// empty list allows everyone, and an exhausted list denies by default.
//
// Grounded on tinyproxy's src/acl.c: insert_acl, acl_string_processing,
// STRING_TEST, check_numeric_acl and check_acl.
package acl

import (
	"context"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/log"
	"github.com/rafalfr/tinyproxy-go/internal/netaddr"
)

// Access is the verdict carried by an ACL entry.
type Access int

const (
	// Allow permits the connection.
	Allow Access = iota
	// Deny rejects the connection.
	Deny
)

func (a Access) String() string {
	if a == Allow {
		return "allow"
	}

	return "deny"
}

// Resolver is the name-resolution contract an ACL needs for its string
// entries: resolve a hostname to the addresses it currently answers for.
// Implementations must never return an error to the caller — a failed
// lookup is indistinguishable from an empty answer.
type Resolver interface {
	Resolve(ctx context.Context, name string) []string
}

// entry is a single rule. Exactly one of the numeric or string fields is
// populated, selected by isString.
type entry struct {
	access   Access
	isString bool

	// numeric fields
	network netaddr.Addr
	mask    netaddr.Addr

	// string field
	pattern string
}

// ACL is an ordered, first-match rule list. The zero value is an empty list
// (allow-all). ACL is not safe for concurrent mutation; callers must not
// call Insert while another goroutine is calling Evaluate.
type ACL struct {
	entries  []entry
	resolver Resolver
}

// New creates an empty ACL that uses resolver to resolve string-pattern
// entries against the peer's address.
func New(resolver Resolver) *ACL {
	return &ACL{resolver: resolver}
}

// Insert appends a new rule built from pattern with the given access. It
// mirrors tinyproxy's insert_acl: try a bare IP first, then an IP/mask
// pair, and finally fall back to treating pattern as a hostname pattern.
// On any parse failure the list is left unchanged and an error is returned.
func (a *ACL) Insert(pattern string, access Access) error {
	if ip, err := netaddr.Parse(pattern); err == nil {
		mask, merr := fullMask(ip)
		if merr != nil {
			return merr
		}

		a.entries = append(a.entries, entry{access: access, network: ip.And(mask), mask: mask})

		return nil
	}

	if idx := strings.IndexByte(pattern, '/'); idx >= 0 {
		ipPart, maskPart := pattern[:idx], pattern[idx+1:]

		ip, err := netaddr.Parse(ipPart)
		if err != nil {
			return err
		}

		mask, err := netaddr.ParseMask(maskPart, !ip.IsV4())
		if err != nil {
			if dq, derr := netaddr.DottedQuadToBits(maskPart); derr == nil {
				mask, err = netaddr.ParseMask(strconv.Itoa(dq), !ip.IsV4())
			}

			if err != nil {
				return err
			}
		}

		a.entries = append(a.entries, entry{access: access, network: ip.And(mask), mask: mask})

		return nil
	}

	a.entries = append(a.entries, entry{access: access, isString: true, pattern: pattern})

	return nil
}

// fullMask returns the all-ones mask for ip's address family.
func fullMask(ip netaddr.Addr) (netaddr.Addr, error) {
	if ip.IsV4() {
		return netaddr.ParseMask("32", false)
	}

	return netaddr.ParseMask("128", true)
}

// Evaluate returns the access verdict for a peer identified by its address
// text (may be empty if unknown) and hostname (may be empty if unresolved).
// An empty list allows everyone; an exhausted list denies and logs a
// notice, exactly as tinyproxy's check_acl does.
func (a *ACL) Evaluate(ctx context.Context, peerIP, peerHost string) Access {
	if len(a.entries) == 0 {
		return Allow
	}

	for _, e := range a.entries {
		verdict, matched := a.test(ctx, e, peerIP, peerHost)
		if matched {
			return verdict
		}
	}

	log.Info("acl: unauthorized connection from %q [%s]", peerHost, peerIP)

	return Deny
}

// test evaluates a single entry against the peer, returning (verdict,
// matched).
func (a *ACL) test(ctx context.Context, e entry, peerIP, peerHost string) (Access, bool) {
	if !e.isString {
		if peerIP == "" {
			return Deny, false
		}

		addr, err := netaddr.Parse(peerIP)
		if err != nil {
			return Deny, false
		}

		if addr.And(e.mask) == e.network {
			return e.access, true
		}

		return Deny, false
	}

	if !strings.HasPrefix(e.pattern, ".") && a.resolver != nil {
		for _, resolved := range a.resolver.Resolve(ctx, e.pattern) {
			if resolved == peerIP {
				return e.access, true
			}
		}
	}

	if suffixMatch(peerHost, e.pattern) {
		return e.access, true
	}

	return Deny, false
}

// suffixMatch reports whether host ends with pattern, case-insensitively,
// mirroring tinyproxy's STRING_TEST macro.
func suffixMatch(host, pattern string) bool {
	if len(host) < len(pattern) {
		return false
	}

	return strings.EqualFold(host[len(host)-len(pattern):], pattern)
}

// Len reports the number of rules currently loaded, used by the admin
// surface's coarse configuration fingerprint.
func (a *ACL) Len() int {
	return len(a.entries)
}
