// Package upstream implements the ordered upstream-proxy router: a list of
// rules, keyed by domain suffix, IPv4 CIDR, or "default", that decides which
// upstream proxy (if any) should relay a request for a given destination
// host. Rules are evaluated first-match, non-default rules are effectively
// prepended in insertion order, and a single default rule (if present) is
// always kept at the tail.
//
// Grounded on tinyproxy's src/upstream.c: upstream_build, upstream_add and
// upstream_get. The ordered-slice-under-a-mutex shape follows this
// daemon's own proxy.ParkedDomainsManager.
package upstream

import (
	"strconv"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/log"
	"github.com/barweiss/go-tuple"
	"github.com/rafalfr/tinyproxy-go/internal/netaddr"
)

// kind distinguishes the three selector shapes a rule's domain field can
// take.
type kind int

const (
	kindDefault kind = iota
	kindDomainSuffix
	kindCIDRv4
)

// rule is one entry in the router. A rule with no Host/Port is a "deny"
// (no-upstream) rule; otherwise it is a "proxy" rule.
type rule struct {
	kind kind

	domainSuffix string
	cidrNet      netaddr.Addr
	cidrMask     netaddr.Addr

	host string
	port int
	// creds holds the optional username/password pair for this upstream,
	// as a tuple since a rule either carries both or neither.
	creds tuple.T2[string, string]
}

func (r rule) isDeny() bool {
	return r.host == "" || r.port == 0
}

// Proxy describes the upstream selected for a destination host.
type Proxy struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Router is the ordered upstream rule list. The zero value is not usable;
// use New.
type Router struct {
	mu         sync.RWMutex
	rules      []rule
	hasDefault bool
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// AddDefault registers the default upstream proxy, used when no other rule
// matches. A second call is rejected: tinyproxy allows only one default
// upstream.
func (r *Router) AddDefault(host string, port int, user, password string) error {
	if host == "" || port < 1 {
		return errNonsenseRule("default upstream requires host and port")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasDefault {
		log.Info("upstream: duplicate default upstream rule ignored")

		return nil
	}

	r.rules = append(r.rules, rule{
		kind:  kindDefault,
		host:  host,
		port:  port,
		creds: tuple.New2(user, password),
	})
	r.hasDefault = true

	return nil
}

// AddDeny registers a "no upstream" rule for selector (a domain suffix or,
// if it parses as IP/mask, a CIDR). Parse failures on the CIDR form fall
// back to treating selector as a literal domain suffix, mirroring
// tinyproxy's silent fallback in upstream_build.
func (r *Router) AddDeny(selector string) error {
	if selector == "" {
		return errNonsenseRule("no-upstream rule requires a selector")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.prepend(buildSelectorRule(selector))

	return nil
}

// AddProxy registers a proxy rule that relays requests matching
// domainSuffix to host:port.
func (r *Router) AddProxy(host string, port int, domainSuffix, user, password string) error {
	if host == "" || port < 1 || domainSuffix == "" {
		return errNonsenseRule("upstream rule requires host, port and domain")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.prepend(rule{
		kind:         kindDomainSuffix,
		domainSuffix: domainSuffix,
		host:         host,
		port:         port,
		creds:        tuple.New2(user, password),
	})

	return nil
}

// prepend inserts rl at the front of the non-default rules, preserving the
// invariant that any default rule stays at the tail.
func (r *Router) prepend(rl rule) {
	r.rules = append([]rule{rl}, r.rules...)
}

// buildSelectorRule builds a deny rule's selector, attempting the CIDR form
// first and falling back to a domain suffix.
func buildSelectorRule(selector string) rule {
	if idx := strings.IndexByte(selector, '/'); idx >= 0 {
		ipPart, maskPart := selector[:idx], selector[idx+1:]

		ip, err := netaddr.Parse(ipPart)
		if err == nil && ip.IsV4() {
			var mask netaddr.Addr
			if strings.Contains(maskPart, ".") {
				if bits, derr := netaddr.DottedQuadToBits(maskPart); derr == nil {
					mask, err = netaddr.ParseMask(strconv.Itoa(bits), false)
				} else {
					err = derr
				}
			} else {
				mask, err = netaddr.ParseMask(maskPart, false)
			}

			if err == nil {
				return rule{kind: kindCIDRv4, cidrNet: ip.And(mask), cidrMask: mask}
			}
		}
	}

	return rule{kind: kindDomainSuffix, domainSuffix: selector}
}

// Lookup returns the upstream proxy that should be used for host, or ok ==
// false when the request should go direct (no matching rule, or the first
// matching rule is a deny/no-upstream rule).
func (r *Router) Lookup(host string) (Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rl := range r.rules {
		if !ruleMatches(rl, host) {
			continue
		}

		log.Debug("upstream: matched rule for %s", host)

		if rl.isDeny() {
			return Proxy{}, false
		}

		return Proxy{Host: rl.host, Port: rl.port, User: rl.creds.V1, Password: rl.creds.V2}, true
	}

	log.Debug("upstream: no upstream proxy for %s", host)

	return Proxy{}, false
}

// ruleMatches reports whether rl's selector matches host.
func ruleMatches(rl rule, host string) bool {
	switch rl.kind {
	case kindDefault:
		return true
	case kindDomainSuffix:
		return domainSuffixMatches(rl.domainSuffix, host)
	case kindCIDRv4:
		ip, err := netaddr.Parse(host)
		if err != nil || !ip.IsV4() {
			return false
		}

		return ip.And(rl.cidrMask) == rl.cidrNet
	default:
		return false
	}
}

// domainSuffixMatches implements upstream_get's domain comparison: an exact
// case-insensitive match, or, for a leading-dot pattern, a suffix match on
// dot boundaries, with the special case that "." alone matches any host
// that itself contains no dot.
func domainSuffixMatches(pattern, host string) bool {
	if strings.EqualFold(pattern, host) {
		return true
	}

	if !strings.HasPrefix(pattern, ".") {
		return false
	}

	if pattern == "." {
		return !strings.Contains(host, ".")
	}

	return len(host) > len(pattern) && strings.EqualFold(host[len(host)-len(pattern):], pattern)
}

// Len reports the number of rules currently loaded, used by the admin
// surface's coarse configuration fingerprint.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rules)
}

type nonsenseRuleError struct{ msg string }

func (e *nonsenseRuleError) Error() string { return "upstream: nonsense rule: " + e.msg }

func errNonsenseRule(msg string) error { return &nonsenseRuleError{msg: msg} }
