// Package resolve implements the name-resolution contract consumed by the
// string branch of the access-control list: resolve a hostname to the IP
// addresses it currently answers for, and best-effort reverse-resolve an IP
// to a hostname for diagnostics. Both directions are memoized with a short
// TTL so a high connection rate does not turn every ACL check into a fresh
// DNS round trip.
package resolve

import (
	"context"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"
	gocache "github.com/patrickmn/go-cache"
	"github.com/miekg/dns"
)

// defaultTTL bounds how long a resolved answer is trusted. It is
// deliberately independent of the record's own DNS TTL: the cache exists to
// bound latency under load, not to track authoritative freshness.
const defaultTTL = 30 * time.Second

// Resolver resolves hostnames to addresses and addresses to hostnames. A nil
// *Resolver is not valid; use New.
type Resolver struct {
	client  *dns.Client
	servers []string
	cache   *gocache.Cache
}

// New creates a Resolver that queries the given upstream DNS servers
// (host:port form) using miekg/dns, falling back to the system resolver if
// no servers are configured.
func New(servers []string) *Resolver {
	return &Resolver{
		client:  &dns.Client{Timeout: 5 * time.Second},
		servers: servers,
		cache:   gocache.New(defaultTTL, defaultTTL*2),
	}
}

// Resolve returns the list of IP address strings that name currently
// resolves to. Any failure — timeout, NXDOMAIN, malformed response — yields
// an empty slice, matching the contract that the ACL
// evaluator never has to distinguish "no answer" from "resolver error".
func (r *Resolver) Resolve(ctx context.Context, name string) []string {
	if cached, ok := r.cache.Get("fwd:" + name); ok {
		return cached.([]string)
	}

	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs = append(addrs, r.query(ctx, name, qtype)...)
	}

	if len(r.servers) == 0 && len(addrs) == 0 {
		// No upstream configured at all: fall back to the system resolver,
		// mirroring getaddrinfo's behavior in the original implementation.
		if ips, err := net.DefaultResolver.LookupHost(ctx, name); err == nil {
			addrs = ips
		}
	}

	r.cache.Set("fwd:"+name, addrs, gocache.DefaultExpiration)

	return addrs
}

// query issues a single DNS question against the configured servers and
// extracts the answer addresses. It never returns an error; failures simply
// yield no addresses.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) []string {
	if len(r.servers) == 0 {
		return nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil || in == nil {
			continue
		}

		var out []string
		for _, rr := range in.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				out = append(out, rec.A.String())
			case *dns.AAAA:
				out = append(out, rec.AAAA.String())
			}
		}

		if len(out) > 0 {
			return out
		}
	}

	return nil
}

// ReverseLookup returns the canonical hostname for addr, for diagnostics
// only; policy decisions never depend on its result. Failures are logged at
// debug level and yield an empty string.
func (r *Resolver) ReverseLookup(ctx context.Context, addr string) string {
	if cached, ok := r.cache.Get("rev:" + addr); ok {
		return cached.(string)
	}

	names, err := net.DefaultResolver.LookupAddr(ctx, addr)
	if err != nil || len(names) == 0 {
		log.Debug("resolve: reverse lookup of %s failed: %v", addr, err)
		r.cache.Set("rev:"+addr, "", gocache.DefaultExpiration)

		return ""
	}

	host := names[0]
	r.cache.Set("rev:"+addr, host, gocache.DefaultExpiration)

	return host
}
