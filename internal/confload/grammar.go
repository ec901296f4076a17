// Package confload implements the line-oriented configuration directive
// grammar: a table of regular expressions, each paired with a handler that
// mutates a config.Record (and, for "allow"/"deny"/"upstream"/"no upstream",
// the ACL and upstream-router handles it owns).
//
// Grounded on tinyproxy's src/conf.c: the WS/STR/BOOL/INT/ALNUM/IP/IPV6
// macros, the STDCONF table-entry convention, and the individual
// handle_* functions.
package confload

// Argument-class regex fragments, translated from conf.c's WS/STR/BOOL/INT/
// ALNUM/IP/IPV6/IPMASK/IPV6MASK macros. Each directive's full pattern below
// is assembled from these, with named capture groups substituted in per
// use so a single fragment can appear more than once in one directive.
const (
	wsFrag = `[[:space:]]+`

	// strFrag matches a double-quoted argument with no embedded quotes.
	strFrag = `"([^"]+)"`

	// boolFrag matches one of yes/on/no/off. Case-insensitivity is applied
	// at the whole-directive level, not per fragment.
	boolFrag = `(yes|on|no|off)`

	// intFrag matches a decimal or 0x-prefixed hexadecimal integer.
	intFrag = `(0x[0-9a-fA-F]+|[0-9]+)`

	// alnumFrag matches the restricted identifier charset tinyproxy allows
	// for usernames, group names and similar tokens.
	alnumFrag = `([-a-zA-Z0-9._]+)`

	// ipCore matches an IPv4 dotted-quad, with no capture group of its own
	// so callers can wrap it (alone or combined with ipv6Core) in exactly
	// one outer capturing group.
	ipCore = `(?:[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3})`

	// ipmaskCore matches an IPv4 address with an optional /prefix.
	ipmaskCore = `(?:` + ipCore + `(?:/[0-9]+)?)`

	// ipv6Core matches a broad superset of canonical and compressed IPv6
	// literals, including the dual IPv4-suffixed forms. It is intentionally
	// permissive: malformed addresses that still match are rejected later
	// by netaddr.Parse, not by the grammar.
	ipv6Core = `(?:[0-9a-fA-F:]*:[0-9a-fA-F:]*(?:(?:[0-9]{1,3}\.){3}[0-9]{1,3})?)`

	// ipv6maskCore matches an IPv6 address with an optional /prefix.
	ipv6maskCore = `(?:` + ipv6Core + `(?:/[0-9]+)?)`

	// alnumCore is alnumFrag without its own capture group, for use inside
	// an alternation that already supplies the outer group.
	alnumCore = `(?:[-a-zA-Z0-9._]+)`
)

// ipOrIPv6Frag matches either form of address as a single capture group, for
// "listen" and "bind", which accept IP|IPV6 in tinyproxy's own grammar.
const ipOrIPv6Frag = `(` + ipCore + `|` + ipv6Core + `)`

// allowDenyFrag matches an IPMASK, an IPV6MASK, or an ALNUM hostname
// pattern as a single capture group, for "allow" and "deny".
const allowDenyFrag = `(` + ipmaskCore + `|` + ipv6maskCore + `|` + alnumCore + `)`
