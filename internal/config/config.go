// Package config defines the proxy's typed configuration record: the flat
// bag of scalar settings and policy-engine handles produced by loading a
// directive file, and consumed read-only by the rest of the daemon.
//
// Grounded on tinyproxy's struct config_s (src/conf.h) and this daemon
// family's own proxy.Config/New lifecycle shape (rafalfr-dnsproxy's
// proxy/proxy.go), adapted from a DNS-proxy configuration to an HTTP
// forward-proxy one.
package config

import (
	"github.com/rafalfr/tinyproxy-go/internal/acl"
	"github.com/rafalfr/tinyproxy-go/internal/portset"
	"github.com/rafalfr/tinyproxy-go/internal/upstream"
)

// Header is a single outbound header rewrite rule inserted via the
// "addheader" directive.
type Header struct {
	Name  string
	Value string
}

// ReverseMapping is a single "reversepath" directive's (path, target) pair.
// Target is empty when the directive supplied only a path.
type ReverseMapping struct {
	Path   string
	Target string
}

// Record is the effective, fully-loaded configuration. Fields are set once
// during Load/Reload and must not be mutated by any other caller.
type Record struct {
	ListenAddress string
	ListenPort    int

	MaxClients          int
	StartServers        int
	MinSpareServers     int
	MaxSpareServers     int
	MaxRequestsPerChild int
	Timeout             int

	User  string
	Group string

	LogFile  string
	LogLevel string
	PidFile  string
	StatFile string

	ViaProxyName     string
	DisableViaHeader bool

	DefaultErrorFile string
	ErrorFiles       map[int]string

	AddHeaders []Header

	StatHost string

	// XTinyproxy and Syslog stay false: both directives are compiled out of
	// this edition, and confload rejects them with ErrFeatureDisabled
	// rather than ever setting these fields to true.
	XTinyproxy bool
	Syslog     bool
	BindSame   bool

	// BindAddress is the outbound bind address for connections this proxy
	// makes on the client's behalf. It is rejected by the loader when
	// transparent mode is active, mirroring tinyproxy's own restriction.
	BindAddress string

	// Transparent, when true, indicates the proxy is running in
	// transparently-intercepted mode (see internal/transparent).
	Transparent bool

	FilterFile          string
	FilterURLs          bool
	FilterExtended      bool
	FilterCaseSensitive bool
	FilterDefaultDeny   bool

	ReverseBaseURL string
	ReverseOnly    bool
	ReverseMagic   bool
	ReversePaths   []ReverseMapping

	AnonymousHeaders map[string]struct{}

	ACL         *acl.ACL
	ConnectPorts *portset.PortSet
	Upstreams   *upstream.Router
}

// Defaults returns a Record populated with the daemon's built-in defaults,
// the starting point for both the initial load and every reload. resolver
// is wired into the ACL's string-pattern matching; it may be nil, in which
// case ACL entries that require hostname resolution simply never match by
// IP and fall through to suffix matching.
func Defaults(resolver acl.Resolver) *Record {
	return &Record{
		ListenPort:          8888,
		MaxClients:          100,
		StartServers:        10,
		MinSpareServers:     5,
		MaxSpareServers:     20,
		MaxRequestsPerChild: 0,
		Timeout:             120,
		LogLevel:            "info",
		ViaProxyName:        "tinyproxy",
		StatHost:            "127.0.0.1:8081",
		ErrorFiles:          make(map[int]string),
		AnonymousHeaders:    make(map[string]struct{}),
		ACL:                 acl.New(resolver),
		ConnectPorts:        portset.New(),
		Upstreams:           upstream.New(),
	}
}

// AllowsHeader reports whether name is present in the anonymous-header
// allow-set, i.e. it is one of the headers permitted to pass through when
// anonymous mode strips everything else.
func (r *Record) AllowsHeader(name string) bool {
	_, ok := r.AnonymousHeaders[name]

	return ok
}
