// Package transparent reconstructs the destination host, port and path of
// an intercepted (firewall-redirected) request, and builds the canonical
// absolute URL for it. It also guards against a client being transparently
// redirected back onto the proxy's own listen address.
//
// Grounded on tinyproxy's src/transparent-proxy.c: do_transparent_proxy and
// build_url.
package transparent

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultHTTPPort is used when a Host header carries no explicit port.
const defaultHTTPPort = 80

// OriginalDestination is the address the client's socket was connected to
// before a firewall transparently redirected it to this proxy.
type OriginalDestination struct {
	IP   string
	Port int
}

// Request is the reconstructed destination of an intercepted request.
type Request struct {
	Host string
	Port int
	Path string
}

// URL renders the canonical absolute URL for r.
func (r Request) URL() string {
	return fmt.Sprintf("http://%s:%d%s", r.Host, r.Port, r.Path)
}

// Build reconstructs a Request from an intercepted connection. hostHeader is
// the raw value of the Host header if present, or "" if absent. path is the
// bare path taken from the intercepted request line. origDst is the
// original destination of the client's socket, used only when hostHeader is
// empty.
func Build(hostHeader string, origDst OriginalDestination, path string) Request {
	if hostHeader != "" {
		host, port := splitHostPort(hostHeader)

		return Request{Host: host, Port: port, Path: path}
	}

	return Request{Host: origDst.IP, Port: origDst.Port, Path: path}
}

// splitHostPort parses a Host header value of the form "name[:port]",
// splitting at the last colon and defaulting to port 80 when there is no
// colon or the text after it is not a number. IPv6 literals get no special
// handling: an unbracketed one is split at its last colon like any other
// value.
func splitHostPort(hostHeader string) (string, int) {
	idx := strings.LastIndexByte(hostHeader, ':')
	if idx < 0 {
		return hostHeader, defaultHTTPPort
	}

	name, portText := hostHeader[:idx], hostHeader[idx+1:]

	port, err := strconv.Atoi(portText)
	if err != nil {
		return hostHeader, defaultHTTPPort
	}

	return name, port
}

// SelfReferenceCheck reports whether req targets the proxy's own listen
// address. The comparison is a literal string compare against
// listenBindIP, exactly as tinyproxy's do_transparent_proxy does it: it
// will not catch equivalent-but-differently-written addresses (e.g.
// "127.0.0.1" vs "localhost"), and that is intentional — see the design
// note on preserving this behavior rather than improving it.
func SelfReferenceCheck(req Request, listenBindIP string) bool {
	return listenBindIP != "" && req.Host == listenBindIP
}
