package confload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/log"
	"github.com/rafalfr/tinyproxy-go/internal/acl"
	"github.com/rafalfr/tinyproxy-go/internal/config"
)

// ErrFeatureDisabled is returned (wrapped, naming the directive) when a
// directive refers to a compile-time feature this edition does not carry.
// xtinyproxy and syslog are compiled out of this edition, unlike the
// merely feature-gated filter/reverse-proxy directives, which this loader
// does carry.
var ErrFeatureDisabled = errors.New("confload: feature not compiled into this edition")

// maxLineLength matches tinyproxy's own configuration line-length ceiling.
const maxLineLength = 1023

// tokenFrag matches a single bare (unquoted) argument token such as an IP
// literal, an IPv6 literal, or a hostname/ALNUM identifier. Distinguishing
// which of those it actually is is left to the handler, exactly as
// tinyproxy's own insert_acl does for "allow"/"deny" arguments.
const tokenFrag = `(\S+)`

// handlerFunc mutates rec according to the submatches captured by a
// directive's pattern. m[0] is the full line; m[1:] are the capture
// groups in pattern order.
type handlerFunc func(rec *config.Record, m []string) error

// directive pairs a compiled whole-line pattern with the handler invoked on
// a match, mirroring tinyproxy's `directives[]` dispatch table.
type directive struct {
	name    string
	pattern *regexp.Regexp
	handler handlerFunc
}

// std builds a directive whose line shape is "name WS argsFrag", matched
// case-insensitively on the whole line, the same convention as conf.c's
// STDCONF macro.
func std(name, argsFrag string, h handlerFunc) directive {
	pat := regexp.MustCompile(`(?i)^\s*` + name + wsFrag + argsFrag + `\s*$`)

	return directive{name: name, pattern: pat, handler: h}
}

// table is the ordered directive dispatch table. Order matters only in
// that patterns must not overlap; unlike the ACL and upstream engines, the
// loader does not rely on first-match semantics across multiple directives
// — each line matches exactly one directive or none.
var table = []directive{
	std("logfile", strFrag, func(r *config.Record, m []string) error { r.LogFile = m[1]; return nil }),
	std("pidfile", strFrag, func(r *config.Record, m []string) error { r.PidFile = m[1]; return nil }),
	std("statfile", strFrag, func(r *config.Record, m []string) error { r.StatFile = m[1]; return nil }),
	std("anonymous", strFrag, func(r *config.Record, m []string) error {
		r.AnonymousHeaders[m[1]] = struct{}{}
		return nil
	}),
	std("viaproxyname", strFrag, func(r *config.Record, m []string) error {
		r.ViaProxyName = m[1]
		log.Info("confload: via proxy name set to %q", m[1])
		return nil
	}),
	std("defaulterrorfile", strFrag, func(r *config.Record, m []string) error {
		r.DefaultErrorFile = m[1]
		return nil
	}),
	std("stathost", strFrag, func(r *config.Record, m []string) error {
		r.StatHost = m[1]
		log.Info("confload: stat host set to %q", m[1])
		return nil
	}),
	std("xtinyproxy", boolFrag, func(r *config.Record, m []string) error {
		return fmt.Errorf("%w: xtinyproxy", ErrFeatureDisabled)
	}),
	std("syslog", boolFrag, func(r *config.Record, m []string) error {
		return fmt.Errorf("%w: syslog", ErrFeatureDisabled)
	}),
	std("bindsame", boolFrag, func(r *config.Record, m []string) error { r.BindSame = parseBool(m[1]); return nil }),
	std("disableviaheader", boolFrag, func(r *config.Record, m []string) error {
		r.DisableViaHeader = parseBool(m[1])
		return nil
	}),
	std("port", intFrag, intHandler(func(r *config.Record, n int) { r.ListenPort = n })),
	std("maxclients", intFrag, intHandler(func(r *config.Record, n int) { r.MaxClients = n })),
	std("maxspareservers", intFrag, intHandler(func(r *config.Record, n int) { r.MaxSpareServers = n })),
	std("minspareservers", intFrag, intHandler(func(r *config.Record, n int) { r.MinSpareServers = n })),
	std("startservers", intFrag, intHandler(func(r *config.Record, n int) { r.StartServers = n })),
	std("maxrequestsperchild", intFrag, intHandler(func(r *config.Record, n int) { r.MaxRequestsPerChild = n })),
	std("timeout", intFrag, intHandler(func(r *config.Record, n int) { r.Timeout = n })),
	std("connectport", intFrag, intHandler(func(r *config.Record, n int) { r.ConnectPorts.Add(n) })),
	std("user", alnumFrag, func(r *config.Record, m []string) error { r.User = m[1]; return nil }),
	std("group", alnumFrag, func(r *config.Record, m []string) error { r.Group = m[1]; return nil }),
	std("listen", ipOrIPv6Frag, func(r *config.Record, m []string) error {
		r.ListenAddress = m[1]
		log.Info("confload: listen address set to %q", m[1])
		return nil
	}),
	std("bind", ipOrIPv6Frag, func(r *config.Record, m []string) error {
		if r.Transparent {
			return fmt.Errorf("confload: bind is incompatible with transparent mode")
		}
		r.BindAddress = m[1]
		return nil
	}),
	std("allow", allowDenyFrag, func(r *config.Record, m []string) error { return r.ACL.Insert(m[1], acl.Allow) }),
	std("deny", allowDenyFrag, func(r *config.Record, m []string) error { return r.ACL.Insert(m[1], acl.Deny) }),
	std("errorfile", intFrag+wsFrag+strFrag, func(r *config.Record, m []string) error {
		code, err := strconv.ParseInt(m[1], 0, 0)
		if err != nil {
			return fmt.Errorf("confload: invalid errorfile status code %q: %w", m[1], err)
		}
		r.ErrorFiles[int(code)] = m[2]
		return nil
	}),
	std("addheader", strFrag+wsFrag+strFrag, func(r *config.Record, m []string) error {
		r.AddHeaders = append(r.AddHeaders, config.Header{Name: m[1], Value: m[2]})
		return nil
	}),
	std("filter", strFrag, func(r *config.Record, m []string) error { r.FilterFile = m[1]; return nil }),
	std("filterurls", boolFrag, func(r *config.Record, m []string) error { r.FilterURLs = parseBool(m[1]); return nil }),
	std("filterextended", boolFrag, func(r *config.Record, m []string) error {
		r.FilterExtended = parseBool(m[1])
		return nil
	}),
	std("filterdefaultdeny", boolFrag, func(r *config.Record, m []string) error {
		r.FilterDefaultDeny = parseBool(m[1])
		return nil
	}),
	std("filtercasesensitive", boolFrag, func(r *config.Record, m []string) error {
		r.FilterCaseSensitive = parseBool(m[1])
		return nil
	}),
	std("reversebaseurl", strFrag, func(r *config.Record, m []string) error { r.ReverseBaseURL = m[1]; return nil }),
	std("reverseonly", boolFrag, func(r *config.Record, m []string) error { r.ReverseOnly = parseBool(m[1]); return nil }),
	std("reversemagic", boolFrag, func(r *config.Record, m []string) error { r.ReverseMagic = parseBool(m[1]); return nil }),
	std("reversepath", strFrag+`(?:`+wsFrag+strFrag+`)?`, func(r *config.Record, m []string) error {
		r.ReversePaths = append(r.ReversePaths, config.ReverseMapping{Path: m[1], Target: m[2]})
		return nil
	}),
	std("loglevel", `(critical|error|warning|notice|connect|info)`, func(r *config.Record, m []string) error {
		r.LogLevel = strings.ToLower(m[1])
		return nil
	}),
	// "no upstream" is a two-word directive name, handled outside std()'s
	// single-identifier assumption, exactly as conf.c special-cases it
	// alongside "upstream" at the end of its own directive table.
	{
		name:    "no upstream",
		pattern: regexp.MustCompile(`(?i)^\s*no` + wsFrag + `upstream` + wsFrag + strFrag + `\s*$`),
		handler: func(r *config.Record, m []string) error { return r.Upstreams.AddDeny(m[1]) },
	},
	{
		name: "upstream",
		pattern: regexp.MustCompile(
			`(?i)^\s*upstream` + wsFrag + tokenFrag + `:` + intFrag + `(?:` + wsFrag + strFrag + `)?\s*$`,
		),
		handler: func(r *config.Record, m []string) error {
			port, err := strconv.ParseInt(m[2], 0, 0)
			if err != nil {
				return fmt.Errorf("confload: invalid upstream port %q: %w", m[2], err)
			}

			if m[3] == "" {
				return r.Upstreams.AddDefault(m[1], int(port), "", "")
			}

			return r.Upstreams.AddProxy(m[1], int(port), m[3], "", "")
		},
	},
}

var (
	commentPattern = regexp.MustCompile(`^\s*#`)
	blankPattern   = regexp.MustCompile(`^\s*$`)
)

func parseBool(text string) bool {
	switch strings.ToLower(text) {
	case "yes", "on":
		return true
	default:
		return false
	}
}

// intHandler adapts a plain (record, int) setter into a handlerFunc.
func intHandler(set func(*config.Record, int)) handlerFunc {
	return func(r *config.Record, m []string) error {
		n, err := strconv.ParseInt(m[1], 0, 64)
		if err != nil {
			return fmt.Errorf("confload: invalid integer %q: %w", m[1], err)
		}

		set(r, int(n))

		return nil
	}
}

// Load parses the directive file at path into a fresh Record seeded from
// config.Defaults, then validates it. resolver is wired into the new
// Record's ACL (may be nil). On any syntax or validation error, it returns
// a non-nil error describing the offending line; the caller's previous
// configuration (if any) is untouched since Load never mutates an existing
// Record in place.
func Load(path string, resolver acl.Resolver) (*config.Record, error) {
	rec := config.Defaults(resolver)

	if err := parseInto(path, rec); err != nil {
		return nil, err
	}

	if err := validate(rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Reload re-parses path into a brand new Record, leaving prev completely
// untouched so a failed reload never corrupts the running configuration.
func Reload(path string, prev *config.Record, resolver acl.Resolver) (*config.Record, error) {
	next, err := Load(path, resolver)
	if err != nil {
		return prev, err
	}

	return next, nil
}

func parseInto(path string, rec *config.Record) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("confload: opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	lineNo := 0

	for {
		line, err := reader.ReadString('\n')
		lineNo++

		trimmed := strings.TrimRight(line, "\r\n")
		if len(trimmed) > maxLineLength {
			return fmt.Errorf("confload: %s:%d: line exceeds %d bytes", path, lineNo, maxLineLength)
		}

		if matchErr := matchLine(rec, trimmed, path, lineNo); matchErr != nil {
			return matchErr
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}

			return fmt.Errorf("confload: reading %s: %w", path, err)
		}
	}
}

func matchLine(rec *config.Record, line, path string, lineNo int) error {
	if commentPattern.MatchString(line) || blankPattern.MatchString(line) {
		return nil
	}

	for _, d := range table {
		m := d.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		if err := d.handler(rec, m); err != nil {
			return fmt.Errorf("confload: %s:%d: %w", path, lineNo, err)
		}

		return nil
	}

	return fmt.Errorf("confload: %s:%d: syntax error: %q", path, lineNo, line)
}

// validate applies the post-load required-field checks.
func validate(rec *config.Record) error {
	if rec.ListenPort == 0 {
		return fmt.Errorf("confload: port must be non-zero")
	}

	if rec.User == "" {
		log.Info("confload: no user directive given, running as the current user")
	}

	if rec.Timeout == 0 {
		log.Info("confload: timeout 0 clamped to default")
		rec.Timeout = 120
	}

	return nil
}
