// Package daemon wires the policy engines (internal/acl, internal/portset,
// internal/upstream, internal/transparent) and the configuration loader
// (internal/confload) into a runnable process: it loads the directive file
// once at startup, serves a read-only admin/stats HTTP surface, runs
// scheduled housekeeping, and reloads or shuts down on signal.
//
// Grounded on rafalfr-dnsproxy's internal/cmd.runProxy: the gocron
// scheduler setup, the gin stats endpoint, and the stats persistence and
// signal-handling blocks, all adapted from a DNS proxy's lifecycle to an
// HTTP forward proxy's.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/rafalfr/tinyproxy-go/internal/acl"
	"github.com/rafalfr/tinyproxy-go/internal/confload"
	"github.com/rafalfr/tinyproxy-go/internal/config"
	"github.com/rafalfr/tinyproxy-go/internal/resolve"
	"github.com/rafalfr/tinyproxy-go/internal/stats"
	"github.com/rafalfr/tinyproxy-go/internal/transparent"
	"github.com/rafalfr/tinyproxy-go/internal/upstream"
	"github.com/rafalfr/tinyproxy-go/utils"
)

// defaultLogCheckIntervalSeconds and defaultStatsSaveIntervalSeconds are the
// jitter fallbacks used when utils.GetRandomValue itself fails.
const (
	defaultLogCheckIntervalSeconds  = 60
	defaultStatsSaveIntervalSeconds = 3600
)

// logRotateCeiling matches the teacher's own log-file monitor threshold.
const logRotateCeiling = 128 * 1024 * 1024

// Options configures process-level knobs that live outside the directive
// grammar: where the directive file is, where to persist stats, and which
// address serves the admin/stats HTTP surface.
type Options struct {
	ConfigPath string
	StatsFile  string
	AdminAddr  string
	DNSServers []string
}

// Daemon owns the currently-effective configuration and the long-running
// background tasks (scheduler, admin HTTP server) built on top of it.
type Daemon struct {
	opts Options

	rec      atomic.Pointer[config.Record]
	resolver *resolve.Resolver
	stats    *stats.Manager

	scheduler *gocron.Scheduler
	server    *http.Server

	reload   chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a Daemon and performs the initial configuration load. It does
// not yet start any background goroutine; call Run for that.
func New(opts Options) (*Daemon, error) {
	resolver := resolve.New(opts.DNSServers)

	rec, err := confload.Load(opts.ConfigPath, resolver)
	if err != nil {
		return nil, fmt.Errorf("daemon: initial configuration load: %w", err)
	}

	d := &Daemon{
		opts:      opts,
		resolver:  resolver,
		stats:     stats.New(),
		scheduler: gocron.NewScheduler(time.UTC),
		reload:    make(chan struct{}, 1),
		shutdown:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	d.rec.Store(rec)

	return d, nil
}

// Config returns the currently-effective configuration record. Safe for
// concurrent use; the returned pointer must be treated as read-only.
func (d *Daemon) Config() *config.Record {
	return d.rec.Load()
}

// Stats returns the daemon's stats manager.
func (d *Daemon) Stats() *stats.Manager {
	return d.stats
}

// Reload re-parses the directive file and, on success, atomically replaces
// the effective configuration; on failure the previous configuration is
// kept and the error is returned for logging.
func (d *Daemon) Reload() error {
	next, err := confload.Reload(d.opts.ConfigPath, d.rec.Load(), d.resolver)
	if err != nil {
		log.Error("daemon: reload failed, keeping previous configuration: %v", err)

		return err
	}

	d.rec.Store(next)
	log.Info("daemon: configuration reloaded from %s", d.opts.ConfigPath)

	return nil
}

// Run starts scheduled housekeeping and the admin HTTP surface, then blocks
// until ctx is canceled or Shutdown is called, saving a final stats
// snapshot before returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.stats.Load(d.opts.StatsFile)

	d.registerJobs()
	d.scheduler.StartAsync()

	errCh := make(chan error, 1)
	go func() { errCh <- d.serveAdmin() }()

	select {
	case <-ctx.Done():
	case <-d.shutdown:
	case err := <-errCh:
		d.scheduler.Stop()
		_ = d.stats.Save(d.opts.StatsFile)

		return err
	}

	d.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.server != nil {
		_ = d.server.Shutdown(shutdownCtx)
	}

	_ = d.stats.Save(d.opts.StatsFile)
	close(d.done)

	return nil
}

// Shutdown requests that Run stop and return.
func (d *Daemon) Shutdown() {
	select {
	case d.shutdown <- struct{}{}:
	default:
	}
}

// registerJobs schedules the daemon's housekeeping tasks: periodic stats
// snapshot and a log-file size check, mirroring the teacher's own
// stats-save and log-monitor jobs. Both intervals are jittered with
// utils.GetRandomValue, the same helper the teacher uses for randomized
// timing elsewhere, so that a fleet of these daemons doesn't all wake for
// housekeeping in lockstep.
func (d *Daemon) registerJobs() {
	statsSaveSeconds, err := utils.GetRandomValue(3300, 3900)
	if err != nil {
		statsSaveSeconds = defaultStatsSaveIntervalSeconds
	}

	if _, err = d.scheduler.Every(uint64(statsSaveSeconds)).Seconds().Do(func() {
		if saveErr := d.stats.Save(d.opts.StatsFile); saveErr != nil {
			log.Error("daemon: periodic stats save failed: %v", saveErr)
		}
	}); err != nil {
		log.Error("daemon: can't schedule stats save: %v", err)
	}

	logCheckSeconds, err := utils.GetRandomValue(50, 70)
	if err != nil {
		logCheckSeconds = defaultLogCheckIntervalSeconds
	}

	if _, err = d.scheduler.Every(uint64(logCheckSeconds)).Seconds().Do(func() {
		d.checkLogRotation()
	}); err != nil {
		log.Error("daemon: can't schedule log file monitor: %v", err)
	}
}

// checkLogRotation removes the log file once it grows past
// logRotateCeiling, mirroring proxy.MonitorLogFile's size-based rotation
// (the teacher's monitor also drops the file outright rather than
// truncating it in place). The file is not reopened or recreated here; a
// writer that still holds it open keeps writing to the removed file.
func (d *Daemon) checkLogRotation() {
	logFile := d.rec.Load().LogFile
	if logFile == "" {
		return
	}

	size, _, err := utils.GetFileInfo(logFile)
	if err != nil {
		return
	}

	if size > logRotateCeiling {
		log.Info("daemon: log file %s exceeds rotation ceiling, removing", logFile)

		if rmErr := os.Remove(logFile); rmErr != nil {
			log.Error("daemon: failed to remove log file %s: %v", logFile, rmErr)
		}
	}
}

// serveAdmin runs the read-only admin/stats HTTP surface until it errors or
// is shut down.
func (d *Daemon) serveAdmin() error {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stats": d.stats.Snapshot()})
	})
	r.GET("/rules", func(c *gin.Context) {
		rec := d.rec.Load()
		c.JSON(http.StatusOK, gin.H{
			"acl_rules":      rec.ACL.Len(),
			"upstream_rules": rec.Upstreams.Len(),
			"connect_ports":  rec.ConnectPorts.Len(),
		})
	})

	d.server = &http.Server{Addr: d.opts.AdminAddr, Handler: r}

	err := d.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("daemon: admin server: %w", err)
	}

	return nil
}

// EvaluateACL checks whether a connecting peer is allowed, updating stats.
func (d *Daemon) EvaluateACL(ctx context.Context, peerIP, peerHost string) acl.Access {
	verdict := d.rec.Load().ACL.Evaluate(ctx, peerIP, peerHost)
	if verdict == acl.Allow {
		d.stats.Incr(stats.KeyACLAllowed)
	} else {
		d.stats.Incr(stats.KeyACLDenied)
	}

	return verdict
}

// CheckConnectPort checks whether port may be used as a CONNECT target,
// updating stats on denial.
func (d *Daemon) CheckConnectPort(port int) bool {
	ok := d.rec.Load().ConnectPorts.Check(port)
	if !ok {
		d.stats.Incr(stats.KeyConnectPortDenied)
	}

	return ok
}

// maxLoggedHostLen bounds how much of a hostname is logged verbatim.
const maxLoggedHostLen = 64

// LookupUpstream consults the C4 upstream router for host, the final
// policy decision point in the connection pipeline, updating the
// upstream hit/miss counters.
func (d *Daemon) LookupUpstream(host string) (upstream.Proxy, bool) {
	proxy, ok := d.rec.Load().Upstreams.Lookup(host)
	if ok {
		d.stats.Incr(stats.KeyUpstreamHits)
	} else {
		d.stats.Incr(stats.KeyUpstreamMisses)
		log.Debug("daemon: no upstream rule matched %q", utils.ShortText(host, maxLoggedHostLen))
	}

	return proxy, ok
}

// BuildTransparentRequest reconstructs the destination of an intercepted
// request via C5 and, when transparent mode is active, rejects requests
// that would loop the connection back onto the proxy's own listen
// address, updating the self-reference-denial counter. ok is false only
// for that rejection; the reconstructed request is always returned.
func (d *Daemon) BuildTransparentRequest(
	hostHeader string,
	origDst transparent.OriginalDestination,
	path string,
) (transparent.Request, bool) {
	req := transparent.Build(hostHeader, origDst, path)

	rec := d.rec.Load()
	if !rec.Transparent {
		return req, true
	}

	if transparent.SelfReferenceCheck(req, rec.ListenAddress) {
		d.stats.Incr(stats.KeyTransparentSelfDeny)
		log.Info("daemon: rejecting transparent self-reference to %q", utils.ShortText(req.Host, maxLoggedHostLen))

		return req, false
	}

	return req, true
}
