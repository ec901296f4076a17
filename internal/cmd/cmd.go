// Package cmd is the proxy daemon's command-line entry point: it parses
// bootstrap options (disjoint from the C6 directive grammar parsed by
// internal/confload), then builds and runs an internal/daemon.Daemon until
// a termination signal arrives.
//
// Grounded on rafalfr-dnsproxy's root main.go: the Options struct with
// go-flags tags, the "--config-path" yaml pre-scan performed before the
// flags parser runs (so file-supplied values don't get clobbered by
// goFlags' own defaults), and the log-output/verbosity setup in run().
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	goFlags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/rafalfr/tinyproxy-go/internal/daemon"
)

// Options represents the daemon's bootstrap arguments: where to find the
// directive file, where to log, and how to expose the admin/stats surface.
// These are process-level knobs, not proxy policy — policy lives entirely
// in the directive file read by internal/confload.
type Options struct {
	// ConfigPath is the path to a yaml bootstrap file. Read directly (before
	// goFlags.Parse) so its values aren't overridden by goFlags' defaults,
	// mirroring main.go's own "--config-path" pre-scan.
	ConfigPath string `long:"config-path" description:"yaml bootstrap file with the options below" default:""`

	// ConfFile is the path to the C6 directive file (tinyproxy.conf-style).
	ConfFile string `yaml:"conf-file" short:"c" long:"conf-file" description:"Path to the proxy directive file" default:"/etc/tinyproxy-go/tinyproxy.conf"`

	// LogOutput is the path to the log file. If empty, logs go to stdout.
	LogOutput string `yaml:"output" short:"o" long:"output" description:"Path to the log file. If not set, write to stdout."`

	// StatsFile is where periodic stats snapshots are persisted.
	StatsFile string `yaml:"stats-file" long:"stats-file" description:"Path to the stats persistence file" default:"stats.json"`

	// AdminAddr is the listen address for the read-only admin/stats HTTP
	// surface.
	AdminAddr string `yaml:"admin-addr" short:"a" long:"admin-addr" description:"Listen address for the admin/stats HTTP surface" default:"127.0.0.1:8081"`

	// DNSServers are the DNS servers used to resolve ACL hostname patterns.
	// Empty means use the system resolver.
	DNSServers []string `yaml:"dns-servers" long:"dns-server" description:"DNS server to use for ACL hostname lookups, can be specified multiple times"`

	// Verbose controls log verbosity.
	Verbose bool `yaml:"verbose" short:"v" long:"verbose" description:"Verbose output" optional:"yes" optional-value:"true"`

	// Version, if true, prints the program version and exits.
	Version bool `yaml:"version" long:"version" description:"Print the program version"`
}

const version = "0.1.0"

// Main is the entrypoint of the proxy daemon CLI.
func Main() {
	options := &Options{}

	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "--config-path=") {
			path := strings.TrimPrefix(arg, "--config-path=")

			b, err := os.ReadFile(path)
			if err != nil {
				log.Fatalf("failed to read the bootstrap config %s: %v", path, err)
			}

			if err = yaml.Unmarshal(b, options); err != nil {
				log.Fatalf("failed to unmarshal the bootstrap config %s: %v", path, err)
			}
		}
	}

	parser := goFlags.NewParser(options, goFlags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *goFlags.Error
		if ok := goFlagsIsHelp(err, &flagsErr); ok {
			os.Exit(0)
		}

		os.Exit(1)
	}

	if options.Version {
		fmt.Printf("tinyproxy-go version: %s\n", version)

		os.Exit(0)
	}

	run(options)
}

// goFlagsIsHelp reports whether err is a goFlags help request, populating
// target for the caller.
func goFlagsIsHelp(err error, target **goFlags.Error) bool {
	flagsErr, ok := err.(*goFlags.Error)
	if !ok {
		return false
	}

	*target = flagsErr

	return flagsErr.Type == goFlags.ErrHelp
}

// run wires logging, builds the Daemon, and blocks until a termination
// signal is received.
func run(options *Options) {
	if options.Verbose {
		log.SetLevel(log.DEBUG)
	}

	if options.LogOutput != "" {
		// #nosec G302 -- Trust the file path that is given in the
		// configuration.
		file, err := os.OpenFile(options.LogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Printf("cannot create a log file: %s\n", err)
		} else {
			defer func() { _ = file.Close() }()
			log.SetOutput(file)
		}
	}

	log.Info("tinyproxy-go starting, version %s", version)

	d, err := daemon.New(daemon.Options{
		ConfigPath: options.ConfFile,
		StatsFile:  options.StatsFile,
		AdminAddr:  options.AdminAddr,
		DNSServers: options.DNSServers,
	})
	if err != nil {
		log.Fatalf("cannot build daemon: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	reloadChannel := make(chan os.Signal, 1)
	signal.Notify(reloadChannel, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-reloadChannel:
				log.Info("received SIGHUP, reloading configuration")

				if rErr := d.Reload(); rErr != nil {
					log.Error("reload failed: %s", rErr)
				}
			case <-signalChannel:
				log.Info("shutting down...")
				d.Shutdown()

				return
			}
		}
	}()

	if err = d.Run(ctx); err != nil {
		log.Fatalf("daemon exited with error: %s", err)
	}
}
