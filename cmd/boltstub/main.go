// Package main provides the boltstub CLI entry point: a scriptable Bolt
// server for driver and tooling tests.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nornic-labs/boltkit/pkg/config"
	"github.com/nornic-labs/boltkit/pkg/fleet"
	"github.com/nornic-labs/boltkit/pkg/metrics"
	"github.com/nornic-labs/boltkit/pkg/script"
	"github.com/nornic-labs/boltkit/pkg/stub"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	var (
		host             string
		basePort         int
		timeout          time.Duration
		exitOnDisconnect bool
		verbose          bool
		fleetFile        string
		metricsAddr      string
	)

	rootCmd := &cobra.Command{
		Use:   "boltstub [scripts...]",
		Short: "boltstub - a scriptable Bolt protocol stub server",
		Long: `boltstub serves one or more Bolt scripts, each on its own port,
replying to incoming client messages with the canned responses the script
prescribes and failing loudly the moment a client sends something the
script didn't expect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(runOptions{
				scriptPaths:      args,
				fleetFile:        fleetFile,
				host:             host,
				basePort:         basePort,
				timeout:          timeout,
				exitOnDisconnect: exitOnDisconnect,
				verbose:          verbose,
				metricsAddr:      metricsAddr,
			})
		},
	}

	rootCmd.Flags().StringVar(&host, "host", "localhost", "listen host")
	rootCmd.Flags().IntVar(&basePort, "base-port", config.BasePort(), "first port assigned to a script with no PORT directive")
	rootCmd.Flags().DurationVar(&timeout, "timeout", config.IdleTimeout(), "time limit for the whole run, counted from start whether or not connections are active; exits with code 99 when reached")
	rootCmd.Flags().BoolVar(&exitOnDisconnect, "exit-on-disconnect", true, "stop each script's listener after its one connection ends")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&fleetFile, "fleet", "", "YAML fleet config listing multiple scripts and their ports")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boltstub v%s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(stub.ExitInternalError)
	}
}

type runOptions struct {
	scriptPaths      []string
	fleetFile        string
	host             string
	basePort         int
	timeout          time.Duration
	exitOnDisconnect bool
	verbose          bool
	metricsAddr      string
}

func run(opts runOptions) error {
	log := logrus.New()
	if opts.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	scripts, err := loadScripts(opts)
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		return fmt.Errorf("boltstub: no scripts given; pass script files or --fleet")
	}

	reg := metrics.NewRegistry()
	if opts.metricsAddr != "" {
		go serveMetrics(log, reg, opts.metricsAddr)
	}

	svc, err := stub.NewService(scripts, opts.basePort,
		stub.WithHost(opts.host),
		stub.WithTimeout(opts.timeout),
		stub.WithExitOnDisconnect(opts.exitOnDisconnect),
		stub.WithLogger(log),
		stub.WithMetrics(reg),
	)
	if err != nil {
		return err
	}

	for _, addr := range svc.Addresses() {
		fmt.Printf("listening on %s\n", addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		return err
	}

	code := svc.ExitCode()
	if ctx.Err() != nil && code == stub.ExitClean {
		code = stub.ExitInterrupted
	}
	if code != stub.ExitClean {
		os.Exit(code)
	}
	return nil
}

func loadScripts(opts runOptions) ([]*script.Script, error) {
	var scripts []*script.Script
	for _, path := range opts.scriptPaths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("boltstub: opening %s: %w", path, err)
		}
		sc, err := script.Load(f, path)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("boltstub: loading %s: %w", path, err)
		}
		scripts = append(scripts, sc)
	}

	if opts.fleetFile != "" {
		f, err := os.Open(opts.fleetFile)
		if err != nil {
			return nil, fmt.Errorf("boltstub: opening fleet config %s: %w", opts.fleetFile, err)
		}
		defer f.Close()
		fleetScripts, err := fleet.Load(f)
		if err != nil {
			return nil, fmt.Errorf("boltstub: parsing fleet config: %w", err)
		}
		scripts = append(scripts, fleetScripts...)
	}
	return scripts, nil
}

func serveMetrics(log *logrus.Logger, reg *metrics.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
