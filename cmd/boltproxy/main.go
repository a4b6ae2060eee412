// Package main provides the boltproxy CLI entry point: a transparent Bolt
// proxy that relays and logs every message between a client and an
// upstream Bolt server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nornic-labs/boltkit/pkg/metrics"
	"github.com/nornic-labs/boltkit/pkg/proxy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	var (
		listenAddr  string
		upstream    string
		verbose     bool
		metricsAddr string
	)

	rootCmd := &cobra.Command{
		Use:   "boltproxy --upstream host:port",
		Short: "boltproxy - a transparent, logging Bolt protocol proxy",
		Long: `boltproxy listens for Bolt driver connections, forwards the
handshake and every subsequent message unchanged to an upstream server,
and logs each message's symbolic name and fields as it passes through.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if upstream == "" {
				return fmt.Errorf("boltproxy: --upstream is required")
			}
			return run(listenAddr, upstream, verbose, metricsAddr)
		},
	}

	rootCmd.Flags().StringVar(&listenAddr, "listen", proxy.DefaultListenAddr, "address to listen on")
	rootCmd.Flags().StringVar(&upstream, "upstream", "", "upstream Bolt server address (host:port)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boltproxy v%s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(listenAddr, upstream string, verbose bool, metricsAddr string) error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	reg := metrics.NewRegistry()
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", reg.Handler())
			log.WithField("addr", metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	srv := proxy.NewServer(listenAddr, upstream, proxy.WithLogger(log), proxy.WithMetrics(reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("proxying %s -> %s\n", listenAddr, upstream)
	return srv.Run(ctx)
}
