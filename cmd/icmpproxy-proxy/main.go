// Command icmpproxy-proxy runs the privileged half of the reachability
// probe: it binds a UDP listener for clients and translates each request
// into a real ICMP Echo toward an arbitrary target host.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/guojing7/icmpproxy/internal/privileges"
	"github.com/guojing7/icmpproxy/internal/proxy"
)

func main() {
	var (
		port    int
		verbose bool
	)

	pflag.IntVarP(&port, "port", "p", 7676, "UDP port to listen for client probes on")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) logs")
	pflag.Parse()

	if port <= 0 || port > 65535 {
		fmt.Fprintln(os.Stderr, "error: --port must be between 1 and 65535")
		os.Exit(2)
	}

	if err := privileges.Require(); err != nil {
		fmt.Fprintf(os.Stderr, "privileges check failed: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := proxy.New(proxy.Config{Logger: log, Port: port})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start proxy: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	log.Info("icmpproxy-proxy started", "port", port)
	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "proxy error: %v\n", err)
		os.Exit(1)
	}
}
