// Command icmpproxy-client is the unprivileged half of the reachability
// probe: it sends periodic probe requests to a proxy, waits for correlated
// replies, and prints a final summary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/guojing7/icmpproxy/internal/client"
)

func main() {
	var (
		proxyHost string
		proxyPort int
		count     uint32
		interval  time.Duration
		timeout   time.Duration
		length    uint16
		verbose   bool
		noColor   bool
	)

	pflag.StringVarP(&proxyHost, "proxy-host", "H", "127.0.0.1", "proxy's host/IP")
	pflag.IntVarP(&proxyPort, "proxy-port", "P", 7676, "proxy's UDP port")
	pflag.Uint32VarP(&count, "count", "c", 0, "number of probes to send; 0 means unbounded")
	pflag.DurationVarP(&interval, "interval", "i", time.Second, "delay between probes")
	pflag.DurationVarP(&timeout, "timeout", "t", 3*time.Second, "per-probe reply deadline")
	pflag.Uint16VarP(&length, "length", "l", 64, "requested ICMP datagram length")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) logs")
	pflag.BoolVar(&noColor, "no-color", false, "disable colored output")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: icmpproxy-client [flags] <target-host>")
		pflag.Usage()
		os.Exit(2)
	}
	targetHost := pflag.Arg(0)

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	targetAddr, err := net.ResolveIPAddr("ip", targetHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot resolve target %q: %v\n", targetHost, err)
		os.Exit(2)
	}
	proxyAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(proxyHost, fmt.Sprintf("%d", proxyPort)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot resolve proxy %s:%d: %v\n", proxyHost, proxyPort, err)
		os.Exit(2)
	}

	var countPtr *uint32
	if count != 0 {
		countPtr = &count
	}

	cfg := client.Config{
		Logger:    log,
		ProxyAddr: proxyAddr,
		Target:    targetAddr.IP,
		Count:     countPtr,
		Interval:  interval,
		Timeout:   timeout,
		Length:    length,
		Color:     !noColor && isatty.IsTerminal(os.Stdout.Fd()),
	}

	prober, err := client.New(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start client: %v\n", err)
		os.Exit(1)
	}
	defer prober.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("PING %s via proxy %s\n", targetAddr.IP, proxyAddr)
	if err := prober.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "probe loop error: %v\n", err)
	}

	client.PrintSummary(os.Stdout, prober.Stats().Snapshot())
}
