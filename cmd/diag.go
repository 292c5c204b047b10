// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/diag"
)

var (
	diagIface  string
	diagPort   int
	diagPromis bool
)

// diagCmd groups the wire-diagnostic subcommands; it never touches the
// daemon or its control socket, so it works standalone against any
// running ztpipe instance (or a third party's, for interop debugging).
var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Wire-level diagnostics",
}

// diagSniffCmd opens a live pcap capture filtered to the overlay's UDP
// port and logs each decoded ztpipe frame header it sees, until
// interrupted.
var diagSniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Capture and decode ztpipe frames on the wire",
	Long: `Open a live packet capture on --iface, filtered to --port, and log the
12-byte header of every ztpipe frame observed.

This is a debug tool only: the daemon's own data path never runs
through pcap (spec.md §4.6 — the overlay library owns the physical UDP
sockets). Requires packet-capture privileges (CAP_NET_RAW or root).`,
	Run: func(cmd *cobra.Command, args []string) {
		runDiagSniff()
	},
}

func init() {
	diagSniffCmd.Flags().StringVar(&diagIface, "iface", "lo", "network interface to capture on")
	diagSniffCmd.Flags().IntVar(&diagPort, "port", 9993, "UDP port to filter on")
	diagSniffCmd.Flags().BoolVar(&diagPromis, "promiscuous", false, "put the interface into promiscuous mode")

	diagCmd.AddCommand(diagSniffCmd)
	rootCmd.AddCommand(diagCmd)
}

func runDiagSniff() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := diag.SniffConfig{
		Interface:   diagIface,
		Port:        diagPort,
		Promiscuous: diagPromis,
	}
	if err := diag.Sniff(ctx, cfg); err != nil && err != context.Canceled {
		exitWithError("diag sniff failed", err)
	}
}
