// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/command"
	"github.com/zt-overlay/ztpipe/internal/daemon"
)

var stopForce bool

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ztpipe daemon",
	Long: `Stop the ztpipe daemon gracefully.

This command sends a daemon_shutdown command to the running daemon via
Unix Domain Socket. The daemon closes its Node (and any open pipes) and
exits cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false,
		"SIGTERM the daemon process from its PID file if the control socket doesn't respond")
}

func runStopCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		if stopForce {
			if kerr := daemon.StopDaemon(socketPath, pidFile); kerr != nil {
				exitWithError("daemon is not running or socket is inaccessible", err)
			}
			fmt.Println("Daemon killed (force).")
			return
		}
		exitWithError("daemon is not running or socket is inaccessible (retry with --force)", err)
	}

	resp, err := client.DaemonShutdown(ctx)
	if err != nil {
		exitWithError("failed to send shutdown command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon_shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Daemon shutdown requested.")
}
