// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/command"
	"github.com/zt-overlay/ztpipe/internal/daemon"
)

var statusAutostart bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the ztpipe daemon for its overall status.

Shows: version, uptime, and number of open nodes.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatusCommand()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusAutostart, "autostart", false,
		"start the daemon in the background first if it isn't already running")
}

func runStatusCommand() {
	if statusAutostart {
		if err := daemon.EnsureDaemonRunning(socketPath, pidFile, configFile); err != nil {
			exitWithError("failed to autostart daemon", err)
		}
	}

	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	// Ping to check daemon is alive
	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	// Get daemon status
	resp, err := client.Call(ctx, "daemon_status", nil)
	if err != nil {
		exitWithError("failed to query daemon status", err)
	}

	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon_status failed: %s", resp.Error.Message), nil)
	}

	resultJSON, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}

	fmt.Println(string(resultJSON))
}
