// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/command"
)

// reloadCmd represents the reload command
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the ztpipe daemon configuration",
	Long: `Reload the global configuration of the ztpipe daemon.

This command sends a config_reload request to the running daemon via Unix Domain Socket.
The daemon re-reads its global configuration file without restarting.

Note: open nodes, the running logger and the metrics server keep their startup settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReloadCommand()
	},
}

func runReloadCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	// Send reload command
	fmt.Println("Sending reload signal to daemon...")
	resp, err := client.ConfigReload(ctx)
	if err != nil {
		exitWithError("failed to send reload command", err)
	}

	if resp.Error != nil {
		exitWithError(fmt.Sprintf("config_reload failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Configuration reloaded successfully.")
}
