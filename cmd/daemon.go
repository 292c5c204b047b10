// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/config"
	"github.com/zt-overlay/ztpipe/internal/daemon"
	"github.com/zt-overlay/ztpipe/internal/overlay"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the ztpipe daemon in foreground",
	Long: `Run the ztpipe daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Open the default Node for node.home, bind node.listen_port, and join
     node.default_network (if set)
  4. Start the UDS server for CLI control
  5. Wait for signals: SIGTERM/SIGINT (shutdown), SIGHUP (config reload)`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "/var/run/ztpipe.pid",
		"PID file path")
}

func runDaemon() {
	d, err := daemon.New(configFile, socketPath, pidFile, daemonOverlayFactory(configFile))
	if err != nil {
		exitWithError("failed to initialize daemon", err)
	}

	if err := d.Start(); err != nil {
		exitWithError("failed to start daemon", err)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon exited: %v\n", err)
		os.Exit(1)
	}
}

// daemonOverlayFactory builds the NewOverlayFunc daemon.New wires into
// the node it opens. Since the real virtual-L2 overlay library is out
// of scope (spec.md §1), the daemon drives internal/overlay.Static, the
// minimal static-peer-table stand-in, keyed by node.id from the same
// config file the daemon itself loaded (0 if unset, meaning "persist a
// freshly generated identity under node.home").
func daemonOverlayFactory(configPath string) daemon.NewOverlayFunc {
	var nodeIDHint uint64
	if cfg, err := config.Load(configPath); err == nil {
		nodeIDHint = parseHexID(cfg.Node.ID)
	}
	return func(cb zt.OverlayCallbacks) (zt.Overlay, error) {
		return overlay.NewAuto(nodeIDHint, nil)(cb)
	}
}

func parseHexID(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 40)
	if err != nil {
		return 0
	}
	return v
}
