// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ztpipe",
	Short: "ztpipe - reliable pipes over a virtual L2 overlay",
	Long: `ztpipe is a reliable connection-oriented message transport layered on
top of a connectionless virtual L2 overlay network, presenting pipes to an
SP-style messaging library.

Features:
  - Fragmenting, best-effort-ordered-within-message pipes over UDP
  - A node manager that owns one refcounted overlay instance per home dir
  - Local control via CLI over a Unix Domain Socket`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ztpipe/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/ztpipe.sock",
		"daemon socket path")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
