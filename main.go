// Package main is the entry point for the ztpipe daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/zt-overlay/ztpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
