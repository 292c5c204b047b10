// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/config"
	"github.com/zt-overlay/ztpipe/internal/overlay"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

var (
	listenTimeout time.Duration
	listenEcho    bool
)

// listenCmd is a one-shot diagnostic: open a Node, join the target
// network, listen on the given address, accept one pipe, print
// whatever it receives, and optionally echo it back (spec.md §8
// scenario 1).
var listenCmd = &cobra.Command{
	Use:   "listen <zt://nwid[/node_or_*]:port>",
	Short: "Listen for one pipe and print what it receives",
	Long: `Open a Node, join the listened network, accept a single inbound
pipe, and print each message it delivers until the peer disconnects or
the timeout elapses.

The remote peer's physical endpoint is learned from the first inbound
packet (internal/overlay.Static), so no --peer flag is needed here.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runListenCommand(args[0])
	},
}

func init() {
	listenCmd.Flags().DurationVar(&listenTimeout, "timeout", 30*time.Second,
		"time to wait for a connection and subsequent messages")
	listenCmd.Flags().BoolVar(&listenEcho, "echo", true,
		"echo each received message back to the peer")
}

func runListenCommand(rawURL string) {
	u, err := zt.ParseListenURL(rawURL)
	if err != nil {
		exitWithError("invalid listen URL", err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}

	newOverlay := overlay.NewAuto(0, nil)

	pipeCfg := zt.PipeConfig{
		FragmentSize: cfg.Pipe.FragmentSize,
		RecvQ:        cfg.Pipe.RecvQ,
		RecvMaxSize:  cfg.Pipe.RecvMaxSize,
	}
	node, err := zt.OpenNode(cfg.Node.Home, cfg.Node.ListenPort, pipeCfg, newOverlay)
	if err != nil {
		exitWithError("failed to open node", err)
	}
	defer zt.CloseNode(cfg.Node.Home)

	ctx, cancel := context.WithTimeout(context.Background(), listenTimeout)
	defer cancel()

	if err := node.JoinNetwork(ctx, u.NWID); err != nil {
		exitWithError("failed to join network", err)
	}

	nodeID := u.NodeID
	if u.Wildcard {
		nodeID = 0
	}
	local := zt.NewAddress(nodeID, u.Port)

	l, bound, err := node.Listen(local)
	if err != nil {
		exitWithError("listen failed", err)
	}
	fmt.Fprintf(os.Stderr, "listening on %s\n", bound)

	deadline := time.Now().Add(listenTimeout)

	var pipe *zt.Pipe
	for pipe == nil && time.Now().Before(deadline) {
		if p, ok := node.Accept(l, bound, 0); ok {
			pipe = p
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if pipe == nil {
		exitWithError("no connection received within timeout", nil)
	}
	defer pipe.Close()

	fmt.Fprintf(os.Stderr, "accepted: local=%s remote=%s\n", pipe.Local(), pipe.Remote())

	for time.Now().Before(deadline) {
		msg, ok := pipe.Receive()
		if !ok {
			if pipe.Closed() {
				break
			}
			time.Sleep(20 * time.Millisecond)
			continue
		}
		fmt.Printf("%s\n", msg)
		if listenEcho {
			if err := pipe.Send(msg); err != nil {
				fmt.Fprintf(os.Stderr, "echo failed: %v\n", err)
			}
		}
	}
}
