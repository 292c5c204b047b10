// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zt-overlay/ztpipe/internal/config"
	"github.com/zt-overlay/ztpipe/internal/overlay"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

var (
	dialPeer    string
	dialTimeout time.Duration
	dialPayload string
)

// dialCmd is a one-shot diagnostic: open a Node, join the target
// network, dial the given pipe address, send one message, and print
// whatever comes back (spec.md §8 scenario 1).
var dialCmd = &cobra.Command{
	Use:   "dial <zt://nwid/node:port>",
	Short: "Dial a pipe and send a message",
	Long: `Open a Node, join the dialed network, establish a pipe to the given
address, send a message, and print any reply.

Since the real virtual-L2 overlay library is out of scope, this command
drives internal/overlay.Static; --peer tells it the physical host:port
to reach the remote node at (the overlay has no discovery of its own).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runDialCommand(args[0])
	},
}

func init() {
	dialCmd.Flags().StringVar(&dialPeer, "peer", "",
		"physical host:port of the remote node (required, overlay has no discovery)")
	dialCmd.Flags().DurationVar(&dialTimeout, "timeout", 10*time.Second,
		"dial/receive timeout")
	dialCmd.Flags().StringVar(&dialPayload, "message", "hello",
		"message payload to send")
}

func runDialCommand(rawURL string) {
	if dialPeer == "" {
		exitWithError("--peer host:port is required", nil)
	}

	u, err := zt.ParseDialURL(rawURL)
	if err != nil {
		exitWithError("invalid dial URL", err)
	}

	peerAddr, err := net.ResolveUDPAddr("udp", dialPeer)
	if err != nil {
		exitWithError("invalid --peer address", err)
	}
	peerEp := udpEndpointFromUDPAddr(peerAddr)

	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}

	peers := overlay.PeerTable{u.NodeID: peerEp}
	newOverlay := overlay.NewAuto(0, peers)

	pipeCfg := zt.PipeConfig{
		FragmentSize: cfg.Pipe.FragmentSize,
		RecvQ:        cfg.Pipe.RecvQ,
		RecvMaxSize:  cfg.Pipe.RecvMaxSize,
	}
	node, err := zt.OpenNode(cfg.Node.Home, 0, pipeCfg, newOverlay)
	if err != nil {
		exitWithError("failed to open node", err)
	}
	defer zt.CloseNode(cfg.Node.Home)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := node.JoinNetwork(ctx, u.NWID); err != nil {
		exitWithError("failed to join network", err)
	}

	local := zt.NewAddress(node.Address(), 0)
	remote := zt.NewAddress(u.NodeID, u.Port)

	pipe, err := node.Dial(ctx, local, remote, 0)
	if err != nil {
		exitWithError("dial failed", err)
	}
	defer pipe.Close()

	fmt.Fprintf(os.Stderr, "connected: local=%s remote=%s\n", pipe.Local(), pipe.Remote())

	if err := pipe.Send([]byte(dialPayload)); err != nil {
		exitWithError("send failed", err)
	}

	deadline := time.Now().Add(dialTimeout)
	for time.Now().Before(deadline) {
		if msg, ok := pipe.Receive(); ok {
			fmt.Printf("%s\n", msg)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "no reply received within timeout")
}

func udpEndpointFromUDPAddr(addr *net.UDPAddr) zt.UDPEndpoint {
	var ep zt.UDPEndpoint
	ip16 := addr.IP.To16()
	copy(ep.IP[:], ip16)
	ep.Port = uint16(addr.Port)
	ep.Zone = addr.Zone
	return ep
}
