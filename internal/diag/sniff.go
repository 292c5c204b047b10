// Package diag provides an opt-in, off-path wire diagnostic for
// inspecting ztpipe traffic as it crosses a physical interface. It has
// no role in the transport's own data path (spec.md §4.6: the overlay
// library owns wire I/O via Node's UDP sockets) — this package exists
// purely so an operator can confirm what a ztpipe frame looks like on
// the wire without instrumenting the daemon itself. Grounded on the
// teacher's gopacket/pcap-based capture lineage (internal/source/
// afpacket, plugins/capture/afpacket), retargeted from a packet-capture
// pipeline source to a one-shot debug sniffer.
package diag

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/zt-overlay/ztpipe/internal/log"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

// SniffConfig configures a live capture session.
type SniffConfig struct {
	// Interface is the network device to capture on (e.g. "eth0",
	// "lo").
	Interface string
	// Port is the UDP port the overlay's physical socket is bound to;
	// the BPF filter narrows capture to this port in both directions.
	Port int
	// SnapLen bounds how many bytes of each packet are captured.
	SnapLen int
	// Promiscuous puts the interface into promiscuous mode, needed to
	// see traffic not addressed to this host.
	Promiscuous bool
}

// frameInfo is what Sniff logs per decoded wire frame: the 12-byte
// header fields from spec.md §3, with no further opcode-body decoding
// (a debug tool has no need to reimplement C3's strict validation).
type frameInfo struct {
	op      zt.Opcode
	version uint16
	dstPort uint32
	srcPort uint32
	bodyLen int
}

// Sniff opens a live pcap handle on cfg.Interface filtered to
// cfg.Port, and logs one line per UDP datagram whose payload looks like
// a ztpipe frame, until ctx is canceled or handle.Close returns. It
// tolerates (and logs, at debug level) payloads that don't parse: a
// sniffer observes whatever crosses the wire, including non-ztpipe UDP
// traffic sharing the port during a transition.
func Sniff(ctx context.Context, cfg SniffConfig) error {
	snaplen := cfg.SnapLen
	if snaplen <= 0 {
		snaplen = 65536
	}

	handle, err := pcap.OpenLive(cfg.Interface, int32(snaplen), cfg.Promiscuous, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("ztpipe: diag: open %s: %w", cfg.Interface, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", cfg.Port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("ztpipe: diag: set filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := source.Packets()

	logger := log.GetLogger()
	if logger != nil {
		logger.WithFields(map[string]interface{}{
			"iface": cfg.Interface,
			"port":  cfg.Port,
		}).Info("ztpipe: diag: sniffing")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			handlePacket(pkt, logger)
		}
	}
}

func handlePacket(pkt gopacket.Packet, logger log.Logger) {
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return
	}
	payload := udp.Payload

	info, err := decodeFrameInfo(payload)
	if err != nil {
		if logger != nil {
			logger.WithError(err).Debug("ztpipe: diag: non-ztpipe UDP payload")
		}
		return
	}
	if logger != nil {
		logger.WithFields(map[string]interface{}{
			"op":       info.op.String(),
			"version":  info.version,
			"src_port": info.srcPort,
			"dst_port": info.dstPort,
			"body_len": info.bodyLen,
		}).Info("ztpipe: diag: frame")
	}
}

// decodeFrameInfo parses the fixed 12-byte header (spec.md §3) without
// the stricter reject/reply semantics internal/zt's own decoder applies
// on the data path: a diagnostic only reports what it sees.
func decodeFrameInfo(data []byte) (frameInfo, error) {
	if len(data) < zt.FrameHeaderSize {
		return frameInfo{}, fmt.Errorf("ztpipe: diag: short frame (%d bytes)", len(data))
	}
	version := binary.BigEndian.Uint16(data[2:4])
	dstPort := uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
	srcPort := uint32(data[9])<<16 | uint32(data[10])<<8 | uint32(data[11])
	return frameInfo{
		op:      zt.Opcode(data[0]),
		version: version,
		dstPort: dstPort,
		srcPort: srcPort,
		bodyLen: len(data) - zt.FrameHeaderSize,
	}, nil
}
