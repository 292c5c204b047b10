package command

import (
	"fmt"

	"github.com/zt-overlay/ztpipe/internal/zt"
)

// addressOf reinterprets a raw uint64 (as carried over JSON) as a zt
// Address.
func addressOf(raw uint64) zt.Address {
	return zt.Address(raw)
}

// pipeStatsJSON renders a zt.PipeStats snapshot as a JSON-friendly map.
func pipeStatsJSON(s zt.PipeStats) map[string]interface{} {
	return map[string]interface{}{
		"local":         fmt.Sprintf("%016x", uint64(s.Local)),
		"remote":        fmt.Sprintf("%016x", uint64(s.Remote)),
		"sp_proto":      s.SPProto,
		"fragment_size": s.FragmentSize,
		"recv_max_size": s.RecvMaxSize,
		"closed":        s.Closed,
		"last_recv_ago": s.LastRecvAgo.String(),
	}
}
