// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zt-overlay/ztpipe/internal/scheduler"
)

// CommandHandler handles control plane commands issued over the UDS
// control channel. Grounded on the teacher's CommandHandler (same
// Command/Response/ErrorInfo JSON-RPC-over-UDS shape), retargeted from
// task-management methods to node/pipe introspection.
type CommandHandler struct {
	sched          *scheduler.Scheduler
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(sched *scheduler.Scheduler, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		sched:          sched,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "list_nodes", "pipe_stats"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "list_nodes":
		return h.handleListNodes(ctx, cmd)
	case "list_pipes":
		return h.handleListPipes(ctx, cmd)
	case "pipe_stats":
		return h.handlePipeStats(ctx, cmd)
	case "event_stats":
		return h.handleEventStats(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

// handleListNodes handles the list_nodes command: one entry per open
// Node (one per supervised home directory), as tracked by the
// scheduler's Job registry.
func (h *CommandHandler) handleListNodes(_ context.Context, cmd Command) Response {
	jobs := h.sched.ListJobs()
	nodes := make([]map[string]interface{}, 0, len(jobs))
	for _, j := range jobs {
		n := j.Node()
		nodes = append(nodes, map[string]interface{}{
			"job_id":  j.ID,
			"name":    j.Name,
			"home":    n.Home(),
			"network": fmt.Sprintf("%016x", n.Network()),
			"status":  j.Status(),
		})
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"nodes": nodes,
			"count": len(nodes),
		},
	}
}

// PipeStatsParams identifies which job's node to enumerate pipes for.
type PipeStatsParams struct {
	JobID int `json:"job_id"`
}

// handleListPipes handles the list_pipes command for one job's node.
func (h *CommandHandler) handleListPipes(_ context.Context, cmd Command) Response {
	var params PipeStatsParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	job, ok := h.sched.GetJob(params.JobID)
	if !ok {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("unknown job_id %d", params.JobID),
			},
		}
	}

	now := time.Now()
	pipes := job.Node().ListPipes()
	out := make([]map[string]interface{}, 0, len(pipes))
	for _, p := range pipes {
		s := p.Stats(now)
		out = append(out, pipeStatsJSON(s))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"pipes": out,
			"count": len(out),
		},
	}
}

// PipeQueryParams identifies a single pipe within a job's node.
type PipeQueryParams struct {
	JobID  int    `json:"job_id"`
	Local  uint64 `json:"local"`
	Remote uint64 `json:"remote"`
}

// handlePipeStats handles the pipe_stats command for a single pipe.
func (h *CommandHandler) handlePipeStats(_ context.Context, cmd Command) Response {
	var params PipeQueryParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	job, ok := h.sched.GetJob(params.JobID)
	if !ok {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("unknown job_id %d", params.JobID),
			},
		}
	}

	p, ok := job.Node().FindPipe(addressOf(params.Local), addressOf(params.Remote))
	if !ok {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "pipe not found",
			},
		}
	}

	return Response{
		ID:     cmd.ID,
		Result: pipeStatsJSON(p.Stats(time.Now())),
	}
}

// EventStatsParams identifies which job's node event bus to report on.
type EventStatsParams struct {
	JobID int `json:"job_id"`
}

// handleEventStats handles the event_stats command: publish/delivery
// counters for one job's node lifecycle event bus (spec §4.6 item 5).
func (h *CommandHandler) handleEventStats(_ context.Context, cmd Command) Response {
	var params EventStatsParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	job, ok := h.sched.GetJob(params.JobID)
	if !ok {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("unknown job_id %d", params.JobID),
			},
		}
	}

	stats := job.EventStats()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"published": stats.PublishedCount,
			"processed": stats.ProcessedCount,
			"queued":    stats.QueuedCount,
		},
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "config reloader not available",
			},
		}
	}

	if err := h.configReloader.Reload(); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: fmt.Sprintf("reload config failed: %v", err),
			},
		}
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "shutdown handler not registered",
			},
		}
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	jobs := h.sched.ListJobs()
	uptimeSeconds := time.Now().Unix() - h.startTime

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"version":    "0.1.0",
			"uptime_sec": uptimeSeconds,
			"node_count": len(jobs),
		},
	}
}
