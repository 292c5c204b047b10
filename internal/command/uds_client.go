// Package command implements command channels.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	// Create connection with timeout
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	// Create JSON-RPC request
	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano()) // Use string ID
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	// Send request
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	// Parse JSON-RPC response
	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Verify response ID matches (convert both to string for comparison)
	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	// Convert to internal Response format
	resp := &Response{
		ID:     fmt.Sprintf("%v", jsonrpcResp.ID),
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

// ListNodes is a convenience method for the list_nodes command.
func (c *UDSClient) ListNodes(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "list_nodes", nil)
}

// ListPipes is a convenience method for the list_pipes command.
func (c *UDSClient) ListPipes(ctx context.Context, jobID int) (*Response, error) {
	return c.Call(ctx, "list_pipes", PipeStatsParams{JobID: jobID})
}

// PipeStats is a convenience method for the pipe_stats command.
func (c *UDSClient) PipeStats(ctx context.Context, jobID int, local, remote uint64) (*Response, error) {
	return c.Call(ctx, "pipe_stats", PipeQueryParams{JobID: jobID, Local: local, Remote: remote})
}

// DaemonStatus is a convenience method for the daemon_status command.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

// ConfigReload is a convenience method for the config_reload command.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

// DaemonShutdown is a convenience method for the daemon_shutdown command.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// Ping sends a simple command to check if the daemon is alive. This is
// a convenience wrapper around list_nodes.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.ListNodes(ctx)
	return err
}
