package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

var requestSeq atomic.Uint64

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client. A zero timeout means 10s.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends one request on a fresh connection and waits for its response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d-%d", time.Now().UnixNano(), requestSeq.Add(1))
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	respID := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     respID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// BlocklistAdd adds domains to the blocklist.
func (c *UDSClient) BlocklistAdd(ctx context.Context, domains ...string) (*Response, error) {
	return c.Call(ctx, "blocklist_add", DomainParams{Domains: domains})
}

// BlocklistRemove removes domains from the blocklist.
func (c *UDSClient) BlocklistRemove(ctx context.Context, domains ...string) (*Response, error) {
	return c.Call(ctx, "blocklist_remove", DomainParams{Domains: domains})
}

// BlocklistContains checks whether domains are blocked.
func (c *UDSClient) BlocklistContains(ctx context.Context, domains ...string) (*Response, error) {
	return c.Call(ctx, "blocklist_contains", DomainParams{Domains: domains})
}

// BlocklistList lists blocked domains.
func (c *UDSClient) BlocklistList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "blocklist_list", nil)
}

// BlocklistClear empties the blocklist.
func (c *UDSClient) BlocklistClear(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "blocklist_clear", nil)
}

// BlocklistReload refetches configured blocklist sources.
func (c *UDSClient) BlocklistReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "blocklist_reload", nil)
}

// EngineStart starts the tunnel loop.
func (c *UDSClient) EngineStart(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "engine_start", nil)
}

// EngineStop stops the tunnel loop.
func (c *UDSClient) EngineStop(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "engine_stop", nil)
}

// EngineStatus returns engine counters.
func (c *UDSClient) EngineStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "engine_status", nil)
}

// ConfigReload asks the daemon to reread its configuration.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

// DaemonStatus returns daemon version and uptime.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

// DaemonShutdown asks the daemon to exit.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	resp, err := c.DaemonStatus(ctx)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}
