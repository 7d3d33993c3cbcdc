package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client talks to a running daemon. It prefers the Unix socket and falls
// back to the TCP port.
type Client struct {
	socketPath string
	port       int
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a client.
func NewClient(socketPath string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{socketPath: socketPath, port: port, timeout: timeout}
}

func (c *Client) connect() (net.Conn, error) {
	if c.socketPath != "" {
		if conn, err := net.DialTimeout("unix", c.socketPath, c.timeout); err == nil {
			return conn, nil
		}
	}
	if c.port != 0 {
		return net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", c.port), c.timeout)
	}
	return nil, fmt.Errorf("daemon unreachable")
}

// IsRunning checks whether the daemon accepts connections.
func (c *Client) IsRunning() bool {
	conn, err := c.connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Call issues one request and decodes the result into out (when non-nil).
func (c *Client) Call(ctx context.Context, method string, callParams any, out any) error {
	conn, err := c.connect()
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	id := c.requestID.Add(1)
	req := Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
	}
	if callParams != nil {
		raw, err := json.Marshal(callParams)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return fmt.Errorf("connection closed before response")
	}

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Ping checks daemon responsiveness.
func (c *Client) Ping(ctx context.Context) error {
	var out map[string]bool
	if err := c.Call(ctx, MethodPing, nil, &out); err != nil {
		return err
	}
	if !out["pong"] {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}
