// Package rpcclient is the minimal RPC round-trip used by every process
// that talks to authd as a peer instead of hosting it: the admin CLI and
// the NSS client cache. It speaks the exact framing internal/rpc serves
// (length-delimited JSON request/response) but owns none of the session
// state machine, mirroring how frekui/opaque's cmd/client is a thin
// peer of cmd/server's protocol rather than a reimplementation of it.
package rpcclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosi-lab/authd/internal/rpc"
)

// Client is one RPC connection to authd. Calls are serialized with a
// mutex: the wire protocol is one request in flight at a time per
// connection, matching how internal/rpc.Serve processes one session's
// requests in order.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	next    atomic.Uint64
	timeout time.Duration
}

// New wraps an already-established connection (typically *tls.Conn) as an
// RPC client.
func New(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// SetTimeout sets the per-call deadline applied to every subsequent Call:
// it is stamped into the request envelope and enforced locally as a
// connection deadline. Zero means no deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with params marshaled as the request body and
// unmarshals the result into out (which may be nil for methods with no
// meaningful result). Returns the apierr.Error reconstructed from the wire
// ErrorPayload on failure.
func (c *Client) Call(method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var paramsRaw json.RawMessage
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		paramsRaw = raw
	}

	req := rpc.Request{
		ID:     c.next.Add(1),
		Method: method,
		Params: paramsRaw,
	}
	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		req.Deadline = deadline.UnixMilli()
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := rpc.WriteFrame(c.conn, req); err != nil {
		return fmt.Errorf("writing %s request: %w", method, err)
	}

	var resp rpc.Response
	if err := rpc.ReadFrame(c.conn, &resp); err != nil {
		if err == io.EOF {
			return fmt.Errorf("reading %s response: connection closed", method)
		}
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.Error != nil {
		return rpc.ParseErrorPayload(resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("unmarshaling %s result: %w", method, err)
		}
	}
	return nil
}
