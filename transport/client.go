package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a minimal synchronous client for a wasmcored socket: dial,
// write one request line, read one response line, close.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// Send dials SocketPath, writes req as one JSON line, and returns the
// single JSON response line the daemon writes back.
func (c Client) Send(req Request) (Response, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %q: %w", c.SocketPath, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	respLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// SendTyped marshals payload, sends a Request of type t, and unmarshals a
// successful response's Data into out (a pointer). On failure it returns
// the daemon's error message.
func (c Client) SendTyped(t RequestType, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	resp, err := c.Send(Request{Type: t, Payload: raw})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("re-encode response data: %w", err)
	}
	return json.Unmarshal(data, out)
}
