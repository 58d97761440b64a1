package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
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

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
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
	scanner.Buffer(make([]byte, 0, 4096), maxRequestSize)
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
	if respID := fmt.Sprintf("%v", jsonrpcResp.ID); respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     reqID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// invoke calls method and decodes its result into out, which may be nil.
// A JSON-RPC error comes back as *ErrorInfo.
func (c *UDSClient) invoke(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return decodeResult(resp.Result, out)
}

func decodeResult(result, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Status returns the daemon and stack status.
func (c *UDSClient) Status(ctx context.Context) (*DaemonStatus, error) {
	var st DaemonStatus
	if err := c.invoke(ctx, "daemon_status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// BufferStats returns the buffer pool counters.
func (c *UDSClient) BufferStats(ctx context.Context) (buffer.Stats, error) {
	var st buffer.Stats
	err := c.invoke(ctx, "buffer_stats", nil, &st)
	return st, err
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.invoke(ctx, "daemon_shutdown", nil, nil)
}

// ConfigReload asks the daemon to re-read its log settings.
func (c *UDSClient) ConfigReload(ctx context.Context) error {
	return c.invoke(ctx, "config_reload", nil, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}

func (c *UDSClient) ARPSet(ctx context.Context, params ARPSetParams) error {
	return c.invoke(ctx, "arp_set", params, nil)
}

func (c *UDSClient) ARPDelete(ctx context.Context, address string) error {
	return c.invoke(ctx, "arp_delete", AddressParams{Address: address}, nil)
}

func (c *UDSClient) ARPList(ctx context.Context) ([]arp.Info, error) {
	var out struct {
		Entries []arp.Info `mapstructure:"entries"`
	}
	err := c.invoke(ctx, "arp_list", nil, &out)
	return out.Entries, err
}

func (c *UDSClient) RouteAdd(ctx context.Context, params RouteParams) error {
	return c.invoke(ctx, "route_add", params, nil)
}

func (c *UDSClient) RouteDelete(ctx context.Context, prefix string) error {
	return c.invoke(ctx, "route_delete", RouteParams{Prefix: prefix}, nil)
}

func (c *UDSClient) RouteLookup(ctx context.Context, address string) (route.Info, error) {
	var info route.Info
	err := c.invoke(ctx, "route_lookup", AddressParams{Address: address}, &info)
	return info, err
}

func (c *UDSClient) RouteDefault(ctx context.Context, family string) (route.Info, error) {
	var info route.Info
	err := c.invoke(ctx, "route_default", FamilyParams{Family: family}, &info)
	return info, err
}

func (c *UDSClient) RouteList(ctx context.Context, family string) ([]route.Info, error) {
	var out struct {
		Routes []route.Info `mapstructure:"routes"`
	}
	err := c.invoke(ctx, "route_list", FamilyParams{Family: family}, &out)
	return out.Routes, err
}

func (c *UDSClient) SocketOpen(ctx context.Context, params SocketOpenParams) (SocketResult, error) {
	var res SocketResult
	err := c.invoke(ctx, "socket_open", params, &res)
	return res, err
}

func (c *UDSClient) SocketClose(ctx context.Context, sd int) error {
	return c.invoke(ctx, "socket_close", SocketParams{SD: sd}, nil)
}

func (c *UDSClient) SocketList(ctx context.Context) ([]socket.Info, error) {
	var out struct {
		Sockets []socket.Info `mapstructure:"sockets"`
	}
	err := c.invoke(ctx, "socket_list", nil, &out)
	return out.Sockets, err
}

func (c *UDSClient) SockoptGet(ctx context.Context, params SockoptParams) (SockoptResult, error) {
	var res SockoptResult
	err := c.invoke(ctx, "sockopt_get", params, &res)
	return res, err
}

func (c *UDSClient) SockoptSet(ctx context.Context, params SockoptParams) (SockoptResult, error) {
	var res SockoptResult
	err := c.invoke(ctx, "sockopt_set", params, &res)
	return res, err
}

func (c *UDSClient) Ioctl(ctx context.Context, params IoctlParams) (IoctlResult, error) {
	var res IoctlResult
	err := c.invoke(ctx, "dev_ioctl", params, &res)
	return res, err
}

func (c *UDSClient) Devices(ctx context.Context) ([]device.Info, error) {
	var out struct {
		Devices []device.Info `mapstructure:"devices"`
	}
	err := c.invoke(ctx, "dev_list", nil, &out)
	return out.Devices, err
}
