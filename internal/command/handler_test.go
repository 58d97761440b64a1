package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/stack"
)

type mockReloader struct {
	mock.Mock
}

func (m *mockReloader) Reload() error {
	return m.Called().Error(0)
}

func newTestStack(t *testing.T) *stack.Stack {
	t.Helper()
	cfg := config.DefaultStackConfig()
	cfg.Buffers.Count = 32
	cfg.Buffers.Size = 256
	cfg.Sockets.Max = 8

	st, err := stack.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Shutdown() })

	_, err = st.CreateDevice(config.DeviceConfig{
		Name:    "eth0",
		Type:    "ethernet",
		HWAddr:  "02:00:00:00:00:10",
		Address: "192.0.2.10/24",
		MTU:     1500,
	})
	require.NoError(t, err)
	return st
}

func call(t *testing.T, h *CommandHandler, method string, params interface{}) Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	resp := h.Handle(context.Background(), Command{Method: method, Params: raw, ID: "req-" + method})
	assert.Equal(t, "req-"+method, resp.ID)
	return resp
}

func requireOK(t *testing.T, resp Response) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
}

func requireCode(t *testing.T, resp Response, code int) {
	t.Helper()
	require.NotNil(t, resp.Error, "expected error code %d", code)
	assert.Equal(t, code, resp.Error.Code, resp.Error.Message)
}

func TestHandleUnknownMethod(t *testing.T) {
	h := NewCommandHandler(newTestStack(t), nil)
	requireCode(t, call(t, h, "task_create", nil), ErrCodeMethodNotFound)
}

func TestHandleInvalidParams(t *testing.T) {
	h := NewCommandHandler(newTestStack(t), nil)
	resp := h.Handle(context.Background(), Command{Method: "route_add", Params: json.RawMessage(`{"prefix": 5}`), ID: "1"})
	requireCode(t, resp, ErrCodeInvalidParams)
}

func TestRouteCommands(t *testing.T) {
	h := NewCommandHandler(newTestStack(t), nil)

	requireOK(t, call(t, h, "route_add", RouteParams{Prefix: "10.0.0.0/8", NextHop: "192.0.2.1"}))
	requireCode(t, call(t, h, "route_add", RouteParams{Prefix: "10.0.0.0/8", Device: "eth0"}), ErrCodeExists)
	requireOK(t, call(t, h, "route_add", RouteParams{Prefix: "10.0.0.0/8", Device: "eth0", Replace: true}))
	requireCode(t, call(t, h, "route_add", RouteParams{Prefix: "10.0.0.0/40"}), ErrCodeInvalidParams)
	requireCode(t, call(t, h, "route_add", RouteParams{Prefix: "172.16.0.0/12", Device: "eth9"}), ErrCodeNotFound)

	resp := call(t, h, "route_lookup", AddressParams{Address: "10.9.9.9"})
	requireOK(t, resp)
	assert.Equal(t, "10.0.0.0/8", resp.Result.(route.Info).Prefix)
	assert.Equal(t, "eth0", resp.Result.(route.Info).Device)

	requireCode(t, call(t, h, "route_default", nil), ErrCodeNotFound)
	requireOK(t, call(t, h, "route_add", RouteParams{Prefix: "0.0.0.0/0", NextHop: "192.0.2.1"}))
	requireOK(t, call(t, h, "route_default", FamilyParams{Family: "inet"}))
	requireCode(t, call(t, h, "route_default", FamilyParams{Family: "ipx"}), ErrCodeInvalidParams)

	resp = call(t, h, "route_list", nil)
	requireOK(t, resp)
	assert.Equal(t, 3, resp.Result.(map[string]interface{})["count"], "connected, 10/8 and default")

	requireOK(t, call(t, h, "route_delete", RouteParams{Prefix: "10.0.0.0/8"}))
	requireCode(t, call(t, h, "route_delete", RouteParams{Prefix: "10.0.0.0/8"}), ErrCodeNotFound)
	requireCode(t, call(t, h, "route_lookup", AddressParams{Address: "not-an-ip"}), ErrCodeInvalidParams)
}

func TestARPCommands(t *testing.T) {
	h := NewCommandHandler(newTestStack(t), nil)

	requireOK(t, call(t, h, "arp_set", ARPSetParams{Address: "192.0.2.1", HWAddr: "02:00:00:00:00:01", Permanent: true}))
	requireOK(t, call(t, h, "arp_set", ARPSetParams{Address: "192.0.2.2", HWAddr: "02:00:00:00:00:02", TTL: "30s"}))
	requireCode(t, call(t, h, "arp_set", ARPSetParams{Address: "192.0.2.3", HWAddr: "bogus"}), ErrCodeInvalidParams)
	requireCode(t, call(t, h, "arp_set", ARPSetParams{Address: "192.0.2.3", HWAddr: "02:00:00:00:00:03", TTL: "soon"}), ErrCodeInvalidParams)

	resp := call(t, h, "arp_list", nil)
	requireOK(t, resp)
	assert.Equal(t, 2, resp.Result.(map[string]interface{})["count"])

	requireOK(t, call(t, h, "arp_delete", AddressParams{Address: "192.0.2.2"}))
	requireCode(t, call(t, h, "arp_delete", AddressParams{Address: "192.0.2.2"}), ErrCodeNotFound)
}

func TestSocketCommands(t *testing.T) {
	h := NewCommandHandler(newTestStack(t), nil)

	port := uint16(5353)
	resp := call(t, h, "socket_open", SocketOpenParams{Type: "dgram", Port: &port})
	requireOK(t, resp)
	sock := resp.Result.(SocketResult)
	assert.Equal(t, port, sock.Port)

	requireCode(t, call(t, h, "socket_open", SocketOpenParams{Type: "dgram", Port: &port}), ErrCodeExists)
	requireCode(t, call(t, h, "socket_open", SocketOpenParams{Type: "seqpacket"}), ErrCodeInvalidParams)

	tests := []struct {
		level, name, value, want string
	}{
		{"ip", "ttl", "17", "17"},
		{"ip", "multicast_if", "192.0.2.10", "192.0.2.10"},
		{"socket", "broadcast", "on", "1"},
		{"socket", "linger", "on,5", "on,5"},
		{"udp", "nochecksum", "on", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.name, func(t *testing.T) {
			requireOK(t, call(t, h, "sockopt_set", SockoptParams{SD: sock.SD, Level: tt.level, Name: tt.name, Value: tt.value}))
			resp := call(t, h, "sockopt_get", SockoptParams{SD: sock.SD, Level: tt.level, Name: tt.name})
			requireOK(t, resp)
			assert.Equal(t, tt.want, resp.Result.(SockoptResult).Value)
		})
	}

	requireCode(t, call(t, h, "sockopt_set", SockoptParams{SD: sock.SD, Level: "tcp", Name: "nodelay", Value: "1"}), ErrCodeUnsupported)
	requireCode(t, call(t, h, "sockopt_set", SockoptParams{SD: sock.SD, Level: "ip", Name: "ttl", Value: "0"}), ErrCodeInvalidParams)
	requireCode(t, call(t, h, "sockopt_get", SockoptParams{SD: 7, Level: "ip", Name: "ttl"}), ErrCodeInvalidSocket)
	requireCode(t, call(t, h, "sockopt_get", SockoptParams{SD: sock.SD, Level: "ip", Name: "nonsense"}), ErrCodeInvalidParams)

	resp = call(t, h, "socket_list", nil)
	requireOK(t, resp)
	assert.Equal(t, 1, resp.Result.(map[string]interface{})["count"])

	requireOK(t, call(t, h, "socket_close", SocketParams{SD: sock.SD}))
	requireCode(t, call(t, h, "socket_close", SocketParams{SD: sock.SD}), ErrCodeInvalidSocket)
}

func TestDeviceCommands(t *testing.T) {
	h := NewCommandHandler(newTestStack(t), nil)

	tests := []struct {
		request, value, want string
	}{
		{"SIOCGIFMTU", "", "1500"},
		{"SIOCSIFMTU", "9000", "9000"},
		{"siocgifmtu", "", "9000"},
		{"SIOCGIFHWADDR", "", "02:00:00:00:00:10"},
		{"SIOCGIFADDR", "", "192.0.2.10"},
		{"SIOCGIFNETMASK", "", "255.255.255.0"},
		{"SIOCGIFBRDADDR", "", "192.0.2.255"},
		{"SIOCGIFINDEX", "", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			resp := call(t, h, "dev_ioctl", IoctlParams{Device: "eth0", Request: tt.request, Value: tt.value})
			requireOK(t, resp)
			assert.Equal(t, tt.want, resp.Result.(IoctlResult).Value)
		})
	}

	requireCode(t, call(t, h, "dev_ioctl", IoctlParams{Device: "eth9", Request: "SIOCGIFMTU"}), ErrCodeNotFound)
	requireCode(t, call(t, h, "dev_ioctl", IoctlParams{Device: "eth0", Request: "SIOCSIFMTU", Value: "12"}), ErrCodeInvalidParams)
	requireCode(t, call(t, h, "dev_ioctl", IoctlParams{Device: "eth0", Request: "0x1234"}), ErrCodeUnsupported)
	requireCode(t, call(t, h, "dev_ioctl", IoctlParams{Device: "eth0", Request: "SIOCFROB"}), ErrCodeInvalidParams)

	resp := call(t, h, "dev_list", nil)
	requireOK(t, resp)
	assert.Equal(t, 1, resp.Result.(map[string]interface{})["count"])
}

func TestDaemonCommands(t *testing.T) {
	reloader := &mockReloader{}
	h := NewCommandHandler(newTestStack(t), reloader)

	resp := call(t, h, "daemon_status", nil)
	requireOK(t, resp)
	st := resp.Result.(DaemonStatus)
	assert.Equal(t, Version, st.Version)
	assert.Equal(t, 1, st.Stack.Devices)
	assert.Equal(t, 32, st.Stack.Buffers.Total)

	resp = call(t, h, "buffer_stats", nil)
	requireOK(t, resp)

	reloader.On("Reload").Return(nil).Once()
	requireOK(t, call(t, h, "config_reload", nil))
	reloader.On("Reload").Return(errors.New("bad file")).Once()
	requireCode(t, call(t, h, "config_reload", nil), ErrCodeInternalError)
	reloader.AssertExpectations(t)

	requireCode(t, call(t, h, "daemon_shutdown", nil), ErrCodeInternalError)
	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })
	requireOK(t, call(t, h, "daemon_shutdown", nil))
	<-done
}

func TestErrorInfoUnwrap(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{core.ErrInvalidSocket, ErrCodeInvalidSocket},
		{core.ErrInvalidParameter, ErrCodeInvalidParams},
		{core.ErrRouteExists, ErrCodeExists},
		{core.ErrNotFound, ErrCodeNotFound},
		{core.ErrUnsupported, ErrCodeUnsupported},
	}
	for _, tt := range tests {
		resp := stackFailure("1", "op", tt.err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, tt.code, resp.Error.Code)
		assert.ErrorIs(t, resp.Error, tt.err)
	}
	assert.Equal(t, ErrCodeInternalError, errorCode(errors.New("boom")))
	assert.Nil(t, (&ErrorInfo{Code: ErrCodeInternalError}).Unwrap())
}
