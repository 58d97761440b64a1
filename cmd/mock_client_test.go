package cmd

import (
	"context"

	"github.com/stretchr/testify/mock"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
)

// MockClient 实现 ClientInterface
type MockClient struct {
	mock.Mock
}

var _ ClientInterface = (*MockClient)(nil)

func (m *MockClient) Status(ctx context.Context) (*command.DaemonStatus, error) {
	args := m.Called(ctx)
	st, _ := args.Get(0).(*command.DaemonStatus)
	return st, args.Error(1)
}

func (m *MockClient) BufferStats(ctx context.Context) (buffer.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(buffer.Stats), args.Error(1)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) ConfigReload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) ARPSet(ctx context.Context, params command.ARPSetParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockClient) ARPDelete(ctx context.Context, address string) error {
	return m.Called(ctx, address).Error(0)
}

func (m *MockClient) ARPList(ctx context.Context) ([]arp.Info, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]arp.Info)
	return entries, args.Error(1)
}

func (m *MockClient) RouteAdd(ctx context.Context, params command.RouteParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockClient) RouteDelete(ctx context.Context, prefix string) error {
	return m.Called(ctx, prefix).Error(0)
}

func (m *MockClient) RouteLookup(ctx context.Context, address string) (route.Info, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(route.Info), args.Error(1)
}

func (m *MockClient) RouteDefault(ctx context.Context, family string) (route.Info, error) {
	args := m.Called(ctx, family)
	return args.Get(0).(route.Info), args.Error(1)
}

func (m *MockClient) RouteList(ctx context.Context, family string) ([]route.Info, error) {
	args := m.Called(ctx, family)
	routes, _ := args.Get(0).([]route.Info)
	return routes, args.Error(1)
}

func (m *MockClient) SocketOpen(ctx context.Context, params command.SocketOpenParams) (command.SocketResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(command.SocketResult), args.Error(1)
}

func (m *MockClient) SocketClose(ctx context.Context, sd int) error {
	return m.Called(ctx, sd).Error(0)
}

func (m *MockClient) SocketList(ctx context.Context) ([]socket.Info, error) {
	args := m.Called(ctx)
	socks, _ := args.Get(0).([]socket.Info)
	return socks, args.Error(1)
}

func (m *MockClient) SockoptGet(ctx context.Context, params command.SockoptParams) (command.SockoptResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(command.SockoptResult), args.Error(1)
}

func (m *MockClient) SockoptSet(ctx context.Context, params command.SockoptParams) (command.SockoptResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(command.SockoptResult), args.Error(1)
}

func (m *MockClient) Ioctl(ctx context.Context, params command.IoctlParams) (command.IoctlResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(command.IoctlResult), args.Error(1)
}

func (m *MockClient) Devices(ctx context.Context) ([]device.Info, error) {
	args := m.Called(ctx)
	devs, _ := args.Get(0).([]device.Info)
	return devs, args.Error(1)
}
