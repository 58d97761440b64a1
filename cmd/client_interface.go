package cmd

import (
	"context"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
)

// ClientInterface lists the daemon calls the commands make.
// *command.UDSClient implements it.
type ClientInterface interface {
	Status(ctx context.Context) (*command.DaemonStatus, error)
	BufferStats(ctx context.Context) (buffer.Stats, error)
	Shutdown(ctx context.Context) error
	ConfigReload(ctx context.Context) error

	ARPSet(ctx context.Context, params command.ARPSetParams) error
	ARPDelete(ctx context.Context, address string) error
	ARPList(ctx context.Context) ([]arp.Info, error)

	RouteAdd(ctx context.Context, params command.RouteParams) error
	RouteDelete(ctx context.Context, prefix string) error
	RouteLookup(ctx context.Context, address string) (route.Info, error)
	RouteDefault(ctx context.Context, family string) (route.Info, error)
	RouteList(ctx context.Context, family string) ([]route.Info, error)

	SocketOpen(ctx context.Context, params command.SocketOpenParams) (command.SocketResult, error)
	SocketClose(ctx context.Context, sd int) error
	SocketList(ctx context.Context) ([]socket.Info, error)
	SockoptGet(ctx context.Context, params command.SockoptParams) (command.SockoptResult, error)
	SockoptSet(ctx context.Context, params command.SockoptParams) (command.SockoptResult, error)

	Ioctl(ctx context.Context, params command.IoctlParams) (command.IoctlResult, error)
	Devices(ctx context.Context) ([]device.Info, error)
}

var _ ClientInterface = (*command.UDSClient)(nil)
