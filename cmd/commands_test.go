package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
)

// executeRoot runs the real command tree against a mock client.
func executeRoot(t *testing.T, m *MockClient, args ...string) (string, error) {
	t.Helper()
	original := GetClient()
	SetClient(m)
	t.Cleanup(func() { SetClient(original) })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRouteCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("add", func(t *testing.T) {
		m := new(MockClient)
		params := command.RouteParams{Prefix: "10.0.0.0/8", NextHop: "192.0.2.1", Metric: 5}
		m.On("RouteAdd", mock.Anything, params).Return(nil)

		out, err := executeRoot(t, m, "route", "add", "10.0.0.0/8", "--via", "192.0.2.1", "--metric", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Route 10.0.0.0/8 added")
		m.AssertExpectations(t)
	})

	t.Run("add exists", func(t *testing.T) {
		m := new(MockClient)
		m.On("RouteAdd", mock.Anything, mock.Anything).Return(core.ErrRouteExists)

		var buf bytes.Buffer
		err := runRouteAdd(ctx, m, &buf, command.RouteParams{Prefix: "10.0.0.0/8"})
		assert.ErrorIs(t, err, core.ErrRouteExists)
		assert.Empty(t, buf.String())
	})

	t.Run("lookup", func(t *testing.T) {
		m := new(MockClient)
		info := route.Info{Prefix: "10.0.0.0/8", NextHop: "192.0.2.1", Device: "eth0", Flags: "UGS"}
		m.On("RouteLookup", mock.Anything, "10.1.2.3").Return(info, nil)

		var buf bytes.Buffer
		require.NoError(t, runRouteLookup(ctx, m, &buf, "10.1.2.3"))
		var got route.Info
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, info, got)
	})

	t.Run("default missing", func(t *testing.T) {
		m := new(MockClient)
		m.On("RouteDefault", mock.Anything, "inet").Return(route.Info{}, core.ErrNotFound)

		err := runRouteDefault(ctx, m, &bytes.Buffer{}, "inet")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		m := new(MockClient)
		m.On("RouteList", mock.Anything, "inet").Return([]route.Info{{Prefix: "0.0.0.0/0"}, {Prefix: "10.0.0.0/8"}}, nil)
		m.On("RouteDelete", mock.Anything, "10.0.0.0/8").Return(nil)

		var buf bytes.Buffer
		require.NoError(t, runRouteList(ctx, m, &buf, "inet"))
		var routes []route.Info
		require.NoError(t, json.Unmarshal(buf.Bytes(), &routes))
		assert.Len(t, routes, 2)

		buf.Reset()
		require.NoError(t, runRouteDelete(ctx, m, &buf, "10.0.0.0/8"))
		assert.Contains(t, buf.String(), "deleted")
		m.AssertExpectations(t)
	})
}

func TestARPCommands(t *testing.T) {
	m := new(MockClient)
	params := command.ARPSetParams{Address: "192.0.2.1", HWAddr: "02:00:00:00:00:01", Permanent: true}
	m.On("ARPSet", mock.Anything, params).Return(nil)

	out, err := executeRoot(t, m, "arp", "set", "192.0.2.1", "02:00:00:00:00:01", "--permanent")
	require.NoError(t, err)
	assert.Contains(t, out, "is at 02:00:00:00:00:01")

	m.On("ARPDelete", mock.Anything, "192.0.2.9").Return(core.ErrNotFound)
	err = runARPDelete(context.Background(), m, &bytes.Buffer{}, "192.0.2.9")
	assert.ErrorIs(t, err, core.ErrNotFound)

	m.On("ARPList", mock.Anything).Return([]arp.Info{{Address: "192.0.2.1", HWAddr: "02:00:00:00:00:01", Flags: "UP"}}, nil)
	var buf bytes.Buffer
	require.NoError(t, runARPList(context.Background(), m, &buf))
	assert.Contains(t, buf.String(), `"flags": "UP"`)
	m.AssertExpectations(t)
}

func TestSockCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("open with port", func(t *testing.T) {
		m := new(MockClient)
		m.On("SocketOpen", mock.Anything, mock.MatchedBy(func(p command.SocketOpenParams) bool {
			return p.Type == "dgram" && p.Port != nil && *p.Port == 5353
		})).Return(command.SocketResult{SD: 3, Port: 5353}, nil)

		out, err := executeRoot(t, m, "sock", "open", "dgram", "--port", "5353", "-o", "json")
		require.NoError(t, err)
		assert.Contains(t, out, `"sd": 3`)
		m.AssertExpectations(t)
	})

	t.Run("set and get", func(t *testing.T) {
		m := new(MockClient)
		set := command.SockoptParams{SD: 3, Level: "ip", Name: "ttl", Value: "32"}
		get := command.SockoptParams{SD: 3, Level: "ip", Name: "ttl"}
		m.On("SockoptSet", mock.Anything, set).Return(command.SockoptResult{SD: 3, Level: "ip", Name: "ttl", Value: "32"}, nil)
		m.On("SockoptGet", mock.Anything, get).Return(command.SockoptResult{SD: 3, Level: "ip", Name: "ttl", Value: "32"}, nil)

		_, err := executeRoot(t, m, "sock", "set", "3", "ip", "ttl", "32")
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, runSockGet(ctx, m, &buf, get))
		var res command.SockoptResult
		require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
		assert.Equal(t, "32", res.Value)
		m.AssertExpectations(t)
	})

	t.Run("bad descriptor", func(t *testing.T) {
		_, err := executeRoot(t, new(MockClient), "sock", "close", "three")
		assert.ErrorIs(t, err, core.ErrInvalidSocket)
	})

	t.Run("closed descriptor", func(t *testing.T) {
		m := new(MockClient)
		m.On("SocketClose", mock.Anything, 3).Return(core.ErrInvalidSocket)
		m.On("SocketList", mock.Anything).Return([]socket.Info{}, nil)

		assert.ErrorIs(t, runSockClose(ctx, m, &bytes.Buffer{}, 3), core.ErrInvalidSocket)
		var buf bytes.Buffer
		require.NoError(t, runSockList(ctx, m, &buf))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("help lists options", func(t *testing.T) {
		assert.Contains(t, sockGetCmd.Long, "nodelay")
		assert.Contains(t, sockGetCmd.Long, "ttl")
	})
}

func TestDevCommands(t *testing.T) {
	m := new(MockClient)
	params := command.IoctlParams{Device: "eth0", Request: "SIOCSIFMTU", Value: "9000"}
	m.On("Ioctl", mock.Anything, params).Return(command.IoctlResult{Device: "eth0", Request: "SIOCSIFMTU", Value: "9000", Raw: "0x28230000"}, nil)
	m.On("Ioctl", mock.Anything, command.IoctlParams{Device: "eth9", Request: "SIOCGIFMTU"}).
		Return(command.IoctlResult{}, core.ErrDeviceNotFound)

	out, err := executeRoot(t, m, "dev", "ioctl", "eth0", "SIOCSIFMTU", "9000", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"value": "9000"`)

	_, err = executeRoot(t, m, "dev", "ioctl", "eth9", "SIOCGIFMTU")
	assert.ErrorIs(t, err, core.ErrDeviceNotFound)
	m.AssertExpectations(t)
}

func TestStatusAndStats(t *testing.T) {
	ctx := context.Background()
	m := new(MockClient)
	m.On("Status", mock.Anything).Return(&command.DaemonStatus{Version: "0.1.0", UptimeSec: 42}, nil)
	m.On("BufferStats", mock.Anything).Return(buffer.Stats{Total: 512, Free: 500, Size: 1536}, nil)
	m.On("Devices", mock.Anything).Return([]device.Info{{Name: "eth0", MTU: 1500}}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStatus(ctx, m, &buf))
	assert.Contains(t, buf.String(), `"uptime_sec": 42`)

	buf.Reset()
	require.NoError(t, runStats(ctx, m, &buf))
	var report statsReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, 500, report.Buffers.Free)
	require.Len(t, report.Devices, 1)
	assert.Equal(t, "eth0", report.Devices[0].Name)
	m.AssertExpectations(t)

	down := new(MockClient)
	down.On("Status", mock.Anything).Return(nil, core.ErrDaemonNotRunning)
	assert.ErrorIs(t, runStatus(ctx, down, &bytes.Buffer{}), core.ErrDaemonNotRunning)
}

func TestStop(t *testing.T) {
	ctx := context.Background()

	m := new(MockClient)
	m.On("Shutdown", mock.Anything).Return(nil)
	var buf bytes.Buffer
	require.NoError(t, runStop(ctx, m, &buf, ""))
	assert.Contains(t, buf.String(), "Shutdown requested")

	down := new(MockClient)
	down.On("Shutdown", mock.Anything).Return(fmt.Errorf("dial: %w", core.ErrDaemonNotRunning))
	assert.ErrorIs(t, runStop(ctx, down, &bytes.Buffer{}, ""), core.ErrDaemonNotRunning)

	// The PID file fallback reports a missing daemon the same way.
	absent := filepath.Join(t.TempDir(), "netcore.pid")
	assert.ErrorIs(t, runStop(ctx, down, &bytes.Buffer{}, absent), core.ErrDaemonNotRunning)
}

func TestPrintResult(t *testing.T) {
	original := outputFormat
	t.Cleanup(func() { outputFormat = original })

	info := route.Info{Prefix: "10.0.0.0/8", Device: "eth0", Metric: 1}

	outputFormat = "yaml"
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, info))
	var got route.Info
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, info, got)

	outputFormat = "xml"
	assert.Error(t, printResult(&bytes.Buffer{}, info))
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	valid := write("valid.yml", `
netcore:
  devices:
    - name: lo
      type: loopback
    - name: eth0
      hw_addr: "02:00:00:00:00:10"
      address: 192.0.2.10/24
  routes:
    - prefix: 0.0.0.0/0
      next_hop: 192.0.2.1
  arp:
    - address: 192.0.2.1
      hw_addr: "02:00:00:00:00:01"
      permanent: true
`)
	var buf bytes.Buffer
	require.NoError(t, runValidate(valid, &buf))
	assert.Contains(t, buf.String(), "VALID: 2 device(s), 3 route(s), 1 static ARP")

	unroutable := write("unroutable.yml", `
netcore:
  devices:
    - name: eth0
      hw_addr: "02:00:00:00:00:10"
      address: 192.0.2.10/24
  routes:
    - prefix: 10.0.0.0/8
      next_hop: 198.51.100.1
`)
	err := runValidate(unroutable, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	err = runValidate(filepath.Join(dir, "absent.yml"), &bytes.Buffer{})
	assert.ErrorContains(t, err, "INVALID")
}
