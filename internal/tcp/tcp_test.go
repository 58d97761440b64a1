package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/socket"
)

func TestPortsLifecycle(t *testing.T) {
	ports := NewPorts(2, 8192)

	i, err := ports.Make(3, 0)
	require.NoError(t, err)
	p, err := ports.Get(i, 3)
	require.NoError(t, err)
	assert.Equal(t, 8192, p.Window)
	assert.Equal(t, DefaultKeepAliveWait, p.KeepAliveWait)

	_, err = ports.Get(i, 4)
	assert.ErrorIs(t, err, core.ErrInvalidSocket, "owned by another socket")
	_, err = ports.Get(7, 3)
	assert.ErrorIs(t, err, core.ErrInvalidSocket)

	_, err = ports.Make(4, 0)
	require.NoError(t, err)
	_, err = ports.Make(5, 0)
	assert.ErrorIs(t, err, core.ErrNoMemory)

	require.NoError(t, ports.Cleanup(i))
	_, err = ports.Get(i, 3)
	assert.ErrorIs(t, err, core.ErrInvalidSocket, "torn down index is stale")
	assert.ErrorIs(t, ports.Cleanup(i), core.ErrNotFound)
	assert.Equal(t, 1, ports.Len())
}

func TestPortsBind(t *testing.T) {
	ports := NewPorts(4, 0)
	a, _ := ports.Make(1, 0)
	b, _ := ports.Make(2, 0)

	got, err := ports.Bind(a, 1, 80)
	require.NoError(t, err)
	assert.Equal(t, uint16(80), got)
	_, err = ports.Bind(b, 2, 80)
	assert.ErrorIs(t, err, core.ErrAddressInUse)
	_, err = ports.Bind(a, 1, 80)
	assert.NoError(t, err, "rebinding the same port is allowed")

	got, err = ports.Bind(b, 2, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(got), socket.EphemeralFirst)

	_, err = ports.Make(3, 80)
	assert.ErrorIs(t, err, core.ErrAddressInUse)
}

func TestOptionRoundTrip(t *testing.T) {
	ports := NewPorts(4, 16384)
	h := NewOptionHandler(ports)
	idx, err := ports.Make(0, 0)
	require.NoError(t, err)
	s := &socket.Socket{Descriptor: 0, Type: socket.TypeStream, PCB: idx}

	tests := []struct {
		name  socket.Name
		value int
	}{
		{socket.TCPNoDelay, 1},
		{socket.TCPNoDelay, 0},
		{socket.TCPKeepAlive, 1},
		{socket.TCPDSACK, 1},
		{socket.TCPDSACK, 0},
		{socket.TCPRecvWindow, 4096},
		{socket.TCPRecvWindow, MaxWindow},
		{socket.TCPKeepAliveWait, 75},
	}
	for _, tt := range tests {
		t.Run(socket.OptionName(socket.LevelTCP, tt.name), func(t *testing.T) {
			require.NoError(t, h.SetOption(s, tt.name, socket.Int(tt.value)))
			out := make([]byte, socket.IntSize)
			n, err := h.GetOption(s, tt.name, out)
			require.NoError(t, err)
			assert.Equal(t, socket.IntSize, n)
			got, _ := socket.ParseInt(out)
			assert.Equal(t, tt.value, got)
		})
	}

	p, _ := ports.Get(idx, 0)
	assert.Equal(t, 75*time.Second, p.KeepAliveWait)
}

func TestOptionInvalid(t *testing.T) {
	ports := NewPorts(4, 16384)
	h := NewOptionHandler(ports)
	idx, _ := ports.Make(0, 0)
	s := &socket.Socket{Descriptor: 0, Type: socket.TypeStream, PCB: idx}

	assert.ErrorIs(t, h.SetOption(s, socket.TCPRecvWindow, socket.Int(0)), core.ErrInvalidParameter)
	assert.ErrorIs(t, h.SetOption(s, socket.TCPRecvWindow, socket.Int(MaxWindow+1)), core.ErrInvalidParameter)
	assert.ErrorIs(t, h.SetOption(s, socket.TCPKeepAliveWait, socket.Int(-5)), core.ErrInvalidParameter)
	assert.ErrorIs(t, h.SetOption(s, socket.Name(77), socket.Int(1)), core.ErrUnsupported)

	dgram := &socket.Socket{Descriptor: 1, Type: socket.TypeDgram, PCB: -1}
	assert.ErrorIs(t, h.SetOption(dgram, socket.TCPNoDelay, socket.Int(1)), core.ErrUnsupported)

	require.NoError(t, ports.Cleanup(idx))
	_, err := h.GetOption(s, socket.TCPNoDelay, make([]byte, socket.IntSize))
	assert.ErrorIs(t, err, core.ErrInvalidSocket)
	assert.ErrorIs(t, h.SetKeepAlive(s, true), core.ErrInvalidSocket)
}

func TestKeepAliveSharedWithSocketLevel(t *testing.T) {
	ports := NewPorts(4, 16384)
	h := NewOptionHandler(ports)
	idx, _ := ports.Make(2, 0)
	s := &socket.Socket{Descriptor: 2, Type: socket.TypeStream, PCB: idx}
	sol := socket.NewSocketHandler(h)

	require.NoError(t, sol.SetOption(s, socket.SOKeepAlive, socket.Int(1)))
	out := make([]byte, socket.IntSize)
	_, err := h.GetOption(s, socket.TCPKeepAlive, out)
	require.NoError(t, err)
	v, _ := socket.ParseInt(out)
	assert.Equal(t, 1, v)
}
