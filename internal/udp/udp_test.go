package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/socket"
)

func TestPortsLifecycle(t *testing.T) {
	ports := NewPorts(2)

	a, err := ports.Make(0, 5353)
	require.NoError(t, err)
	b, err := ports.Make(1, 0)
	require.NoError(t, err)
	_, err = ports.Make(2, 0)
	assert.ErrorIs(t, err, core.ErrNoMemory)

	sd, ok := ports.Owner(5353)
	assert.True(t, ok)
	assert.Equal(t, 0, sd)
	assert.Equal(t, -1, ports.Lookup(0), "unbound blocks never match")

	_, err = ports.Bind(b, 1, 5353)
	assert.ErrorIs(t, err, core.ErrAddressInUse)
	port, err := ports.Bind(b, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, b, ports.Lookup(port))

	require.NoError(t, ports.Cleanup(a))
	_, ok = ports.Owner(5353)
	assert.False(t, ok)
	_, err = ports.Get(a, 0)
	assert.ErrorIs(t, err, core.ErrInvalidSocket)
	_, err = ports.Get(b, 0)
	assert.ErrorIs(t, err, core.ErrInvalidSocket, "owner mismatch")
	assert.ErrorIs(t, ports.Cleanup(a), core.ErrNotFound)
}

func TestOptionRoundTrip(t *testing.T) {
	ports := NewPorts(2)
	h := NewOptionHandler(ports)
	idx, _ := ports.Make(0, 0)
	s := &socket.Socket{Descriptor: 0, Type: socket.TypeDgram, PCB: idx}

	for _, v := range []int{1, 0} {
		require.NoError(t, h.SetOption(s, socket.UDPNoChecksum, socket.Int(v)))
		out := make([]byte, socket.IntSize)
		_, err := h.GetOption(s, socket.UDPNoChecksum, out)
		require.NoError(t, err)
		got, _ := socket.ParseInt(out)
		assert.Equal(t, v, got)
	}

	assert.ErrorIs(t, h.SetOption(s, socket.Name(5), socket.Int(1)), core.ErrUnsupported)
	stream := &socket.Socket{Descriptor: 1, Type: socket.TypeStream}
	_, err := h.GetOption(stream, socket.UDPNoChecksum, make([]byte, socket.IntSize))
	assert.ErrorIs(t, err, core.ErrUnsupported)

	require.NoError(t, ports.Cleanup(idx))
	assert.ErrorIs(t, h.SetOption(s, socket.UDPNoChecksum, socket.Int(1)), core.ErrInvalidSocket)
}
