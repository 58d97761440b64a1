package device

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/core"
)

var testHW = core.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}

func newEth(t *testing.T, r *Registry, name, cidr string) (*Device, *Channel) {
	t.Helper()
	ch := NewChannel(4)
	d := New(name, TypeEthernet, testHW, netip.MustParsePrefix(cidr), 0, ch)
	require.NoError(t, r.Add(d))
	return d, ch
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	eth0, _ := newEth(t, r, "eth0", "192.0.2.10/24")
	eth1, _ := newEth(t, r, "eth1", "198.51.100.1/30")

	assert.Equal(t, 0, eth0.Index)
	assert.Equal(t, 1, eth1.Index)
	assert.Error(t, r.Add(New("eth0", TypeEthernet, testHW, netip.Prefix{}, 0, NewChannel(1))))

	d, err := r.ByName("eth1")
	require.NoError(t, err)
	assert.Same(t, eth1, d)
	_, err = r.ByName("eth9")
	assert.ErrorIs(t, err, core.ErrDeviceNotFound)

	d, err = r.ByIndex(0)
	require.NoError(t, err)
	assert.Same(t, eth0, d)
	_, err = r.ByIndex(2)
	assert.ErrorIs(t, err, core.ErrDeviceNotFound)

	assert.Same(t, eth0, r.ByAddr(netip.MustParseAddr("192.0.2.10")))
	assert.Nil(t, r.ByAddr(netip.MustParseAddr("192.0.2.11")))
	assert.Same(t, eth0, r.OnLink(netip.MustParseAddr("192.0.2.200")))
	assert.Same(t, eth1, r.OnLink(netip.MustParseAddr("198.51.100.2")))
	assert.Nil(t, r.OnLink(netip.MustParseAddr("203.0.113.1")))
	assert.Len(t, r.List(), 2)
}

func TestBroadcast(t *testing.T) {
	d := New("eth0", TypeEthernet, testHW, netip.MustParsePrefix("192.0.2.10/24"), 0, NewChannel(1))
	assert.Equal(t, netip.MustParseAddr("192.0.2.255"), d.Broadcast())
	assert.True(t, d.IsBroadcast(netip.MustParseAddr("192.0.2.255")))
	assert.True(t, d.IsBroadcast(netip.MustParseAddr("255.255.255.255")))
	assert.False(t, d.IsBroadcast(netip.MustParseAddr("192.0.2.254")))

	p2p := New("ptp0", TypeEthernet, testHW, netip.MustParsePrefix("198.51.100.0/31"), 0, NewChannel(1))
	assert.False(t, p2p.IsBroadcast(netip.MustParseAddr("198.51.100.1")))
}

func TestTransmit(t *testing.T) {
	r := NewRegistry()
	d, ch := newEth(t, r, "eth0", "192.0.2.10/24")

	require.NoError(t, d.Transmit([][]byte{[]byte("ab"), []byte("cd")}))
	assert.Equal(t, []byte("abcd"), <-ch.Frames())
	assert.Equal(t, uint64(1), d.Info().TxPackets)

	d.Flags &^= FlagUp
	assert.ErrorIs(t, d.Transmit([][]byte{[]byte("x")}), core.ErrDeviceDown)
	assert.Equal(t, uint64(1), d.Info().TxErrors)
}

func TestChannelFull(t *testing.T) {
	ch := NewChannel(1)
	d := New("eth0", TypeEthernet, testHW, netip.Prefix{}, 0, ch)
	require.NoError(t, d.Transmit([][]byte{{1}}))
	assert.ErrorIs(t, d.Transmit([][]byte{{2}}), core.ErrNoMemory)
}

func TestLoopback(t *testing.T) {
	lo := NewLoopback()
	d := New("lo", TypeLoopback, core.HardwareAddr{}, netip.MustParsePrefix("127.0.0.1/8"), 65535, lo)

	require.NoError(t, d.Transmit([][]byte{[]byte("dropped")}))

	var got []byte
	lo.SetReceiver(func(dev *Device, frame []byte) { got = frame })
	require.NoError(t, d.Transmit([][]byte{[]byte("lo"), []byte("op")}))
	assert.Equal(t, []byte("loop"), got)
	assert.NotZero(t, d.Flags&FlagLoopback)
}

func TestIoctlPassthrough(t *testing.T) {
	r := NewRegistry()
	d, _ := newEth(t, r, "eth0", "192.0.2.10/24")

	arg := make([]byte, 16)
	require.NoError(t, r.Ioctl("eth0", SIOCGIFMTU, arg))
	assert.Equal(t, uint32(1500), binary.NativeEndian.Uint32(arg))

	binary.NativeEndian.PutUint32(arg, 9000)
	require.NoError(t, r.Ioctl("eth0", SIOCSIFMTU, arg))
	assert.Equal(t, 9000, d.MTU)

	binary.NativeEndian.PutUint32(arg, 10)
	assert.ErrorIs(t, r.Ioctl("eth0", SIOCSIFMTU, arg), core.ErrInvalidParameter)
	assert.Equal(t, 9000, d.MTU)

	require.NoError(t, r.Ioctl("eth0", SIOCGIFHWADDR, arg))
	assert.Equal(t, testHW[:], arg[2:8])

	require.NoError(t, r.Ioctl("eth0", SIOCGIFADDR, arg))
	assert.Equal(t, []byte{192, 0, 2, 10}, arg[4:8])
	require.NoError(t, r.Ioctl("eth0", SIOCGIFBRDADDR, arg))
	assert.Equal(t, []byte{192, 0, 2, 255}, arg[4:8])
	require.NoError(t, r.Ioctl("eth0", SIOCGIFNETMASK, arg))
	assert.Equal(t, []byte{255, 255, 255, 0}, arg[4:8])

	require.NoError(t, r.Ioctl("eth0", SIOCGIFINDEX, arg))
	assert.Equal(t, uint32(0), binary.NativeEndian.Uint32(arg))

	// bring the device down and back up
	binary.NativeEndian.PutUint16(arg, 0)
	require.NoError(t, r.Ioctl("eth0", SIOCSIFFLAGS, arg))
	assert.False(t, d.IsUp())
	require.NoError(t, r.Ioctl("eth0", SIOCGIFFLAGS, arg))
	assert.Zero(t, Flags(binary.NativeEndian.Uint16(arg))&FlagUp)
	binary.NativeEndian.PutUint16(arg, uint16(FlagUp))
	require.NoError(t, r.Ioctl("eth0", SIOCSIFFLAGS, arg))
	assert.True(t, d.IsUp())

	assert.ErrorIs(t, r.Ioctl("eth0", SIOCGIFMTU, arg[:2]), core.ErrInvalidParameter)
	assert.ErrorIs(t, r.Ioctl("eth0", 0xdead, arg), core.ErrUnsupported)
	assert.ErrorIs(t, r.Ioctl("eth7", SIOCGIFMTU, arg), core.ErrDeviceNotFound)
}

// recordingDriver checks that requests reach the driver untouched.
type recordingDriver struct {
	code uint
	arg  []byte
}

func (r *recordingDriver) Transmit(*Device, [][]byte) error { return nil }
func (r *recordingDriver) Ioctl(_ *Device, code uint, arg []byte) error {
	r.code, r.arg = code, arg
	return nil
}

func TestIoctlVerbatim(t *testing.T) {
	reg := NewRegistry()
	drv := &recordingDriver{}
	require.NoError(t, reg.Add(New("vnic0", TypeEthernet, testHW, netip.Prefix{}, 0, drv)))

	arg := []byte{1, 2, 3}
	require.NoError(t, reg.Ioctl("vnic0", 0x89f0, arg))
	assert.Equal(t, uint(0x89f0), drv.code)
	assert.Equal(t, &arg[0], &drv.arg[0])
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("loopback")
	require.NoError(t, err)
	assert.Equal(t, TypeLoopback, typ)
	_, err = ParseType("token-ring")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}
