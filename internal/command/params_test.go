package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/socket"
)

func TestEncodeOption(t *testing.T) {
	tests := []struct {
		name  string
		level socket.Level
		opt   socket.Name
		in    string
		want  []byte
	}{
		{"int", socket.LevelIP, socket.IPTTL, "64", socket.Int(64)},
		{"switch on", socket.LevelSocket, socket.SOBroadcast, "on", socket.Int(1)},
		{"switch off", socket.LevelTCP, socket.TCPNoDelay, "false", socket.Int(0)},
		{"raw", socket.LevelIP, socket.IPTOS, "0x10000000", []byte{0x10, 0, 0, 0}},
		{"linger", socket.LevelSocket, socket.SOLinger, "on,30", socket.Linger(true, 30)},
		{"linger off", socket.LevelSocket, socket.SOLinger, "off", socket.Linger(false, 0)},
		{"address", socket.LevelIP, socket.IPMulticastIf, "192.0.2.10", []byte{192, 0, 2, 10}},
		{"any address", socket.LevelIP, socket.IPMulticastIf, "", []byte{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeOption(tt.level, tt.opt, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"many", "0xzz"} {
		_, err := encodeOption(socket.LevelIP, socket.IPTTL, bad)
		assert.ErrorIs(t, err, core.ErrInvalidParameter, bad)
	}
	_, err := encodeOption(socket.LevelSocket, socket.SOLinger, "on,later")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	_, err = encodeOption(socket.LevelIP, socket.IPMulticastIf, "eth0")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestDecodeOption(t *testing.T) {
	assert.Equal(t, "64", decodeOption(socket.LevelIP, socket.IPTTL, socket.Int(64)))
	assert.Equal(t, "off,0", decodeOption(socket.LevelSocket, socket.SOLinger, socket.Linger(false, 0)))
	assert.Equal(t, "0.0.0.0", decodeOption(socket.LevelIP, socket.IPMulticastIf, socket.Int(0)))
	assert.Equal(t, "0x0102", decodeOption(socket.LevelIP, socket.IPTTL, []byte{1, 2}))
}

func TestIoctlArg(t *testing.T) {
	req, arg, err := ioctlArg("SIOCSIFFLAGS", "up")
	require.NoError(t, err)
	assert.Equal(t, uint(device.SIOCSIFFLAGS), req.code)
	assert.Len(t, arg, 2)
	assert.Equal(t, "0x1", ioctlValue(req, arg))

	req, arg, err = ioctlArg("0x8921", "")
	require.NoError(t, err)
	assert.Equal(t, uint(0x8921), req.code)
	assert.Len(t, arg, 16)

	_, arg, err = ioctlArg("SIOCGIFMTU", "0xdc05")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xdc, 0x05, 0, 0}, arg, "raw values are padded to the request size")

	_, _, err = ioctlArg("SIOCGIFADDR", "192.0.2.1")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	_, _, err = ioctlArg("SIOCSIFMTU", "big")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	_, _, err = ioctlArg("", "")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}
