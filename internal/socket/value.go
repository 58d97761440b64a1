package socket

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/netcore/internal/core"
)

// Option values are native-endian int32s, a pair of them for linger, and
// 4-byte addresses.
const (
	IntSize    = 4
	LingerSize = 2 * IntSize
	AddrSize   = 4
)

// Int encodes v as an option value.
func Int(v int) []byte {
	b := make([]byte, IntSize)
	binary.NativeEndian.PutUint32(b, uint32(int32(v)))
	return b
}

// ParseInt decodes an integer option value.
func ParseInt(b []byte) (int, error) {
	if len(b) < IntSize {
		return 0, fmt.Errorf("%w: option value needs %d bytes, got %d", core.ErrInvalidParameter, IntSize, len(b))
	}
	return int(int32(binary.NativeEndian.Uint32(b))), nil
}

// ParseBool decodes a boolean option value: zero is off, anything else on.
func ParseBool(b []byte) (bool, error) {
	v, err := ParseInt(b)
	return v != 0, err
}

// PutInt writes v into out and returns the bytes written.
func PutInt(out []byte, v int) (int, error) {
	if len(out) < IntSize {
		return 0, fmt.Errorf("%w: option buffer needs %d bytes, got %d", core.ErrInvalidParameter, IntSize, len(out))
	}
	binary.NativeEndian.PutUint32(out, uint32(int32(v)))
	return IntSize, nil
}

// PutBool writes 1 or 0.
func PutBool(out []byte, on bool) (int, error) {
	if on {
		return PutInt(out, 1)
	}
	return PutInt(out, 0)
}

// Linger encodes the on/off flag and timeout in seconds.
func Linger(on bool, seconds int) []byte {
	b := make([]byte, LingerSize)
	if on {
		binary.NativeEndian.PutUint32(b, 1)
	}
	binary.NativeEndian.PutUint32(b[IntSize:], uint32(int32(seconds)))
	return b
}

// ParseLinger decodes a linger value.
func ParseLinger(b []byte) (bool, int, error) {
	if len(b) < LingerSize {
		return false, 0, fmt.Errorf("%w: linger value needs %d bytes, got %d", core.ErrInvalidParameter, LingerSize, len(b))
	}
	on := binary.NativeEndian.Uint32(b) != 0
	secs := int(int32(binary.NativeEndian.Uint32(b[IntSize:])))
	return on, secs, nil
}

// Addr4 encodes an IPv4 address; the zero Addr encodes as 0.0.0.0.
func Addr4(a netip.Addr) []byte {
	if !a.Is4() {
		a = netip.IPv4Unspecified()
	}
	b := a.As4()
	return b[:]
}

// ParseAddr4 decodes a 4-byte address value.
func ParseAddr4(b []byte) (netip.Addr, error) {
	if len(b) < AddrSize {
		return netip.Addr{}, fmt.Errorf("%w: address value needs %d bytes, got %d", core.ErrInvalidParameter, AddrSize, len(b))
	}
	return netip.AddrFrom4([4]byte(b[:AddrSize])), nil
}
