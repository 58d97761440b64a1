package device

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"firestige.xyz/netcore/internal/core"
)

// Request codes understood by the built-in drivers. arg carries the ifreq
// union that follows the interface name.
const (
	SIOCGIFINDEX   = unix.SIOCGIFINDEX
	SIOCGIFFLAGS   = unix.SIOCGIFFLAGS
	SIOCSIFFLAGS   = unix.SIOCSIFFLAGS
	SIOCGIFMTU     = unix.SIOCGIFMTU
	SIOCSIFMTU     = unix.SIOCSIFMTU
	SIOCGIFHWADDR  = unix.SIOCGIFHWADDR
	SIOCGIFADDR    = unix.SIOCGIFADDR
	SIOCGIFBRDADDR = unix.SIOCGIFBRDADDR
	SIOCGIFNETMASK = unix.SIOCGIFNETMASK
)

const (
	minMTU = 68
	maxMTU = 65535
)

// StandardIoctl implements the interface requests every in-process driver
// shares. Unknown codes fail with core.ErrUnsupported.
func StandardIoctl(d *Device, code uint, arg []byte) error {
	need := func(n int) error {
		if len(arg) < n {
			return fmt.Errorf("%w: ioctl %#x needs %d bytes, got %d", core.ErrInvalidParameter, code, n, len(arg))
		}
		return nil
	}

	switch code {
	case SIOCGIFINDEX:
		if err := need(4); err != nil {
			return err
		}
		binary.NativeEndian.PutUint32(arg, uint32(d.Index))

	case SIOCGIFFLAGS:
		if err := need(2); err != nil {
			return err
		}
		binary.NativeEndian.PutUint16(arg, uint16(d.Flags))

	case SIOCSIFFLAGS:
		if err := need(2); err != nil {
			return err
		}
		// only the administrative state may change; running follows it
		want := Flags(binary.NativeEndian.Uint16(arg))
		d.Flags &^= FlagUp | FlagRunning
		if want&FlagUp != 0 {
			d.Flags |= FlagUp | FlagRunning
		}

	case SIOCGIFMTU:
		if err := need(4); err != nil {
			return err
		}
		binary.NativeEndian.PutUint32(arg, uint32(d.MTU))

	case SIOCSIFMTU:
		if err := need(4); err != nil {
			return err
		}
		mtu := int(int32(binary.NativeEndian.Uint32(arg)))
		if mtu < minMTU || mtu > maxMTU {
			return fmt.Errorf("%w: mtu %d outside %d..%d", core.ErrInvalidParameter, mtu, minMTU, maxMTU)
		}
		d.MTU = mtu

	case SIOCGIFHWADDR:
		if err := need(8); err != nil {
			return err
		}
		binary.NativeEndian.PutUint16(arg, unix.ARPHRD_ETHER)
		copy(arg[2:8], d.HW[:])

	case SIOCGIFADDR:
		return putSockaddr(arg, d.Addr(), need)

	case SIOCGIFBRDADDR:
		return putSockaddr(arg, d.Broadcast(), need)

	case SIOCGIFNETMASK:
		if !d.Prefix.IsValid() {
			return putSockaddr(arg, netip.Addr{}, need)
		}
		var mask [4]byte
		bits := d.Prefix.Bits()
		for i := 0; i < 4; i++ {
			switch {
			case bits >= 8:
				mask[i] = 0xff
				bits -= 8
			case bits > 0:
				mask[i] = byte(0xff << (8 - bits))
				bits = 0
			}
		}
		return putSockaddr(arg, netip.AddrFrom4(mask), need)

	default:
		return fmt.Errorf("%w: ioctl %#x on %s", core.ErrUnsupported, code, d.Name)
	}
	return nil
}

// putSockaddr writes a sockaddr_in: family at [0:2], address at [4:8].
func putSockaddr(arg []byte, addr netip.Addr, need func(int) error) error {
	if err := need(8); err != nil {
		return err
	}
	if !addr.Is4() {
		return fmt.Errorf("%w: no IPv4 address", core.ErrNotFound)
	}
	binary.NativeEndian.PutUint16(arg, unix.AF_INET)
	a := addr.As4()
	copy(arg[4:8], a[:])
	return nil
}
