// Package device holds the network devices the stack transmits on, their
// drivers and the ioctl passthrough.
package device

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"go4.org/netipx"
	"golang.org/x/sys/unix"

	"firestige.xyz/netcore/internal/core"
)

// Type is the link type of a device.
type Type uint8

const (
	TypeEthernet Type = iota + 1
	TypeLoopback
)

func (t Type) String() string {
	switch t {
	case TypeEthernet:
		return "ethernet"
	case TypeLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// ParseType maps a configuration name onto a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "ethernet", "":
		return TypeEthernet, nil
	case "loopback":
		return TypeLoopback, nil
	default:
		return 0, fmt.Errorf("%w: device type %q", core.ErrInvalidParameter, s)
	}
}

// Flags uses the kernel IFF_* bit values so SIOC[GS]IFFLAGS pass them unchanged.
type Flags uint32

const (
	FlagUp        Flags = unix.IFF_UP
	FlagBroadcast Flags = unix.IFF_BROADCAST
	FlagLoopback  Flags = unix.IFF_LOOPBACK
	FlagRunning   Flags = unix.IFF_RUNNING
	FlagMulticast Flags = unix.IFF_MULTICAST
)

// Driver is the entry point of a link driver.
type Driver interface {
	// Transmit sends one frame given as a list of segments. The segments are
	// only valid for the duration of the call.
	Transmit(dev *Device, frame [][]byte) error
	// Ioctl handles a device control request; arg is in and out.
	Ioctl(dev *Device, code uint, arg []byte) error
}

// Device is one registered interface. Mutable fields are guarded by the
// stack lock.
type Device struct {
	Name   string
	Index  int
	Type   Type
	Flags  Flags
	MTU    int
	HW     core.HardwareAddr
	Prefix netip.Prefix // interface address with its prefix length

	driver Driver

	txPackets atomic.Uint64
	txErrors  atomic.Uint64
	rxPackets atomic.Uint64
}

// New builds a device in the up state. Index is assigned by Registry.Add.
func New(name string, typ Type, hw core.HardwareAddr, prefix netip.Prefix, mtu int, drv Driver) *Device {
	flags := FlagUp | FlagRunning
	switch typ {
	case TypeLoopback:
		flags |= FlagLoopback
	default:
		flags |= FlagBroadcast | FlagMulticast
	}
	if mtu <= 0 {
		mtu = 1500
	}
	return &Device{
		Name:   name,
		Index:  -1,
		Type:   typ,
		Flags:  flags,
		MTU:    mtu,
		HW:     hw,
		Prefix: prefix,
		driver: drv,
	}
}

func (d *Device) IsUp() bool { return d.Flags&FlagUp != 0 }

// Addr returns the interface address, invalid when unnumbered.
func (d *Device) Addr() netip.Addr { return d.Prefix.Addr() }

// Broadcast returns the directed broadcast address of the attached subnet.
func (d *Device) Broadcast() netip.Addr {
	if !d.Prefix.IsValid() || !d.Prefix.Addr().Is4() {
		return netip.Addr{}
	}
	return netipx.PrefixLastIP(d.Prefix.Masked())
}

// IsBroadcast reports whether addr is the limited or directed broadcast of d.
func (d *Device) IsBroadcast(addr netip.Addr) bool {
	if addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true
	}
	return d.Prefix.Bits() < 31 && addr == d.Broadcast()
}

// OnLink reports whether addr is inside the attached subnet.
func (d *Device) OnLink(addr netip.Addr) bool {
	return d.Prefix.IsValid() && d.Prefix.Masked().Contains(addr)
}

// Transmit hands one frame to the driver.
func (d *Device) Transmit(frame [][]byte) error {
	if !d.IsUp() {
		d.txErrors.Add(1)
		return fmt.Errorf("%w: %s", core.ErrDeviceDown, d.Name)
	}
	if err := d.driver.Transmit(d, frame); err != nil {
		d.txErrors.Add(1)
		return err
	}
	d.txPackets.Add(1)
	return nil
}

// Received counts one frame taken from the driver.
func (d *Device) Received() { d.rxPackets.Add(1) }

// Ioctl forwards a control request verbatim to the driver.
func (d *Device) Ioctl(code uint, arg []byte) error {
	return d.driver.Ioctl(d, code, arg)
}

// Info is the externally visible state of a device.
type Info struct {
	Name      string `json:"name" yaml:"name" mapstructure:"name"`
	Index     int    `json:"index" yaml:"index" mapstructure:"index"`
	Type      string `json:"type" yaml:"type" mapstructure:"type"`
	Up        bool   `json:"up" yaml:"up" mapstructure:"up"`
	MTU       int    `json:"mtu" yaml:"mtu" mapstructure:"mtu"`
	HW        string `json:"hw_addr" yaml:"hw_addr" mapstructure:"hw_addr"`
	Address   string `json:"address" yaml:"address" mapstructure:"address"`
	Broadcast string `json:"broadcast,omitempty" yaml:"broadcast,omitempty" mapstructure:"broadcast"`
	TxPackets uint64 `json:"tx_packets" yaml:"tx_packets" mapstructure:"tx_packets"`
	TxErrors  uint64 `json:"tx_errors" yaml:"tx_errors" mapstructure:"tx_errors"`
	RxPackets uint64 `json:"rx_packets" yaml:"rx_packets" mapstructure:"rx_packets"`
}

func (d *Device) Info() Info {
	info := Info{
		Name:      d.Name,
		Index:     d.Index,
		Type:      d.Type.String(),
		Up:        d.IsUp(),
		MTU:       d.MTU,
		HW:        d.HW.String(),
		TxPackets: d.txPackets.Load(),
		TxErrors:  d.txErrors.Load(),
		RxPackets: d.rxPackets.Load(),
	}
	if d.Prefix.IsValid() {
		info.Address = d.Prefix.String()
	}
	if b := d.Broadcast(); b.IsValid() && d.Type == TypeEthernet {
		info.Broadcast = b.String()
	}
	return info
}
