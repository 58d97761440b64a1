// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net"
)

// Family is an address family as carried in socket and route APIs.
type Family uint8

const (
	FamilyUnspec Family = 0
	FamilyINET   Family = 2  // AF_INET
	FamilyINET6  Family = 10 // AF_INET6
)

func (f Family) String() string {
	switch f {
	case FamilyINET:
		return "inet"
	case FamilyINET6:
		return "inet6"
	default:
		return "unspec"
	}
}

// ParseFamily accepts "inet" or "inet6"; the empty string means inet.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "", "inet", "ipv4":
		return FamilyINET, nil
	case "inet6", "ipv6":
		return FamilyINET6, nil
	}
	return FamilyUnspec, fmt.Errorf("%w: address family %q", ErrInvalidParameter, s)
}

// IP protocol numbers used for socket levels and demultiplexing.
const (
	ProtoIP   = 0
	ProtoTCP  = 6
	ProtoUDP  = 17
	ProtoICMP = 1
)

// HardwareAddr is a 6-byte Ethernet address.
type HardwareAddr [6]byte

var (
	BroadcastHW = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	ZeroHW      = HardwareAddr{}
)

// ParseHardwareAddr parses "aa:bb:cc:dd:ee:ff" and rejects non-Ethernet lengths.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return HardwareAddr{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return HardwareAddrFromSlice(mac)
}

// HardwareAddrFromSlice copies a 6-byte slice.
func HardwareAddrFromSlice(b []byte) (HardwareAddr, error) {
	var hw HardwareAddr
	if len(b) != len(hw) {
		return hw, fmt.Errorf("%w: hardware address length %d", ErrInvalidParameter, len(b))
	}
	copy(hw[:], b)
	return hw, nil
}

func (h HardwareAddr) String() string {
	return net.HardwareAddr(h[:]).String()
}

func (h HardwareAddr) IsZero() bool {
	return h == ZeroHW
}
