// Package ip implements the IPv4 layer: the IP option surface, the output
// path that routes, resolves and transmits socket traffic, and the input
// path that demultiplexes received frames.
package ip

import (
	"fmt"
	"net/netip"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/socket"
)

// Interfaces finds the device owning a local address.
type Interfaces interface {
	ByAddr(addr netip.Addr) *device.Device
}

// OptionHandler serves socket.LevelIP. The options live on the socket itself.
type OptionHandler struct {
	ifaces Interfaces
}

func NewOptionHandler(ifaces Interfaces) *OptionHandler {
	return &OptionHandler{ifaces: ifaces}
}

func (h *OptionHandler) Level() socket.Level { return socket.LevelIP }

func (h *OptionHandler) GetOption(s *socket.Socket, name socket.Name, out []byte) (int, error) {
	switch name {
	case socket.IPTTL:
		return socket.PutInt(out, int(s.TTL))
	case socket.IPMulticastTTL:
		return socket.PutInt(out, int(s.MulticastTTL))
	case socket.IPTOS:
		return socket.PutInt(out, int(s.TOS))
	case socket.IPHdrIncl:
		return socket.PutBool(out, s.Has(socket.OptHdrIncl))
	case socket.IPPktInfo:
		return socket.PutBool(out, s.Has(socket.OptPktInfo))
	case socket.IPRecvIfAddr:
		return socket.PutBool(out, s.Has(socket.OptRecvIfAddr))
	case socket.IPMulticastIf:
		if len(out) < socket.AddrSize {
			return 0, fmt.Errorf("%w: address buffer needs %d bytes", core.ErrInvalidParameter, socket.AddrSize)
		}
		return copy(out, socket.Addr4(s.MulticastIf)), nil
	default:
		return 0, socket.UnknownOption(socket.LevelIP, name)
	}
}

func (h *OptionHandler) SetOption(s *socket.Socket, name socket.Name, value []byte) error {
	switch name {
	case socket.IPTTL:
		v, err := byteRange(value, 1, "ttl")
		if err != nil {
			return err
		}
		s.TTL = v

	case socket.IPMulticastTTL:
		v, err := byteRange(value, 0, "multicast ttl")
		if err != nil {
			return err
		}
		s.MulticastTTL = v

	case socket.IPTOS:
		v, err := byteRange(value, 0, "tos")
		if err != nil {
			return err
		}
		s.TOS = v

	case socket.IPHdrIncl:
		if s.Type != socket.TypeRaw {
			return socket.UnknownOption(socket.LevelIP, name)
		}
		return setFlag(s, socket.OptHdrIncl, value)

	case socket.IPPktInfo:
		return setFlag(s, socket.OptPktInfo, value)

	case socket.IPRecvIfAddr:
		return setFlag(s, socket.OptRecvIfAddr, value)

	case socket.IPMulticastIf:
		addr, err := socket.ParseAddr4(value)
		if err != nil {
			return err
		}
		if addr.IsUnspecified() {
			s.MulticastIf = netip.Addr{}
			return nil
		}
		if h.ifaces == nil || h.ifaces.ByAddr(addr) == nil {
			return fmt.Errorf("%w: no interface with address %s", core.ErrInvalidParameter, addr)
		}
		s.MulticastIf = addr

	default:
		return socket.UnknownOption(socket.LevelIP, name)
	}
	return nil
}

func byteRange(value []byte, lo int, what string) (uint8, error) {
	v, err := socket.ParseInt(value)
	if err != nil {
		return 0, err
	}
	if v < lo || v > 255 {
		return 0, fmt.Errorf("%w: %s %d outside %d..255", core.ErrInvalidParameter, what, v, lo)
	}
	return uint8(v), nil
}

func setFlag(s *socket.Socket, o socket.Options, value []byte) error {
	on, err := socket.ParseBool(value)
	if err != nil {
		return err
	}
	s.SetFlag(o, on)
	return nil
}
