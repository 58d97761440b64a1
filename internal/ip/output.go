package ip

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv4"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
)

const (
	headerLen    = ipv4.HeaderLen
	udpHeaderLen = 8
	ethHeaderLen = 14
)

// Datagram addresses one outgoing packet.
type Datagram struct {
	SrcPort    uint16
	Dst        netip.AddrPort
	NoChecksum bool // UDP only
}

// Output is the IPv4 transmit path. It expects the stack lock to be held.
type Output struct {
	pool     *buffer.Pool
	routes   *route.Tables
	devices  *device.Registry
	resolver *arp.Resolver
	ident    uint16
}

// NewOutput wires the transmit path and installs it as the resolver's
// output for packets released after resolution.
func NewOutput(pool *buffer.Pool, routes *route.Tables, devices *device.Registry, resolver *arp.Resolver) *Output {
	o := &Output{
		pool:     pool,
		routes:   routes,
		devices:  devices,
		resolver: resolver,
	}
	resolver.SetOutput(o.Transmit)
	return o
}

// Send prepends the IPv4 (and UDP) headers to payload, routes, resolves and
// transmits it. Send owns payload from the call on: it is transmitted, held
// for address resolution, or freed. A packet held for resolution is a
// success.
func (o *Output) Send(s *socket.Socket, d Datagram, payload buffer.Handle) error {
	err := o.send(s, d, payload)
	if err != nil {
		metrics.PacketsTotal.WithLabelValues("tx", "error").Inc()
	}
	return err
}

func (o *Output) send(s *socket.Socket, d Datagram, payload buffer.Handle) error {
	dst := d.Dst.Addr()
	if !dst.Is4() || dst.IsUnspecified() {
		o.pool.FreeChain(payload)
		return fmt.Errorf("%w: destination %s", core.ErrInvalidParameter, dst)
	}

	dev, nextHop, err := o.route(s, dst)
	if err != nil {
		o.pool.FreeChain(payload)
		return err
	}

	var flags buffer.PacketFlags
	switch {
	case dev.IsBroadcast(dst):
		if !s.Has(socket.OptBroadcast) {
			o.pool.FreeChain(payload)
			return fmt.Errorf("%w: broadcast to %s without broadcast option", core.ErrNotPermitted, dst)
		}
		flags |= buffer.FlagBroadcast
	case dst.IsMulticast():
		flags |= buffer.FlagMulticast
	}

	chain := payload
	if s.Type == socket.TypeRaw && s.Has(socket.OptHdrIncl) {
		if err := o.checkHeader(payload); err != nil {
			o.pool.FreeChain(payload)
			return err
		}
	} else {
		hdr, err := o.header(s, dev, d, flags, payload)
		if err != nil {
			o.pool.FreeChain(payload)
			return err
		}
		o.pool.Concatenate(hdr, payload)
		chain = hdr
	}

	if n := o.pool.ChainLen(chain); n > dev.MTU {
		o.pool.FreeChain(chain)
		return fmt.Errorf("%w: %d bytes exceed mtu %d of %s", core.ErrInvalidParameter, n, dev.MTU, dev.Name)
	}
	_ = o.pool.SetMeta(chain, buffer.Meta{
		Src:    netip.AddrPortFrom(dev.Addr(), d.SrcPort),
		Dst:    d.Dst,
		Device: dev.Index,
		Flags:  flags,
	})

	hw, err := o.resolver.Resolve(dev, nextHop, flags, chain)
	if errors.Is(err, core.ErrUnresolved) {
		return nil
	}
	if err != nil {
		o.pool.FreeChain(chain)
		return err
	}
	return o.Transmit(dev, hw, chain)
}

func (o *Output) route(s *socket.Socket, dst netip.Addr) (*device.Device, netip.Addr, error) {
	if dst.IsMulticast() && s.MulticastIf.IsValid() {
		dev := o.devices.ByAddr(s.MulticastIf)
		if dev == nil {
			return nil, netip.Addr{}, fmt.Errorf("%w: multicast interface %s is gone", core.ErrNoRoute, s.MulticastIf)
		}
		return dev, dst, nil
	}

	table, err := o.routes.Table(core.FamilyINET)
	if err != nil {
		return nil, netip.Addr{}, err
	}
	r, err := table.Lookup(dst)
	if err != nil {
		return nil, netip.Addr{}, err
	}
	dev, err := o.devices.ByName(r.Device)
	if err != nil {
		return nil, netip.Addr{}, fmt.Errorf("route %s: %w", r.Prefix, err)
	}
	return dev, r.Gateway(dst), nil
}

// header builds the IPv4 and transport headers for payload in a fresh buffer.
func (o *Output) header(s *socket.Socket, dev *device.Device, d Datagram, flags buffer.PacketFlags, payload buffer.Handle) (buffer.Handle, error) {
	ttl := s.TTL
	if flags&buffer.FlagMulticast != 0 {
		ttl = s.MulticastTTL
	}
	o.ident++
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TOS:      s.TOS,
		Id:       o.ident,
		TTL:      ttl,
		Protocol: layers.IPProtocol(s.Protocol),
		SrcIP:    dev.Addr().AsSlice(),
		DstIP:    d.Dst.Addr().AsSlice(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	body := gopacket.Payload(o.pool.Bytes(payload))
	n := headerLen

	var err error
	if s.Type == socket.TypeDgram {
		ip4.Protocol = layers.IPProtocolUDP
		u := &layers.UDP{SrcPort: layers.UDPPort(d.SrcPort), DstPort: layers.UDPPort(d.Dst.Port())}
		if err := u.SetNetworkLayerForChecksum(ip4); err != nil {
			return buffer.Nil, err
		}
		err = gopacket.SerializeLayers(buf, opts, ip4, u, body)
		n += udpHeaderLen
	} else {
		err = gopacket.SerializeLayers(buf, opts, ip4, body)
	}
	if err != nil {
		return buffer.Nil, fmt.Errorf("serialize ip header: %w", err)
	}
	raw := buf.Bytes()[:n]
	if d.NoChecksum && s.Type == socket.TypeDgram {
		raw[headerLen+6], raw[headerLen+7] = 0, 0
	}

	h, err := o.pool.Allocate()
	if err != nil {
		return buffer.Nil, err
	}
	copy(o.pool.Space(h), raw)
	if err := o.pool.SetLen(h, n); err != nil {
		o.pool.FreeChain(h)
		return buffer.Nil, err
	}
	return h, nil
}

// checkHeader validates a caller supplied IPv4 header.
func (o *Output) checkHeader(chain buffer.Handle) error {
	b := o.pool.Bytes(chain)
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
	}
	if h.Version != ipv4.Version {
		return fmt.Errorf("%w: ip version %d", core.ErrInvalidParameter, h.Version)
	}
	if h.TotalLen != len(b) {
		return fmt.Errorf("%w: total length %d, packet is %d bytes", core.ErrInvalidParameter, h.TotalLen, len(b))
	}
	return nil
}

// Transmit frames chain for dev and hands it to the driver without copying
// the payload. The chain is freed whatever the outcome.
func (o *Output) Transmit(dev *device.Device, hw core.HardwareAddr, chain buffer.Handle) error {
	defer o.pool.FreeChain(chain)

	eth := &layers.Ethernet{
		SrcMAC:       dev.HW[:],
		DstMAC:       hw[:],
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := eth.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return fmt.Errorf("serialize ethernet header: %w", err)
	}

	// the serializer pads short frames; only the header is wanted
	frame := [][]byte{buf.Bytes()[:ethHeaderLen]}
	for h := chain; !h.IsNil(); h = o.pool.Next(h) {
		frame = append(frame, o.pool.Data(h))
	}
	if err := dev.Transmit(frame); err != nil {
		metrics.PacketsTotal.WithLabelValues("tx", "error").Inc()
		return err
	}
	metrics.PacketsTotal.WithLabelValues("tx", "sent").Inc()
	return nil
}
