package ip

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/socket"
	"firestige.xyz/netcore/internal/udp"
)

// Input decodes received frames and delivers them: ARP to the resolver,
// UDP to the bound socket, IPv4 to matching raw sockets. One Input is not
// safe for concurrent use; the stack lock serializes it.
type Input struct {
	pool     *buffer.Pool
	sockets  *socket.Table
	udp      *udp.Ports
	resolver *arp.Resolver

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	arp     layers.ARP
	ip4     layers.IPv4
	udpL    layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType
}

func NewInput(pool *buffer.Pool, sockets *socket.Table, ports *udp.Ports, resolver *arp.Resolver) *Input {
	in := &Input{
		pool:     pool,
		sockets:  sockets,
		udp:      ports,
		resolver: resolver,
	}
	in.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&in.eth,
		&in.arp,
		&in.ip4,
		&in.udpL,
		&in.payload,
	)
	in.parser.IgnoreUnsupported = true
	return in
}

// Receive processes one Ethernet frame taken from dev. Frames that are not
// for this host are dropped silently.
func (in *Input) Receive(dev *device.Device, frame []byte) error {
	dev.Received()
	in.decoded = in.decoded[:0]

	if err := in.parser.DecodeLayers(frame, &in.decoded); err != nil {
		metrics.PacketsTotal.WithLabelValues("rx", "malformed").Inc()
		return fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
	}

	var gotIP, gotUDP bool
	for _, layerType := range in.decoded {
		switch layerType {
		case layers.LayerTypeARP:
			metrics.PacketsTotal.WithLabelValues("rx", "arp").Inc()
			return in.resolver.Input(dev, &in.arp)
		case layers.LayerTypeIPv4:
			gotIP = true
		case layers.LayerTypeUDP:
			gotUDP = true
		}
	}
	if !gotIP {
		metrics.PacketsTotal.WithLabelValues("rx", "unsupported").Inc()
		return nil
	}
	return in.ipv4(dev, gotUDP)
}

func (in *Input) ipv4(dev *device.Device, gotUDP bool) error {
	src, _ := netip.AddrFromSlice(in.ip4.SrcIP)
	dst, _ := netip.AddrFromSlice(in.ip4.DstIP)
	src, dst = src.Unmap(), dst.Unmap()

	var flags buffer.PacketFlags
	switch {
	case dev.IsBroadcast(dst):
		flags |= buffer.FlagBroadcast
	case dst.IsMulticast():
		flags |= buffer.FlagMulticast
	case dst == dev.Addr(), dev.Type == device.TypeLoopback:
	default:
		metrics.PacketsTotal.WithLabelValues("rx", "not_local").Inc()
		return nil
	}

	meta := buffer.Meta{
		Src:    netip.AddrPortFrom(src, 0),
		Dst:    netip.AddrPortFrom(dst, 0),
		Device: dev.Index,
		Flags:  flags,
	}

	for _, s := range in.sockets.List() {
		if s.Type == socket.TypeRaw && (s.Protocol == 0 || s.Protocol == int(in.ip4.Protocol)) {
			packet := append(append([]byte(nil), in.ip4.Contents...), in.ip4.Payload...)
			in.deliver(s, meta, packet)
		}
	}

	if !gotUDP {
		return nil
	}
	sd, ok := in.udp.Owner(uint16(in.udpL.DstPort))
	if !ok {
		metrics.PacketsTotal.WithLabelValues("rx", "no_port").Inc()
		return nil
	}
	s, err := in.sockets.Get(sd)
	if err != nil {
		return err
	}
	meta.Src = netip.AddrPortFrom(src, uint16(in.udpL.SrcPort))
	meta.Dst = netip.AddrPortFrom(dst, uint16(in.udpL.DstPort))
	in.deliver(s, meta, in.udpL.Payload)
	return nil
}

// deliver copies data into a chain on the receive queue of s, dropping it
// when the queue would exceed the socket's receive limit.
func (in *Input) deliver(s *socket.Socket, meta buffer.Meta, data []byte) {
	logger := log.GetLogger().WithField("sd", s.Descriptor)
	if s.PendingBytes()+len(data) > s.RcvBuf {
		metrics.PacketsTotal.WithLabelValues("rx", "overflow").Inc()
		logger.Debug("receive queue full, datagram dropped")
		return
	}
	chain, err := in.pool.ChainFromBytes(data)
	if err != nil {
		metrics.PacketsTotal.WithLabelValues("rx", "no_buffers").Inc()
		logger.WithError(err).Debug("datagram dropped")
		return
	}
	_ = in.pool.SetMeta(chain, meta)
	if err := in.pool.Enqueue(&s.Recv, chain); err != nil {
		in.pool.FreeChain(chain)
		logger.WithError(err).Warn("failed to queue datagram")
		return
	}
	metrics.PacketsTotal.WithLabelValues("rx", "delivered").Inc()
}
