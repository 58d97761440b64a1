package stack

import (
	"fmt"
	"net/netip"

	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/ip"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/socket"
)

// Socket opens a socket and creates its control block. A zero protocol
// selects TCP for stream and UDP for datagram sockets.
func (s *Stack) Socket(family core.Family, typ socket.Type, protocol int) (int, error) {
	switch {
	case typ == socket.TypeStream && protocol == 0:
		protocol = core.ProtoTCP
	case typ == socket.TypeDgram && protocol == 0:
		protocol = core.ProtoUDP
	}

	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Open(family, typ, protocol)
	if err != nil {
		return -1, err
	}

	pcb := -1
	switch typ {
	case socket.TypeStream:
		pcb, err = s.tcp.Make(sock.Descriptor, 0)
	case socket.TypeDgram:
		pcb, err = s.udp.Make(sock.Descriptor, 0)
	}
	if err != nil {
		_ = s.sockets.Release(sock.Descriptor)
		return -1, err
	}
	sock.PCB = pcb

	log.GetLogger().WithFields(map[string]interface{}{
		"sd":   sock.Descriptor,
		"type": typ.String(),
	}).Debug("socket opened")
	return sock.Descriptor, nil
}

// Bind assigns the local port of sd; port 0 picks an ephemeral port. It
// returns the port bound.
func (s *Stack) Bind(sd int, port uint16) (uint16, error) {
	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return 0, err
	}
	return s.bind(sock, port)
}

func (s *Stack) bind(sock *socket.Socket, port uint16) (uint16, error) {
	if sock.State != socket.StateOpen {
		return 0, fmt.Errorf("%w: socket %d is %s", core.ErrInvalidParameter, sock.Descriptor, sock.State)
	}

	var err error
	switch sock.Type {
	case socket.TypeStream:
		port, err = s.tcp.Bind(sock.PCB, sock.Descriptor, port)
	case socket.TypeDgram:
		port, err = s.udp.Bind(sock.PCB, sock.Descriptor, port)
	}
	if err != nil {
		return 0, err
	}
	sock.Port = port
	sock.State = socket.StateBound
	return port, nil
}

// Close tears down the control block of sd, frees its receive queue and
// releases the descriptor.
func (s *Stack) Close(sd int) error {
	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return err
	}

	logger := log.GetLogger().WithField("sd", sd)
	switch sock.Type {
	case socket.TypeStream:
		err = s.tcp.Cleanup(sock.PCB)
	case socket.TypeDgram:
		err = s.udp.Cleanup(sock.PCB)
	}
	if err != nil {
		logger.WithError(err).Warn("control block already gone")
	}
	sock.PCB = -1
	if n := s.pool.Drain(&sock.Recv); n > 0 {
		logger.WithField("dropped", n).Debug("receive queue discarded")
	}
	return s.sockets.Release(sd)
}

// SendTo sends data from sd to dst. An unbound datagram socket is bound to
// an ephemeral port first. A datagram held for address resolution counts as
// sent.
func (s *Stack) SendTo(sd int, dst netip.AddrPort, data []byte) error {
	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return err
	}

	d := ip.Datagram{Dst: dst}
	switch sock.Type {
	case socket.TypeDgram:
		if sock.State == socket.StateOpen {
			if _, err := s.bind(sock, 0); err != nil {
				return err
			}
		}
		port, err := s.udp.Get(sock.PCB, sd)
		if err != nil {
			return err
		}
		d.SrcPort = sock.Port
		d.NoChecksum = port.NoChecksum
	case socket.TypeRaw:
	default:
		return fmt.Errorf("%w: send on %s socket", core.ErrUnsupported, sock.Type)
	}

	chain, err := s.pool.ChainFromBytes(data)
	if err != nil {
		return err
	}
	return s.output.Send(sock, d, chain)
}

// Message describes one datagram taken by RecvFrom.
type Message struct {
	N         int            // bytes copied
	Truncated bool           // the datagram did not fit
	From      netip.AddrPort // sender
	To        netip.AddrPort // destination, with IPPktInfo
	Device    int            // receiving device, with IPPktInfo; -1 otherwise
	IfAddr    netip.Addr     // receiving interface address, with IPRecvIfAddr
	Broadcast bool
	Multicast bool
}

// RecvFrom copies the oldest queued datagram of sd into out. It never
// waits: an empty queue fails with core.ErrNotFound.
func (s *Stack) RecvFrom(sd int, out []byte) (Message, error) {
	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return Message{}, err
	}
	h := s.pool.Dequeue(&sock.Recv)
	if h.IsNil() {
		return Message{}, fmt.Errorf("%w: no datagram queued on socket %d", core.ErrNotFound, sd)
	}
	defer s.pool.FreeChain(h)

	meta, _ := s.pool.Meta(h)
	msg := Message{
		From:      meta.Src,
		Device:    -1,
		Broadcast: meta.Flags&buffer.FlagBroadcast != 0,
		Multicast: meta.Flags&buffer.FlagMulticast != 0,
	}
	n := 0
	for b := h; !b.IsNil() && n < len(out); b = s.pool.Next(b) {
		n += copy(out[n:], s.pool.Data(b))
	}
	msg.N = n
	msg.Truncated = n < s.pool.ChainLen(h)

	if sock.Has(socket.OptPktInfo) {
		msg.To = meta.Dst
		msg.Device = meta.Device
	}
	if sock.Has(socket.OptRecvIfAddr) {
		if dev, err := s.devices.ByIndex(meta.Device); err == nil {
			msg.IfAddr = dev.Addr()
		}
	}
	return msg, nil
}

// PendingBytes returns the bytes waiting in the receive queue of sd.
func (s *Stack) PendingBytes(sd int) (int, error) {
	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return 0, err
	}
	return sock.PendingBytes(), nil
}

// Sockets lists the open sockets.
func (s *Stack) Sockets() []socket.Info {
	s.lock.Obtain()
	defer s.release()

	list := s.sockets.List()
	out := make([]socket.Info, 0, len(list))
	for _, sock := range list {
		out = append(out, sock.Info())
	}
	return out
}
