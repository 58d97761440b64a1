package socket

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
)

// KeepAlive is the part of the TCP layer that SOKeepAlive reaches into.
type KeepAlive interface {
	KeepAlive(s *Socket) (bool, error)
	SetKeepAlive(s *Socket, on bool) error
}

// SocketHandler serves LevelSocket.
type SocketHandler struct {
	tcp KeepAlive
}

// NewSocketHandler builds the socket level handler; tcp may be nil when no
// TCP layer is present.
func NewSocketHandler(tcp KeepAlive) *SocketHandler {
	return &SocketHandler{tcp: tcp}
}

func (h *SocketHandler) Level() Level { return LevelSocket }

func (h *SocketHandler) GetOption(s *Socket, name Name, out []byte) (int, error) {
	switch name {
	case SOBroadcast:
		return PutBool(out, s.Has(OptBroadcast))

	case SOReuseAddr:
		return PutBool(out, s.Has(OptReuseAddr))

	case SORcvBuf:
		return PutInt(out, s.RcvBuf)

	case SOLinger:
		if len(out) < LingerSize {
			return 0, fmt.Errorf("%w: linger buffer needs %d bytes", core.ErrInvalidParameter, LingerSize)
		}
		return copy(out, Linger(s.Has(OptLinger), s.Linger)), nil

	case SOKeepAlive:
		if s.Type != TypeStream || h.tcp == nil {
			return 0, UnknownOption(LevelSocket, name)
		}
		on, err := h.tcp.KeepAlive(s)
		if err != nil {
			return 0, err
		}
		return PutBool(out, on)

	default:
		return 0, UnknownOption(LevelSocket, name)
	}
}

func (h *SocketHandler) SetOption(s *Socket, name Name, value []byte) error {
	switch name {
	case SOBroadcast, SOReuseAddr:
		on, err := ParseBool(value)
		if err != nil {
			return err
		}
		if name == SOBroadcast {
			s.SetFlag(OptBroadcast, on)
		} else {
			s.SetFlag(OptReuseAddr, on)
		}
		return nil

	case SORcvBuf:
		v, err := ParseInt(value)
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("%w: receive buffer %d", core.ErrInvalidParameter, v)
		}
		s.RcvBuf = v
		return nil

	case SOLinger:
		on, secs, err := ParseLinger(value)
		if err != nil {
			return err
		}
		if secs < 0 {
			return fmt.Errorf("%w: linger %ds", core.ErrInvalidParameter, secs)
		}
		s.SetFlag(OptLinger, on)
		s.Linger = secs
		return nil

	case SOKeepAlive:
		if s.Type != TypeStream || h.tcp == nil {
			return UnknownOption(LevelSocket, name)
		}
		on, err := ParseBool(value)
		if err != nil {
			return err
		}
		return h.tcp.SetKeepAlive(s, on)

	default:
		return UnknownOption(LevelSocket, name)
	}
}
