package tcp

import (
	"fmt"
	"time"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/socket"
)

// OptionHandler serves socket.LevelTCP and the keep-alive flag reached
// through socket.SOKeepAlive.
type OptionHandler struct {
	ports *Ports
}

func NewOptionHandler(ports *Ports) *OptionHandler {
	return &OptionHandler{ports: ports}
}

func (h *OptionHandler) Level() socket.Level { return socket.LevelTCP }

func (h *OptionHandler) port(s *socket.Socket, name socket.Name) (*Port, error) {
	if s.Type != socket.TypeStream {
		return nil, socket.UnknownOption(socket.LevelTCP, name)
	}
	return h.ports.Get(s.PCB, s.Descriptor)
}

func (h *OptionHandler) GetOption(s *socket.Socket, name socket.Name, out []byte) (int, error) {
	port, err := h.port(s, name)
	if err != nil {
		return 0, err
	}
	switch name {
	case socket.TCPNoDelay:
		return socket.PutBool(out, port.NoDelay)
	case socket.TCPKeepAlive:
		return socket.PutBool(out, port.KeepAlive)
	case socket.TCPDSACK:
		return socket.PutBool(out, port.DSACK)
	case socket.TCPRecvWindow:
		return socket.PutInt(out, port.Window)
	case socket.TCPKeepAliveWait:
		return socket.PutInt(out, int(port.KeepAliveWait/time.Second))
	default:
		return 0, socket.UnknownOption(socket.LevelTCP, name)
	}
}

func (h *OptionHandler) SetOption(s *socket.Socket, name socket.Name, value []byte) error {
	port, err := h.port(s, name)
	if err != nil {
		return err
	}
	v, err := socket.ParseInt(value)
	if err != nil {
		return err
	}
	switch name {
	case socket.TCPNoDelay:
		port.NoDelay = v != 0
	case socket.TCPKeepAlive:
		port.KeepAlive = v != 0
	case socket.TCPDSACK:
		port.DSACK = v != 0
	case socket.TCPRecvWindow:
		if v <= 0 || v > MaxWindow {
			return fmt.Errorf("%w: tcp window %d outside 1..%d", core.ErrInvalidParameter, v, MaxWindow)
		}
		port.Window = v
	case socket.TCPKeepAliveWait:
		if v <= 0 {
			return fmt.Errorf("%w: keep-alive wait %ds", core.ErrInvalidParameter, v)
		}
		port.KeepAliveWait = time.Duration(v) * time.Second
	default:
		return socket.UnknownOption(socket.LevelTCP, name)
	}
	return nil
}

func (h *OptionHandler) KeepAlive(s *socket.Socket) (bool, error) {
	port, err := h.ports.Get(s.PCB, s.Descriptor)
	if err != nil {
		return false, err
	}
	return port.KeepAlive, nil
}

func (h *OptionHandler) SetKeepAlive(s *socket.Socket, on bool) error {
	port, err := h.ports.Get(s.PCB, s.Descriptor)
	if err != nil {
		return err
	}
	port.KeepAlive = on
	return nil
}
