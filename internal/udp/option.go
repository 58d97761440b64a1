package udp

import (
	"firestige.xyz/netcore/internal/socket"
)

// OptionHandler serves socket.LevelUDP.
type OptionHandler struct {
	ports *Ports
}

func NewOptionHandler(ports *Ports) *OptionHandler {
	return &OptionHandler{ports: ports}
}

func (h *OptionHandler) Level() socket.Level { return socket.LevelUDP }

func (h *OptionHandler) port(s *socket.Socket, name socket.Name) (*Port, error) {
	if s.Type != socket.TypeDgram {
		return nil, socket.UnknownOption(socket.LevelUDP, name)
	}
	return h.ports.Get(s.PCB, s.Descriptor)
}

func (h *OptionHandler) GetOption(s *socket.Socket, name socket.Name, out []byte) (int, error) {
	port, err := h.port(s, name)
	if err != nil {
		return 0, err
	}
	switch name {
	case socket.UDPNoChecksum:
		return socket.PutBool(out, port.NoChecksum)
	default:
		return 0, socket.UnknownOption(socket.LevelUDP, name)
	}
}

func (h *OptionHandler) SetOption(s *socket.Socket, name socket.Name, value []byte) error {
	port, err := h.port(s, name)
	if err != nil {
		return err
	}
	switch name {
	case socket.UDPNoChecksum:
		on, err := socket.ParseBool(value)
		if err != nil {
			return err
		}
		port.NoChecksum = on
		return nil
	default:
		return socket.UnknownOption(socket.LevelUDP, name)
	}
}
