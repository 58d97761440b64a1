// Package socket holds the socket descriptor table and the per-level option
// dispatch shared by the protocol layers.
package socket

import (
	"fmt"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"

	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/core"
)

// Type is the socket type.
type Type int

const (
	TypeStream Type = unix.SOCK_STREAM
	TypeDgram  Type = unix.SOCK_DGRAM
	TypeRaw    Type = unix.SOCK_RAW
)

func (t Type) String() string {
	switch t {
	case TypeStream:
		return "stream"
	case TypeDgram:
		return "dgram"
	case TypeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// ParseType maps "stream", "dgram" and "raw" onto a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "stream", "tcp":
		return TypeStream, nil
	case "dgram", "udp":
		return TypeDgram, nil
	case "raw":
		return TypeRaw, nil
	default:
		return 0, fmt.Errorf("%w: socket type %q", core.ErrInvalidParameter, s)
	}
}

// State is the lifecycle position of a socket.
type State uint8

const (
	StateUnused State = iota
	StateOpen
	StateBound
	StateConnected
	StateListening
	StateClosed
)

func (s State) String() string {
	return [...]string{"unused", "open", "bound", "connected", "listening", "closed"}[s]
}

// Options are the boolean socket and IP options.
type Options uint16

const (
	OptBroadcast Options = 1 << iota
	OptLinger
	OptReuseAddr
	OptHdrIncl
	OptPktInfo
	OptRecvIfAddr
)

const (
	DefaultTTL          = 64
	DefaultMulticastTTL = 1
	DefaultRcvBuf       = 16384
)

// Socket is one descriptor table slot. Everything but Descriptor is guarded
// by the stack lock.
type Socket struct {
	Descriptor int
	Family     core.Family
	Type       Type
	Protocol   int
	State      State

	Port uint16 // local port, 0 until bound
	PCB  int    // control block index, -1 when none

	Opts         Options
	TTL          uint8
	MulticastTTL uint8
	MulticastIf  netip.Addr
	TOS          uint8
	Linger       int // seconds
	RcvBuf       int // receive queue byte limit

	Recv buffer.List
}

func (s *Socket) Has(o Options) bool { return s.Opts&o != 0 }

// SetFlag turns o on for non-zero values and off for zero.
func (s *Socket) SetFlag(o Options, on bool) {
	if on {
		s.Opts |= o
	} else {
		s.Opts &^= o
	}
}

// PendingBytes returns the bytes waiting in the receive queue.
func (s *Socket) PendingBytes() int { return s.Recv.Bytes() }

// Info is the externally visible state of a socket.
type Info struct {
	Descriptor int    `json:"sd" yaml:"sd" mapstructure:"sd"`
	Family     string `json:"family" yaml:"family" mapstructure:"family"`
	Type       string `json:"type" yaml:"type" mapstructure:"type"`
	Protocol   int    `json:"protocol" yaml:"protocol" mapstructure:"protocol"`
	State      string `json:"state" yaml:"state" mapstructure:"state"`
	Port       uint16 `json:"port" yaml:"port" mapstructure:"port"`
	Pending    int    `json:"pending" yaml:"pending" mapstructure:"pending"`
}

func (s *Socket) Info() Info {
	return Info{
		Descriptor: s.Descriptor,
		Family:     s.Family.String(),
		Type:       s.Type.String(),
		Protocol:   s.Protocol,
		State:      s.State.String(),
		Port:       s.Port,
		Pending:    s.PendingBytes(),
	}
}

// Table is the fixed-size descriptor table. A descriptor is valid while it
// is in range and its slot is occupied.
type Table struct {
	mu    sync.RWMutex
	slots []*Socket
}

func NewTable(size int) *Table {
	return &Table{slots: make([]*Socket, size)}
}

func (t *Table) Size() int { return len(t.slots) }

// Open claims the lowest free descriptor.
func (t *Table) Open(family core.Family, typ Type, protocol int) (*Socket, error) {
	if family != core.FamilyINET {
		return nil, fmt.Errorf("%w: family %s", core.ErrUnsupported, family)
	}
	switch typ {
	case TypeStream, TypeDgram, TypeRaw:
	default:
		return nil, fmt.Errorf("%w: socket type %d", core.ErrUnsupported, typ)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for sd, s := range t.slots {
		if s != nil {
			continue
		}
		s = &Socket{
			Descriptor:   sd,
			Family:       family,
			Type:         typ,
			Protocol:     protocol,
			State:        StateOpen,
			PCB:          -1,
			TTL:          DefaultTTL,
			MulticastTTL: DefaultMulticastTTL,
			RcvBuf:       DefaultRcvBuf,
		}
		t.slots[sd] = s
		return s, nil
	}
	return nil, fmt.Errorf("%w: socket table full (%d)", core.ErrNoMemory, len(t.slots))
}

// Get returns the socket at sd or core.ErrInvalidSocket.
func (t *Table) Get(sd int) (*Socket, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if sd < 0 || sd >= len(t.slots) || t.slots[sd] == nil {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidSocket, sd)
	}
	return t.slots[sd], nil
}

// Valid reports whether sd names an open socket.
func (t *Table) Valid(sd int) bool {
	_, err := t.Get(sd)
	return err == nil
}

// Release empties the slot of sd.
func (t *Table) Release(sd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sd < 0 || sd >= len(t.slots) || t.slots[sd] == nil {
		return fmt.Errorf("%w: %d", core.ErrInvalidSocket, sd)
	}
	t.slots[sd].State = StateClosed
	t.slots[sd] = nil
	return nil
}

// List returns the open sockets in descriptor order.
func (t *Table) List() []*Socket {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Socket, 0, len(t.slots))
	for _, s := range t.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of open sockets.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.slots {
		if s != nil {
			n++
		}
	}
	return n
}
