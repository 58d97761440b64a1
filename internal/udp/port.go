// Package udp holds the UDP control blocks, their option surface and the
// local port demultiplexing used on input.
package udp

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/socket"
)

// Port is one UDP control block.
type Port struct {
	Owner      int    // socket descriptor
	LocalPort  uint16 // 0 until bound
	NoChecksum bool   // send with a zero checksum
}

// Ports is the fixed UDP control block table, guarded by the stack lock.
type Ports struct {
	slots  []*Port
	cursor uint16
}

func NewPorts(max int) *Ports {
	return &Ports{slots: make([]*Port, max)}
}

// Make creates a control block owned by sd and returns its index.
func (p *Ports) Make(sd int, local uint16) (int, error) {
	if local != 0 && p.Lookup(local) >= 0 {
		return -1, fmt.Errorf("%w: udp port %d", core.ErrAddressInUse, local)
	}
	for i, slot := range p.slots {
		if slot == nil {
			p.slots[i] = &Port{Owner: sd, LocalPort: local}
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: udp port table full (%d)", core.ErrNoMemory, len(p.slots))
}

// Get returns the block at index if it is still owned by sd.
func (p *Ports) Get(index, sd int) (*Port, error) {
	if index < 0 || index >= len(p.slots) || p.slots[index] == nil {
		return nil, fmt.Errorf("%w: udp control block %d is gone", core.ErrInvalidSocket, index)
	}
	if port := p.slots[index]; port.Owner != sd {
		return nil, fmt.Errorf("%w: udp control block %d belongs to socket %d", core.ErrInvalidSocket, index, port.Owner)
	}
	return p.slots[index], nil
}

// Bind sets the local port of the block at index, picking an ephemeral port
// for 0, and returns the port bound.
func (p *Ports) Bind(index, sd int, local uint16) (uint16, error) {
	port, err := p.Get(index, sd)
	if err != nil {
		return 0, err
	}
	if local == 0 {
		inUse := func(n uint16) bool { return p.Lookup(n) >= 0 }
		if local, err = socket.UniquePort(&p.cursor, inUse); err != nil {
			return 0, err
		}
	} else if i := p.Lookup(local); i >= 0 && i != index {
		return 0, fmt.Errorf("%w: udp port %d", core.ErrAddressInUse, local)
	}
	port.LocalPort = local
	return local, nil
}

// Lookup returns the index of the block bound to local, or -1.
func (p *Ports) Lookup(local uint16) int {
	if local == 0 {
		return -1
	}
	for i, port := range p.slots {
		if port != nil && port.LocalPort == local {
			return i
		}
	}
	return -1
}

// Owner returns the descriptor bound to local.
func (p *Ports) Owner(local uint16) (int, bool) {
	i := p.Lookup(local)
	if i < 0 {
		return -1, false
	}
	return p.slots[i].Owner, true
}

// Cleanup tears down the block at index.
func (p *Ports) Cleanup(index int) error {
	if index < 0 || index >= len(p.slots) || p.slots[index] == nil {
		return fmt.Errorf("%w: udp control block %d", core.ErrNotFound, index)
	}
	p.slots[index] = nil
	return nil
}

// Len returns the number of live blocks.
func (p *Ports) Len() int {
	n := 0
	for _, port := range p.slots {
		if port != nil {
			n++
		}
	}
	return n
}
