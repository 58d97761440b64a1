// Package tcp holds the TCP control blocks and the TCP option surface. The
// connection state machine lives elsewhere; a Port only carries what socket
// options read and write.
package tcp

import (
	"fmt"
	"time"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/socket"
)

const (
	MaxWindow            = 65535
	DefaultKeepAliveWait = 2 * time.Hour
)

// Port is one TCP control block.
type Port struct {
	Owner         int    // socket descriptor
	LocalPort     uint16 // 0 until bound
	Window        int    // advertised receive window in bytes
	NoDelay       bool   // push every segment, no Nagle
	KeepAlive     bool
	DSACK         bool
	KeepAliveWait time.Duration
}

// Ports is the fixed TCP control block table. Indexes stay stable for the
// life of a block; Cleanup empties the slot so a later Get with the old
// index fails. Guarded by the stack lock.
type Ports struct {
	slots  []*Port
	window int
	cursor uint16
}

func NewPorts(max, defaultWindow int) *Ports {
	if defaultWindow <= 0 || defaultWindow > MaxWindow {
		defaultWindow = MaxWindow
	}
	return &Ports{slots: make([]*Port, max), window: defaultWindow}
}

// Make creates a control block owned by sd and returns its index.
func (p *Ports) Make(sd int, local uint16) (int, error) {
	if local != 0 && p.inUse(local) {
		return -1, fmt.Errorf("%w: tcp port %d", core.ErrAddressInUse, local)
	}
	for i, slot := range p.slots {
		if slot != nil {
			continue
		}
		p.slots[i] = &Port{
			Owner:         sd,
			LocalPort:     local,
			Window:        p.window,
			KeepAliveWait: DefaultKeepAliveWait,
		}
		return i, nil
	}
	return -1, fmt.Errorf("%w: tcp port table full (%d)", core.ErrNoMemory, len(p.slots))
}

// Get returns the block at index if it is still owned by sd.
func (p *Ports) Get(index, sd int) (*Port, error) {
	if index < 0 || index >= len(p.slots) || p.slots[index] == nil {
		return nil, fmt.Errorf("%w: tcp control block %d is gone", core.ErrInvalidSocket, index)
	}
	if port := p.slots[index]; port.Owner != sd {
		return nil, fmt.Errorf("%w: tcp control block %d belongs to socket %d", core.ErrInvalidSocket, index, port.Owner)
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
		if local, err = socket.UniquePort(&p.cursor, p.inUse); err != nil {
			return 0, err
		}
	} else if local != port.LocalPort && p.inUse(local) {
		return 0, fmt.Errorf("%w: tcp port %d", core.ErrAddressInUse, local)
	}
	port.LocalPort = local
	return local, nil
}

// Cleanup tears down the block at index.
func (p *Ports) Cleanup(index int) error {
	if index < 0 || index >= len(p.slots) || p.slots[index] == nil {
		return fmt.Errorf("%w: tcp control block %d", core.ErrNotFound, index)
	}
	p.slots[index] = nil
	return nil
}

func (p *Ports) inUse(local uint16) bool {
	for _, port := range p.slots {
		if port != nil && port.LocalPort == local {
			return true
		}
	}
	return false
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
