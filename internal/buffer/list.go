package buffer

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
)

// List is a FIFO of packets linked through their head buffers.
// The zero List is empty.
type List struct {
	head, tail Handle
	n          int
	bytes      int
}

func (l *List) Len() int { return l.n }

// Bytes returns the total payload queued.
func (l *List) Bytes() int { return l.bytes }

// Enqueue appends the packet whose chain starts at h.
func (p *Pool) Enqueue(l *List, h Handle) error {
	s, err := p.slot(h)
	if err != nil {
		return err
	}
	if !s.nextPacket.IsNil() || l.tail == h {
		return fmt.Errorf("%w: %s already queued", core.ErrInvalidBuffer, h)
	}
	if l.tail.IsNil() {
		l.head = h
	} else {
		p.slots[l.tail.idx-1].nextPacket = h
	}
	l.tail = h
	l.n++
	l.bytes += p.ChainLen(h)
	return nil
}

// Dequeue removes the first packet, returning Nil when the list is empty.
func (p *Pool) Dequeue(l *List) Handle {
	h := l.head
	if h.IsNil() {
		return Nil
	}
	s := &p.slots[h.idx-1]
	l.head = s.nextPacket
	s.nextPacket = Nil
	if l.head.IsNil() {
		l.tail = Nil
	}
	l.n--
	l.bytes -= p.ChainLen(h)
	return h
}

// Peek returns the first packet without removing it.
func (l *List) Peek() Handle { return l.head }

// Drain frees every queued packet and empties the list.
func (p *Pool) Drain(l *List) int {
	freed := 0
	for h := p.Dequeue(l); !h.IsNil(); h = p.Dequeue(l) {
		freed += p.FreeChain(h)
	}
	return freed
}
