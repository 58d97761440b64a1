// Package buffer implements the fixed arena of network buffers shared by every
// protocol layer. Buffers are addressed by generation-checked handles, linked
// into chains (one packet spread over several buffers) and packet lists.
package buffer

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/metrics"
)

// Handle addresses one buffer in a Pool. The zero Handle is Nil.
type Handle struct {
	idx uint32 // slot index + 1
	gen uint32
}

// Nil is the absent buffer; it terminates every chain and list.
var Nil Handle

func (h Handle) IsNil() bool { return h.idx == 0 }

func (h Handle) String() string {
	if h.IsNil() {
		return "buf(nil)"
	}
	return fmt.Sprintf("buf(%d/%d)", h.idx-1, h.gen)
}

// PacketFlags describe how a received packet was addressed.
type PacketFlags uint8

const (
	FlagBroadcast PacketFlags = 1 << iota
	FlagMulticast
)

// Meta is the per-packet metadata kept on the head buffer of a chain.
type Meta struct {
	Src    netip.AddrPort
	Dst    netip.AddrPort
	Device int // ingress device index, -1 when unknown
	Flags  PacketFlags
}

type slot struct {
	gen      atomic.Uint32
	inUse    atomic.Bool
	freeNext atomic.Uint32 // free-list successor, index + 1

	next       Handle
	nextPacket Handle
	linked     bool // another buffer's next points here
	length     int
	data       []byte
	meta       Meta
}

// Pool is a fixed arena of equally sized buffers.
//
// The free list is a tagged Treiber stack: Allocate and Deallocate never block
// and may be called from any goroutine, with or without the stack lock held.
// Everything else on a buffer belongs to the holder of its handle.
type Pool struct {
	size  int
	arena []byte
	slots []slot

	head     atomic.Uint64 // tag<<32 | top index + 1
	free     atomic.Int64
	failures atomic.Uint64
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Total         int    `json:"total" yaml:"total" mapstructure:"total"`
	Free          int    `json:"free" yaml:"free" mapstructure:"free"`
	Size          int    `json:"size" yaml:"size" mapstructure:"size"`
	AllocFailures uint64 `json:"alloc_failures" yaml:"alloc_failures" mapstructure:"alloc_failures"`
}

// NewPool allocates count buffers of size bytes each, all initially free.
func NewPool(count, size int) *Pool {
	if count <= 0 || size <= 0 {
		panic(fmt.Sprintf("buffer: invalid pool geometry %dx%d", count, size))
	}
	p := &Pool{
		size:  size,
		arena: make([]byte, count*size),
		slots: make([]slot, count),
	}
	for i := count - 1; i >= 0; i-- {
		p.slots[i].data = p.arena[i*size : (i+1)*size : (i+1)*size]
		p.push(uint32(i))
	}
	return p
}

// BufferSize returns the capacity of one buffer.
func (p *Pool) BufferSize() int { return p.size }

func (p *Pool) push(i uint32) {
	for {
		old := p.head.Load()
		p.slots[i].freeNext.Store(uint32(old))
		next := ((old>>32)+1)<<32 | uint64(i+1)
		if p.head.CompareAndSwap(old, next) {
			p.free.Add(1)
			return
		}
	}
}

func (p *Pool) pop() (uint32, bool) {
	for {
		old := p.head.Load()
		top := uint32(old)
		if top == 0 {
			return 0, false
		}
		succ := p.slots[top-1].freeNext.Load()
		next := ((old>>32)+1)<<32 | uint64(succ)
		if p.head.CompareAndSwap(old, next) {
			p.free.Add(-1)
			return top - 1, true
		}
	}
}

// Allocate takes one buffer off the free list. It fails with
// core.ErrOutOfBuffers when the list is empty and never waits.
func (p *Pool) Allocate() (Handle, error) {
	i, ok := p.pop()
	if !ok {
		p.failures.Add(1)
		metrics.BufferAllocFailuresTotal.Inc()
		return Nil, core.ErrOutOfBuffers
	}
	s := &p.slots[i]
	s.next = Nil
	s.nextPacket = Nil
	s.linked = false
	s.length = 0
	s.meta = Meta{Device: -1}
	s.inUse.Store(true)
	return Handle{idx: i + 1, gen: s.gen.Load()}, nil
}

// Deallocate returns exactly one buffer to the free list; the rest of its
// chain is untouched. Nil, stale and already free handles fail with
// core.ErrInvalidBuffer and leave the pool unchanged.
func (p *Pool) Deallocate(h Handle) error {
	s, err := p.slot(h)
	if err != nil {
		return err
	}
	if !s.inUse.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: %s already free", core.ErrInvalidBuffer, h)
	}
	if succ, err := p.slot(s.next); err == nil {
		// the rest of the chain now starts at succ
		succ.linked = false
	}
	s.gen.Add(1)
	s.next = Nil
	s.nextPacket = Nil
	s.linked = false
	s.length = 0
	p.push(h.idx - 1)
	return nil
}

func (p *Pool) slot(h Handle) (*slot, error) {
	if h.IsNil() {
		return nil, fmt.Errorf("%w: nil handle", core.ErrInvalidBuffer)
	}
	if int(h.idx) > len(p.slots) {
		return nil, fmt.Errorf("%w: %s out of range", core.ErrInvalidBuffer, h)
	}
	s := &p.slots[h.idx-1]
	if !s.inUse.Load() || s.gen.Load() != h.gen {
		return nil, fmt.Errorf("%w: %s is stale", core.ErrInvalidBuffer, h)
	}
	return s, nil
}

// Valid reports whether h addresses an allocated buffer.
func (p *Pool) Valid(h Handle) bool {
	_, err := p.slot(h)
	return err == nil
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Total:         len(p.slots),
		Free:          int(p.free.Load()),
		Size:          p.size,
		AllocFailures: p.failures.Load(),
	}
}

// Data returns the filled part of the buffer.
func (p *Pool) Data(h Handle) []byte {
	s, err := p.slot(h)
	if err != nil {
		return nil
	}
	return s.data[:s.length]
}

// Space returns the whole buffer; pair with SetLen after writing.
func (p *Pool) Space(h Handle) []byte {
	s, err := p.slot(h)
	if err != nil {
		return nil
	}
	return s.data
}

// SetLen sets how many bytes of the buffer are in use.
func (p *Pool) SetLen(h Handle, n int) error {
	s, err := p.slot(h)
	if err != nil {
		return err
	}
	if n < 0 || n > p.size {
		return fmt.Errorf("%w: length %d outside 0..%d", core.ErrInvalidParameter, n, p.size)
	}
	s.length = n
	return nil
}

// Meta returns the packet metadata of a head buffer.
func (p *Pool) Meta(h Handle) (Meta, error) {
	s, err := p.slot(h)
	if err != nil {
		return Meta{}, err
	}
	return s.meta, nil
}

// SetMeta replaces the packet metadata of a head buffer.
func (p *Pool) SetMeta(h Handle, m Meta) error {
	s, err := p.slot(h)
	if err != nil {
		return err
	}
	s.meta = m
	return nil
}
