package buffer

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
)

// Next returns the buffer after h in its chain, or Nil.
func (p *Pool) Next(h Handle) Handle {
	s, err := p.slot(h)
	if err != nil {
		return Nil
	}
	return s.next
}

// Concatenate appends the chain src to the end of the chain dest and
// transfers ownership of src to dest. src must be the head of a chain. It is
// a no-op, returning false, when either handle is absent or stale, when src
// is linked behind another buffer, or when the two chains already share a
// buffer; linking them would create a cycle.
func (p *Pool) Concatenate(dest, src Handle) bool {
	if !p.Valid(dest) || !p.Valid(src) {
		return false
	}
	if p.slots[src.idx-1].linked {
		return false
	}
	tail := p.tail(dest)
	if tail == p.tail(src) {
		return false
	}
	p.slots[tail.idx-1].next = src
	p.slots[src.idx-1].linked = true
	return true
}

func (p *Pool) tail(h Handle) Handle {
	for {
		next := p.slots[h.idx-1].next
		if next.IsNil() {
			return h
		}
		h = next
	}
}

// AllocateChain allocates enough buffers to carry n bytes (at least one) and
// links them. On exhaustion every buffer taken so far is returned.
func (p *Pool) AllocateChain(n int) (Handle, error) {
	if n < 0 {
		return Nil, fmt.Errorf("%w: negative chain length", core.ErrInvalidParameter)
	}
	count := (n + p.size - 1) / p.size
	if count == 0 {
		count = 1
	}
	head, err := p.Allocate()
	if err != nil {
		return Nil, err
	}
	prev := head
	for i := 1; i < count; i++ {
		h, err := p.Allocate()
		if err != nil {
			p.FreeChain(head)
			return Nil, err
		}
		p.slots[prev.idx-1].next = h
		p.slots[h.idx-1].linked = true
		prev = h
	}
	return head, nil
}

// ChainFromBytes copies b into a freshly allocated chain.
func (p *Pool) ChainFromBytes(b []byte) (Handle, error) {
	head, err := p.AllocateChain(len(b))
	if err != nil {
		return Nil, err
	}
	for h := head; !h.IsNil(); h = p.slots[h.idx-1].next {
		s := &p.slots[h.idx-1]
		s.length = copy(s.data, b)
		b = b[s.length:]
	}
	return head, nil
}

// FreeChain deallocates every buffer of the chain starting at h and returns
// how many were freed. It stops at the first invalid link.
func (p *Pool) FreeChain(h Handle) int {
	freed := 0
	for !h.IsNil() {
		s, err := p.slot(h)
		if err != nil {
			break
		}
		next := s.next
		if p.Deallocate(h) != nil {
			break
		}
		freed++
		h = next
	}
	return freed
}

// ChainLen returns the number of filled bytes across the chain.
func (p *Pool) ChainLen(h Handle) int {
	n := 0
	for !h.IsNil() {
		s, err := p.slot(h)
		if err != nil {
			break
		}
		n += s.length
		h = s.next
	}
	return n
}

// Buffers returns the number of buffers in the chain.
func (p *Pool) Buffers(h Handle) int {
	n := 0
	for ; p.Valid(h); h = p.slots[h.idx-1].next {
		n++
	}
	return n
}

// Bytes gathers the chain into one contiguous slice.
func (p *Pool) Bytes(h Handle) []byte {
	out := make([]byte, 0, p.ChainLen(h))
	for !h.IsNil() {
		s, err := p.slot(h)
		if err != nil {
			break
		}
		out = append(out, s.data[:s.length]...)
		h = s.next
	}
	return out
}
