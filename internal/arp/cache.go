// Package arp implements IPv4 address resolution: a fixed-slot cache and a
// resolver that holds packets while requests are outstanding.
package arp

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/netcore/internal/core"
)

// Flags describe an entry.
type Flags uint8

const (
	FlagUp        Flags = 1 << iota // slot in use
	FlagPermanent                   // never expires or gets evicted
	FlagPublished                   // answer requests for this address (proxy ARP)
)

func (f Flags) String() string {
	s := ""
	if f&FlagUp != 0 {
		s += "U"
	}
	if f&FlagPermanent != 0 {
		s += "P"
	}
	if f&FlagPublished != 0 {
		s += "A"
	}
	return s
}

// Entry is one cache slot.
type Entry struct {
	Addr    netip.Addr
	HW      core.HardwareAddr
	Flags   Flags
	Updated time.Time
	TTL     time.Duration
	Device  int // -1 when added by hand and not yet used
}

// Valid reports whether the entry may be used at now.
func (e *Entry) Valid(now time.Time) bool {
	if e.Flags&FlagUp == 0 {
		return false
	}
	return e.Flags&FlagPermanent != 0 || now.Before(e.Updated.Add(e.TTL))
}

// Info is the externally visible form of an Entry.
type Info struct {
	Address string `json:"address" yaml:"address" mapstructure:"address"`
	HWAddr  string `json:"hw_addr" yaml:"hw_addr" mapstructure:"hw_addr"`
	Flags   string `json:"flags" yaml:"flags" mapstructure:"flags"`
	Device  int    `json:"device" yaml:"device" mapstructure:"device"`
	Expires string `json:"expires,omitempty" yaml:"expires,omitempty" mapstructure:"expires"`
}

func (e *Entry) Info(now time.Time) Info {
	info := Info{
		Address: e.Addr.String(),
		HWAddr:  e.HW.String(),
		Flags:   e.Flags.String(),
		Device:  e.Device,
	}
	if e.Flags&FlagPermanent == 0 {
		info.Expires = e.Updated.Add(e.TTL).Sub(now).Truncate(time.Second).String()
	}
	return info
}

// Cache is a fixed number of entry slots searched linearly. Slots are reused
// in place and never compacted. It is not safe for concurrent use; the stack
// lock guards it.
type Cache struct {
	slots   []Entry
	timeout time.Duration
	now     func() time.Time
}

// NewCache allocates length slots whose dynamic entries live for timeout.
func NewCache(length int, timeout time.Duration) *Cache {
	return &Cache{
		slots:   make([]Entry, length),
		timeout: timeout,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

func (c *Cache) Capacity() int { return len(c.slots) }

func (c *Cache) index(addr netip.Addr) int {
	for i := range c.slots {
		if c.slots[i].Flags&FlagUp != 0 && c.slots[i].Addr == addr {
			return i
		}
	}
	return -1
}

// Find returns the valid entry for addr.
func (c *Cache) Find(addr netip.Addr) (Entry, bool) {
	i := c.index(addr)
	if i < 0 || !c.slots[i].Valid(c.now()) {
		return Entry{}, false
	}
	return c.slots[i], true
}

// Touch records the device an entry was used on if it has none yet.
func (c *Cache) Touch(addr netip.Addr, device int) {
	if i := c.index(addr); i >= 0 && c.slots[i].Device == -1 {
		c.slots[i].Device = device
	}
}

// Delete invalidates the entry for addr in place. An entry that has timed
// out is absent as it is for Find: its slot is cleared all the same and
// core.ErrNotFound is returned.
func (c *Cache) Delete(addr netip.Addr) error {
	i := c.index(addr)
	if i < 0 {
		return fmt.Errorf("%w: arp entry %s", core.ErrNotFound, addr)
	}
	valid := c.slots[i].Valid(c.now())
	c.slots[i] = Entry{}
	if !valid {
		return fmt.Errorf("%w: arp entry %s expired", core.ErrNotFound, addr)
	}
	return nil
}

// UpdateOrCreate refreshes the entry for addr or claims a slot for it and
// returns the slot index. A zero ttl selects the cache timeout and a negative
// device leaves the recorded device alone. Slots are claimed in this order:
// the existing entry for addr, a free slot, an expired slot, the least
// recently updated non-permanent slot. core.ErrNoMemory means every slot is
// permanent.
func (c *Cache) UpdateOrCreate(addr netip.Addr, hw core.HardwareAddr, flags Flags, ttl time.Duration, device int) (int, error) {
	if !addr.Is4() || addr.IsUnspecified() {
		return -1, fmt.Errorf("%w: arp address %s", core.ErrInvalidParameter, addr)
	}
	if hw.IsZero() {
		return -1, fmt.Errorf("%w: zero hardware address", core.ErrInvalidParameter)
	}
	if ttl < 0 {
		return -1, fmt.Errorf("%w: negative ttl", core.ErrInvalidParameter)
	}
	if ttl == 0 {
		ttl = c.timeout
	}

	now := c.now()
	i := c.index(addr)
	if i < 0 {
		i = c.claim(now)
	}
	if i < 0 {
		return -1, fmt.Errorf("%w: arp cache full of permanent entries", core.ErrNoMemory)
	}

	e := &c.slots[i]
	if e.Addr != addr {
		*e = Entry{Addr: addr, Device: -1}
	}
	e.HW = hw
	e.Flags = flags | FlagUp
	e.Updated = now
	e.TTL = ttl
	if device >= 0 {
		e.Device = device
	}
	return i, nil
}

func (c *Cache) claim(now time.Time) int {
	oldest := -1
	for i := range c.slots {
		e := &c.slots[i]
		if e.Flags&FlagUp == 0 {
			return i
		}
		if e.Flags&FlagPermanent != 0 {
			continue
		}
		if !e.Valid(now) {
			return i
		}
		if oldest < 0 || e.Updated.Before(c.slots[oldest].Updated) {
			oldest = i
		}
	}
	return oldest
}

// Expire invalidates timed out dynamic entries and returns how many.
func (c *Cache) Expire() int {
	now := c.now()
	n := 0
	for i := range c.slots {
		if c.slots[i].Flags&FlagUp != 0 && !c.slots[i].Valid(now) {
			c.slots[i] = Entry{}
			n++
		}
	}
	return n
}

// Entries returns a copy of every valid entry in slot order.
func (c *Cache) Entries() []Entry {
	now := c.now()
	out := make([]Entry, 0, len(c.slots))
	for i := range c.slots {
		if c.slots[i].Valid(now) {
			out = append(out, c.slots[i])
		}
	}
	return out
}

// Len returns the number of valid entries.
func (c *Cache) Len() int {
	now := c.now()
	n := 0
	for i := range c.slots {
		if c.slots[i].Valid(now) {
			n++
		}
	}
	return n
}

// Now returns the cache clock.
func (c *Cache) Now() time.Time { return c.now() }
