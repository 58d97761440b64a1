// Package route implements the per-family routing tables: a path-compressed
// binary trie for longest-prefix match and a separate default route.
package route

import (
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/netcore/internal/core"
)

// Flags describe a route.
type Flags uint8

const (
	FlagUp      Flags = 1 << iota // usable for forwarding
	FlagGateway                   // next hop is a router
	FlagHost                      // full-length prefix
	FlagStatic                    // installed by configuration or the control plane
)

func (f Flags) String() string {
	var b strings.Builder
	for _, x := range []struct {
		flag Flags
		c    byte
	}{{FlagUp, 'U'}, {FlagGateway, 'G'}, {FlagHost, 'H'}, {FlagStatic, 'S'}} {
		if f&x.flag != 0 {
			b.WriteByte(x.c)
		}
	}
	return b.String()
}

// Route is one routing table entry. A route without NextHop is directly
// connected through Device.
type Route struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
	Device  string
	Metric  int
	Flags   Flags
	Uses    uint64
}

// Gateway returns the address to resolve for dst: the next hop, or dst itself
// when the route is directly connected.
func (r *Route) Gateway(dst netip.Addr) netip.Addr {
	if r.NextHop.IsValid() {
		return r.NextHop
	}
	return dst
}

// Info is the externally visible form of a Route.
type Info struct {
	Prefix  string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	NextHop string `json:"next_hop,omitempty" yaml:"next_hop,omitempty" mapstructure:"next_hop"`
	Device  string `json:"device" yaml:"device" mapstructure:"device"`
	Metric  int    `json:"metric" yaml:"metric" mapstructure:"metric"`
	Flags   string `json:"flags" yaml:"flags" mapstructure:"flags"`
	Uses    uint64 `json:"uses" yaml:"uses" mapstructure:"uses"`
}

func (r *Route) Info() Info {
	info := Info{
		Prefix: r.Prefix.String(),
		Device: r.Device,
		Metric: r.Metric,
		Flags:  r.Flags.String(),
		Uses:   r.Uses,
	}
	if r.NextHop.IsValid() {
		info.NextHop = r.NextHop.String()
	}
	return info
}

// Tables holds one Table per address family.
type Tables struct {
	v4 *Table
	v6 *Table
}

func NewTables() *Tables {
	return &Tables{v4: NewTable(core.FamilyINET), v6: NewTable(core.FamilyINET6)}
}

// Init empties the table of family.
func (ts *Tables) Init(family core.Family) error {
	t, err := ts.Table(family)
	if err != nil {
		return err
	}
	t.Init()
	return nil
}

// Table returns the table of family.
func (ts *Tables) Table(family core.Family) (*Table, error) {
	switch family {
	case core.FamilyINET:
		return ts.v4, nil
	case core.FamilyINET6:
		return ts.v6, nil
	default:
		return nil, fmt.Errorf("%w: address family %d", core.ErrInvalidParameter, family)
	}
}

// ForAddr returns the table matching the family of addr.
func (ts *Tables) ForAddr(addr netip.Addr) *Table {
	if addr.Is4() {
		return ts.v4
	}
	return ts.v6
}
