package route

import (
	"fmt"
	"math/bits"
	"net/netip"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/metrics"
)

type node struct {
	prefix netip.Prefix // masked
	route  *Route       // nil on glue nodes
	child  [2]*node
}

// Table is the routing table of one address family. It is not safe for
// concurrent use; the stack lock guards it.
//
// Equal-prefix inserts are first-writer-wins: a second Insert of a prefix
// already present fails with core.ErrRouteExists and leaves the first route
// in place. Replace overwrites explicitly.
type Table struct {
	family core.Family
	root   *node
	def    *Route
	count  int
}

func NewTable(family core.Family) *Table {
	return &Table{family: family}
}

func (t *Table) Family() core.Family { return t.family }

// Init drops every route including the default.
func (t *Table) Init() {
	t.root = nil
	t.def = nil
	t.count = 0
}

// Len returns the number of routes, the default included.
func (t *Table) Len() int { return t.count }

func (t *Table) check(p netip.Prefix) (netip.Prefix, error) {
	if !p.IsValid() {
		return p, fmt.Errorf("%w: invalid prefix", core.ErrInvalidParameter)
	}
	if (t.family == core.FamilyINET) != p.Addr().Is4() || p.Addr().Is4In6() {
		return p, fmt.Errorf("%w: prefix %s is not %s", core.ErrInvalidParameter, p, t.family)
	}
	return p.Masked(), nil
}

// Insert adds r keyed by r.Prefix. A zero-length prefix installs the
// default route.
func (t *Table) Insert(r *Route) error {
	return t.insert(r, false)
}

// Replace adds r, overwriting any route with the same prefix.
func (t *Table) Replace(r *Route) error {
	return t.insert(r, true)
}

func (t *Table) insert(r *Route, replace bool) error {
	p, err := t.check(r.Prefix)
	if err != nil {
		return err
	}
	r.Prefix = p
	if r.Flags == 0 {
		r.Flags = FlagUp
	}
	if r.NextHop.IsValid() {
		r.Flags |= FlagGateway
	}
	if p.IsSingleIP() {
		r.Flags |= FlagHost
	}

	if p.Bits() == 0 {
		if t.def != nil && !replace {
			return fmt.Errorf("%w: default", core.ErrRouteExists)
		}
		if t.def == nil {
			t.count++
		}
		t.def = r
		return nil
	}

	cur := &t.root
	for {
		n := *cur
		if n == nil {
			*cur = &node{prefix: p, route: r}
			t.count++
			return nil
		}
		common := commonBits(n.prefix, p)
		switch {
		case common == n.prefix.Bits() && common == p.Bits():
			if n.route != nil && !replace {
				return fmt.Errorf("%w: %s", core.ErrRouteExists, p)
			}
			if n.route == nil {
				t.count++
			}
			n.route = r
			return nil

		case common == n.prefix.Bits():
			cur = &n.child[bitAt(p.Addr(), common)]

		case common == p.Bits():
			nn := &node{prefix: p, route: r}
			nn.child[bitAt(n.prefix.Addr(), common)] = n
			*cur = nn
			t.count++
			return nil

		default:
			glue := &node{prefix: netip.PrefixFrom(p.Addr(), common).Masked()}
			glue.child[bitAt(p.Addr(), common)] = &node{prefix: p, route: r}
			glue.child[bitAt(n.prefix.Addr(), common)] = n
			*cur = glue
			t.count++
			return nil
		}
	}
}

// Lookup returns the up route with the longest prefix containing addr, else
// the default route, else core.ErrNoRoute.
func (t *Table) Lookup(addr netip.Addr) (*Route, error) {
	if !addr.IsValid() || addr.Is4() != (t.family == core.FamilyINET) {
		return nil, fmt.Errorf("%w: address %s is not %s", core.ErrInvalidParameter, addr, t.family)
	}

	var best *Route
	for n := t.root; n != nil; {
		if !n.prefix.Contains(addr) {
			break
		}
		if n.route != nil && n.route.Flags&FlagUp != 0 {
			best = n.route
		}
		if n.prefix.Bits() == addr.BitLen() {
			break
		}
		n = n.child[bitAt(addr, n.prefix.Bits())]
	}

	switch {
	case best != nil:
		metrics.RouteLookupsTotal.WithLabelValues("match").Inc()
	case t.def != nil && t.def.Flags&FlagUp != 0:
		best = t.def
		metrics.RouteLookupsTotal.WithLabelValues("default").Inc()
	default:
		metrics.RouteLookupsTotal.WithLabelValues("miss").Inc()
		return nil, fmt.Errorf("%w: %s", core.ErrNoRoute, addr)
	}
	best.Uses++
	return best, nil
}

// Default returns the default route.
func (t *Table) Default() (*Route, bool) {
	return t.def, t.def != nil
}

// SetDefault installs r as the default route regardless of its prefix.
func (t *Table) SetDefault(r *Route) {
	r.Prefix = netip.PrefixFrom(unspecified(t.family), 0)
	if r.Flags == 0 {
		r.Flags = FlagUp
	}
	if r.NextHop.IsValid() {
		r.Flags |= FlagGateway
	}
	if t.def == nil {
		t.count++
	}
	t.def = r
}

// Delete removes the route with exactly prefix p.
func (t *Table) Delete(p netip.Prefix) error {
	p, err := t.check(p)
	if err != nil {
		return err
	}
	if p.Bits() == 0 {
		if t.def == nil {
			return fmt.Errorf("%w: default route", core.ErrNotFound)
		}
		t.def = nil
		t.count--
		return nil
	}
	root, ok := remove(t.root, p)
	if !ok {
		return fmt.Errorf("%w: route %s", core.ErrNotFound, p)
	}
	t.root = root
	t.count--
	return nil
}

// Get returns the route with exactly prefix p.
func (t *Table) Get(p netip.Prefix) (*Route, bool) {
	p, err := t.check(p)
	if err != nil {
		return nil, false
	}
	if p.Bits() == 0 {
		return t.Default()
	}
	for n := t.root; n != nil; {
		if n.prefix == p {
			return n.route, n.route != nil
		}
		if n.prefix.Bits() >= p.Bits() || !n.prefix.Contains(p.Addr()) {
			break
		}
		n = n.child[bitAt(p.Addr(), n.prefix.Bits())]
	}
	return nil, false
}

// Walk visits routes in prefix order, the default first, until fn returns false.
func (t *Table) Walk(fn func(*Route) bool) {
	if t.def != nil && !fn(t.def) {
		return
	}
	walk(t.root, fn)
}

func walk(n *node, fn func(*Route) bool) bool {
	if n == nil {
		return true
	}
	if n.route != nil && !fn(n.route) {
		return false
	}
	return walk(n.child[0], fn) && walk(n.child[1], fn)
}

func remove(n *node, p netip.Prefix) (*node, bool) {
	if n == nil {
		return nil, false
	}
	if n.prefix == p {
		if n.route == nil {
			return n, false
		}
		n.route = nil
		return compact(n), true
	}
	if n.prefix.Bits() >= p.Bits() || !n.prefix.Contains(p.Addr()) {
		return n, false
	}
	b := bitAt(p.Addr(), n.prefix.Bits())
	c, ok := remove(n.child[b], p)
	if !ok {
		return n, false
	}
	n.child[b] = c
	return compact(n), true
}

// compact drops a routeless node with fewer than two children.
func compact(n *node) *node {
	if n.route != nil {
		return n
	}
	switch {
	case n.child[0] == nil:
		return n.child[1]
	case n.child[1] == nil:
		return n.child[0]
	}
	return n
}

// commonBits returns the length of the longest prefix shared by a and b.
func commonBits(a, b netip.Prefix) int {
	limit := min(a.Bits(), b.Bits())
	as, bs := a.Addr().AsSlice(), b.Addr().AsSlice()
	n := 0
	for i := range as {
		x := as[i] ^ bs[i]
		if x != 0 {
			n += bits.LeadingZeros8(x)
			break
		}
		n += 8
	}
	return min(n, limit)
}

func bitAt(addr netip.Addr, i int) int {
	s := addr.AsSlice()
	return int(s[i/8]>>(7-i%8)) & 1
}

func unspecified(f core.Family) netip.Addr {
	if f == core.FamilyINET6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}
