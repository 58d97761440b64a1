package route

import (
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/gaissmai/bart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/core"
)

func mustRoute(prefix, nextHop, dev string) *Route {
	r := &Route{Prefix: netip.MustParsePrefix(prefix), Device: dev}
	if nextHop != "" {
		r.NextHop = netip.MustParseAddr(nextHop)
	}
	return r
}

func TestLongestPrefixMatch(t *testing.T) {
	tbl := NewTable(core.FamilyINET)
	r8 := mustRoute("10.0.0.0/8", "192.0.2.1", "eth0")
	r16 := mustRoute("10.1.0.0/16", "192.0.2.2", "eth0")
	require.NoError(t, tbl.Insert(r8))
	require.NoError(t, tbl.Insert(r16))

	tests := []struct {
		addr string
		want *Route
	}{
		{"10.1.2.3", r16},
		{"10.2.2.3", r8},
		{"10.1.255.255", r16},
		{"10.255.0.1", r8},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := tbl.Lookup(netip.MustParseAddr(tt.addr))
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
		})
	}

	_, err := tbl.Lookup(netip.MustParseAddr("192.0.2.1"))
	assert.ErrorIs(t, err, core.ErrNoRoute)

	def := mustRoute("0.0.0.0/0", "192.0.2.254", "eth0")
	require.NoError(t, tbl.Insert(def))
	got, err := tbl.Lookup(netip.MustParseAddr("192.0.2.1"))
	require.NoError(t, err)
	assert.Same(t, def, got)

	d, ok := tbl.Default()
	assert.True(t, ok)
	assert.Same(t, def, d)
	assert.Equal(t, 3, tbl.Len())
}

func TestFirstWriterWins(t *testing.T) {
	tbl := NewTable(core.FamilyINET)
	first := mustRoute("10.0.0.0/8", "192.0.2.1", "eth0")
	second := mustRoute("10.0.0.0/8", "192.0.2.2", "eth1")

	require.NoError(t, tbl.Insert(first))
	assert.ErrorIs(t, tbl.Insert(second), core.ErrRouteExists)

	got, err := tbl.Lookup(netip.MustParseAddr("10.9.9.9"))
	require.NoError(t, err)
	assert.Same(t, first, got)

	// host bits are masked before comparison
	assert.ErrorIs(t, tbl.Insert(mustRoute("10.1.2.3/8", "", "eth1")), core.ErrRouteExists)

	require.NoError(t, tbl.Insert(mustRoute("0.0.0.0/0", "192.0.2.254", "eth0")))
	assert.ErrorIs(t, tbl.Insert(mustRoute("0.0.0.0/0", "192.0.2.253", "eth0")), core.ErrRouteExists)

	require.NoError(t, tbl.Replace(second))
	got, err = tbl.Lookup(netip.MustParseAddr("10.9.9.9"))
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, 2, tbl.Len())
}

func TestDownRouteSkipped(t *testing.T) {
	tbl := NewTable(core.FamilyINET)
	r8 := mustRoute("10.0.0.0/8", "", "eth0")
	r16 := mustRoute("10.1.0.0/16", "", "eth1")
	require.NoError(t, tbl.Insert(r8))
	require.NoError(t, tbl.Insert(r16))
	r16.Flags &^= FlagUp

	got, err := tbl.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.NoError(t, err)
	assert.Same(t, r8, got)
}

func TestDelete(t *testing.T) {
	tbl := NewTable(core.FamilyINET)
	for _, p := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.2.0.0/16", "10.1.1.0/24"} {
		require.NoError(t, tbl.Insert(mustRoute(p, "", "eth0")))
	}

	require.NoError(t, tbl.Delete(netip.MustParsePrefix("10.1.0.0/16")))
	assert.ErrorIs(t, tbl.Delete(netip.MustParsePrefix("10.1.0.0/16")), core.ErrNotFound)
	assert.ErrorIs(t, tbl.Delete(netip.MustParsePrefix("10.3.0.0/16")), core.ErrNotFound)
	assert.ErrorIs(t, tbl.Delete(netip.MustParsePrefix("0.0.0.0/0")), core.ErrNotFound)

	got, err := tbl.Lookup(netip.MustParseAddr("10.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.0/24", got.Prefix.String())
	got, err = tbl.Lookup(netip.MustParseAddr("10.1.2.1"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8", got.Prefix.String())

	require.NoError(t, tbl.Delete(netip.MustParsePrefix("10.0.0.0/8")))
	_, err = tbl.Lookup(netip.MustParseAddr("10.1.2.1"))
	assert.ErrorIs(t, err, core.ErrNoRoute)
	assert.Equal(t, 2, tbl.Len())

	_, ok := tbl.Get(netip.MustParsePrefix("10.2.0.0/16"))
	assert.True(t, ok)
	_, ok = tbl.Get(netip.MustParsePrefix("10.0.0.0/8"))
	assert.False(t, ok)
}

func TestWalkOrder(t *testing.T) {
	tbl := NewTable(core.FamilyINET)
	for _, p := range []string{"192.168.0.0/16", "10.1.0.0/16", "10.0.0.0/8", "0.0.0.0/0", "172.16.0.0/12"} {
		require.NoError(t, tbl.Insert(mustRoute(p, "", "eth0")))
	}

	var got []string
	tbl.Walk(func(r *Route) bool {
		got = append(got, r.Prefix.String())
		return true
	})
	assert.Equal(t, []string{"0.0.0.0/0", "10.0.0.0/8", "10.1.0.0/16", "172.16.0.0/12", "192.168.0.0/16"}, got)

	n := 0
	tbl.Walk(func(*Route) bool { n++; return n < 2 })
	assert.Equal(t, 2, n)
}

func TestInitAndFamilies(t *testing.T) {
	ts := NewTables()
	v4, err := ts.Table(core.FamilyINET)
	require.NoError(t, err)
	require.NoError(t, v4.Insert(mustRoute("10.0.0.0/8", "", "eth0")))
	assert.ErrorIs(t, v4.Insert(mustRoute("2001:db8::/32", "", "eth0")), core.ErrInvalidParameter)

	v6, err := ts.Table(core.FamilyINET6)
	require.NoError(t, err)
	require.NoError(t, v6.Insert(mustRoute("2001:db8::/32", "", "eth0")))
	got, err := ts.ForAddr(netip.MustParseAddr("2001:db8::1")).Lookup(netip.MustParseAddr("2001:db8::1"))
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::/32", got.Prefix.String())

	require.NoError(t, ts.Init(core.FamilyINET))
	assert.Equal(t, 0, v4.Len())
	assert.Equal(t, 1, v6.Len())
	assert.ErrorIs(t, ts.Init(core.FamilyUnspec), core.ErrInvalidParameter)
}

func TestSetDefault(t *testing.T) {
	tbl := NewTable(core.FamilyINET)
	r := &Route{NextHop: netip.MustParseAddr("192.0.2.1"), Device: "eth0"}
	tbl.SetDefault(r)
	assert.Equal(t, "0.0.0.0/0", r.Prefix.String())
	assert.NotZero(t, r.Flags&FlagGateway)

	got, err := tbl.Lookup(netip.MustParseAddr("8.8.8.8"))
	require.NoError(t, err)
	assert.Same(t, r, got)
	assert.Equal(t, uint64(1), r.Uses)
	assert.Equal(t, "192.0.2.1", r.Gateway(netip.MustParseAddr("8.8.8.8")).String())
}

func TestLookupMatchesOracle(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	tbl := NewTable(core.FamilyINET)
	oracle := &bart.Table[*Route]{}

	for i := 0; i < 2000; i++ {
		var a [4]byte
		for j := range a {
			a[j] = byte(rng.IntN(4)) // dense space so prefixes nest and collide
		}
		a[0] = 10
		p := netip.PrefixFrom(netip.AddrFrom4(a), 8+rng.IntN(25)).Masked()
		r := &Route{Prefix: p, Device: "eth0"}
		if tbl.Insert(r) == nil {
			oracle.Insert(p, r)
		}
	}

	for i := 0; i < 5000; i++ {
		var a [4]byte
		for j := range a {
			a[j] = byte(rng.IntN(4))
		}
		a[0] = 10
		addr := netip.AddrFrom4(a)

		want, wantOK := oracle.Lookup(addr)
		got, err := tbl.Lookup(addr)
		if !wantOK {
			assert.ErrorIs(t, err, core.ErrNoRoute, "addr %s", addr)
			continue
		}
		require.NoError(t, err, "addr %s", addr)
		assert.Equal(t, want.Prefix, got.Prefix, "addr %s", addr)
	}
}
