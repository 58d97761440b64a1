package arp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	gocache "github.com/patrickmn/go-cache"

	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
)

// Scheduler arranges for Resolver.Retry(dst) and Resolver.ClaimStep(index)
// to run after delay.
type Scheduler interface {
	ScheduleRetry(dst netip.Addr, delay time.Duration)
	ScheduleClaim(index int, delay time.Duration)
}

// Output transmits a packet chain that was held for resolution. It takes
// ownership of chain whatever it returns.
type Output func(dev *device.Device, hw core.HardwareAddr, chain buffer.Handle) error

type pending struct {
	dev    *device.Device
	dst    netip.Addr
	chains []buffer.Handle
	sent   int
}

// Resolver maps next hops to hardware addresses, holding packets while ARP
// requests are outstanding. Every method expects the stack lock to be held.
type Resolver struct {
	cache *Cache
	pool  *buffer.Pool
	cfg   config.ARPConfig
	held  *gocache.Cache
	sched Scheduler
	out   Output

	claims map[int]*claim // by device index
}

// NewResolver builds a resolver over cache. Held packets are released back
// to pool when their destination is given up on.
func NewResolver(cache *Cache, pool *buffer.Pool, cfg config.ARPConfig, sched Scheduler) *Resolver {
	r := &Resolver{
		cache: cache,
		pool:  pool,
		cfg:    cfg,
		sched:  sched,
		claims: make(map[int]*claim),
	}
	// no janitor: Expire sweeps under the stack lock
	r.held = gocache.New(r.holdTime(), 0)
	r.held.OnEvicted(func(key string, v interface{}) {
		p := v.(*pending)
		for _, h := range p.chains {
			pool.FreeChain(h)
		}
		if len(p.chains) > 0 {
			log.GetLogger().WithFields(map[string]interface{}{
				"addr":    key,
				"dropped": len(p.chains),
			}).Warn("arp resolution abandoned")
			metrics.PacketsTotal.WithLabelValues("tx", "unresolved").Add(float64(len(p.chains)))
		}
		p.chains = nil
	})
	return r
}

func (r *Resolver) holdTime() time.Duration {
	return r.cfg.RequestInterval * time.Duration(r.cfg.MaxRequests+1)
}

// SetOutput installs the transmit path for flushed packets.
func (r *Resolver) SetOutput(out Output) { r.out = out }

func (r *Resolver) Cache() *Cache { return r.cache }

// Pending returns the number of packets held for dst.
func (r *Resolver) Pending(dst netip.Addr) int {
	v, ok := r.held.Get(dst.String())
	if !ok {
		return 0
	}
	return len(v.(*pending).chains)
}

// MulticastHW maps an IPv4 group onto its 01:00:5e Ethernet address.
func MulticastHW(group netip.Addr) core.HardwareAddr {
	b := group.As4()
	return core.HardwareAddr{0x01, 0x00, 0x5e, b[1] & 0x7f, b[2], b[3]}
}

// Resolve returns the hardware address to send chain to nextHop on dev.
// When the address is unknown the chain is held, a request goes out and
// core.ErrUnresolved is returned; the resolver then owns the chain. On any
// other error the caller keeps it.
func (r *Resolver) Resolve(dev *device.Device, nextHop netip.Addr, flags buffer.PacketFlags, chain buffer.Handle) (core.HardwareAddr, error) {
	switch {
	case dev.Type == device.TypeLoopback:
		return core.ZeroHW, nil
	case flags&buffer.FlagBroadcast != 0 || dev.IsBroadcast(nextHop):
		return core.BroadcastHW, nil
	case flags&buffer.FlagMulticast != 0 || nextHop.IsMulticast():
		return MulticastHW(nextHop), nil
	}
	if !nextHop.Is4() {
		return core.ZeroHW, fmt.Errorf("%w: next hop %s", core.ErrInvalidParameter, nextHop)
	}

	if e, ok := r.cache.Find(nextHop); ok {
		r.cache.Touch(nextHop, dev.Index)
		metrics.ARPLookupsTotal.WithLabelValues("hit").Inc()
		return e.HW, nil
	}

	key := nextHop.String()
	if v, ok := r.held.Get(key); ok {
		p := v.(*pending)
		if len(p.chains) >= r.cfg.MaxPending {
			r.pool.FreeChain(p.chains[0])
			p.chains = p.chains[1:]
			metrics.PacketsTotal.WithLabelValues("tx", "dropped").Inc()
		}
		p.chains = append(p.chains, chain)
		metrics.ARPLookupsTotal.WithLabelValues("pending").Inc()
		return core.ZeroHW, core.ErrUnresolved
	}

	metrics.ARPLookupsTotal.WithLabelValues("miss").Inc()
	// Get hides an expired queue that is still stored and Set would
	// overwrite it without eviction; Delete frees its chains first.
	r.held.Delete(key)
	p := &pending{dev: dev, dst: nextHop, chains: []buffer.Handle{chain}}
	r.held.Set(key, p, gocache.DefaultExpiration)
	r.request(p)
	return core.ZeroHW, core.ErrUnresolved
}

func (r *Resolver) request(p *pending) {
	p.sent++
	if err := r.sendRequest(p.dev, p.dst); err != nil {
		log.GetLogger().WithError(err).WithField("addr", p.dst.String()).Warn("failed to send arp request")
	}
	if r.sched != nil {
		r.sched.ScheduleRetry(p.dst, r.cfg.RequestInterval)
	}
}

// Retry re-sends the request for dst, or gives up and frees the held
// packets once MaxRequests have been sent.
func (r *Resolver) Retry(dst netip.Addr) {
	key := dst.String()
	v, ok := r.held.Get(key)
	if !ok {
		// releases a queue that expired before its last retry ran
		r.held.Delete(key)
		return
	}
	p := v.(*pending)
	if p.sent >= r.cfg.MaxRequests {
		r.held.Delete(key)
		return
	}
	r.request(p)
}

// Update creates or refreshes an entry and flushes packets waiting on it.
func (r *Resolver) Update(addr netip.Addr, hw core.HardwareAddr, flags Flags, ttl time.Duration, dev int) (int, error) {
	idx, err := r.cache.UpdateOrCreate(addr, hw, flags, ttl, dev)
	if err != nil {
		return idx, err
	}
	metrics.ARPEntries.Set(float64(r.cache.Len()))
	r.flush(addr, hw)
	return idx, nil
}

// Delete removes an entry.
func (r *Resolver) Delete(addr netip.Addr) error {
	if err := r.cache.Delete(addr); err != nil {
		return err
	}
	metrics.ARPEntries.Set(float64(r.cache.Len()))
	return nil
}

// Expire drops timed out entries and abandoned hold queues.
func (r *Resolver) Expire() int {
	n := r.cache.Expire()
	r.held.DeleteExpired()
	metrics.ARPEntries.Set(float64(r.cache.Len()))
	return n
}

func (r *Resolver) flush(addr netip.Addr, hw core.HardwareAddr) {
	key := addr.String()
	v, ok := r.held.Get(key)
	if !ok {
		return
	}
	p := v.(*pending)
	chains := p.chains
	p.chains = nil
	r.held.Delete(key)

	for _, h := range chains {
		if r.out == nil {
			r.pool.FreeChain(h)
			continue
		}
		if err := r.out(p.dev, hw, h); err != nil {
			log.GetLogger().WithError(err).WithField("addr", key).Warn("failed to send held packet")
		}
	}
}

// Input processes one received ARP packet.
func (r *Resolver) Input(dev *device.Device, a *layers.ARP) error {
	if a.AddrType != layers.LinkTypeEthernet || a.Protocol != layers.EthernetTypeIPv4 ||
		a.HwAddressSize != 6 || a.ProtAddressSize != 4 ||
		len(a.SourceHwAddress) != 6 || len(a.SourceProtAddress) != 4 || len(a.DstProtAddress) != 4 {
		return fmt.Errorf("%w: malformed arp packet", core.ErrInvalidParameter)
	}

	sha, _ := core.HardwareAddrFromSlice(a.SourceHwAddress)
	spa := netip.AddrFrom4([4]byte(a.SourceProtAddress))
	tpa := netip.AddrFrom4([4]byte(a.DstProtAddress))
	logger := log.GetLogger().WithFields(map[string]interface{}{
		"dev":    dev.Name,
		"sender": spa.String(),
		"target": tpa.String(),
	})

	if sha == dev.HW {
		return nil
	}
	if r.conflict(dev, a.Operation, spa, tpa) {
		logger.WithField("hw_addr", sha.String()).Error("duplicate address detected")
		return nil
	}

	if tpa != dev.Addr() {
		// gratuitous or third-party traffic only refreshes what we know
		if !spa.IsUnspecified() && r.cache.index(spa) >= 0 {
			r.learn(spa, sha, dev, logger)
		}
		if a.Operation == layers.ARPRequest {
			if e, ok := r.cache.Find(tpa); ok && e.Flags&FlagPublished != 0 {
				return r.sendReply(dev, e.HW, tpa, sha, spa)
			}
		}
		return nil
	}

	if !spa.IsUnspecified() {
		r.learn(spa, sha, dev, logger)
	}
	if a.Operation == layers.ARPRequest {
		return r.sendReply(dev, dev.HW, tpa, sha, spa)
	}
	return nil
}

func (r *Resolver) learn(addr netip.Addr, hw core.HardwareAddr, dev *device.Device, logger log.Logger) {
	if e, ok := r.cache.Find(addr); ok && e.Flags&FlagPermanent != 0 {
		r.flush(addr, e.HW)
		return
	}
	if _, err := r.Update(addr, hw, 0, 0, dev.Index); err != nil {
		logger.WithError(err).Warn("failed to update arp cache")
	}
}

func (r *Resolver) sendRequest(dev *device.Device, dst netip.Addr) error {
	src := dev.Addr().As4()
	tgt := dst.As4()
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   dev.HW[:],
		SourceProtAddress: src[:],
		DstHwAddress:      core.ZeroHW[:],
		DstProtAddress:    tgt[:],
	}
	if err := transmit(dev, core.BroadcastHW, a); err != nil {
		return err
	}
	metrics.ARPRequestsTotal.Inc()
	return nil
}

func (r *Resolver) sendReply(dev *device.Device, hw core.HardwareAddr, addr netip.Addr, toHW core.HardwareAddr, to netip.Addr) error {
	src := addr.As4()
	dst := to.As4()
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   hw[:],
		SourceProtAddress: src[:],
		DstHwAddress:      toHW[:],
		DstProtAddress:    dst[:],
	}
	return transmit(dev, toHW, a)
}

func transmit(dev *device.Device, dst core.HardwareAddr, a *layers.ARP) error {
	eth := &layers.Ethernet{
		SrcMAC:       dev.HW[:],
		DstMAC:       dst[:],
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, a); err != nil {
		return fmt.Errorf("serialize arp: %w", err)
	}
	return dev.Transmit([][]byte{buf.Bytes()})
}
