package stack

import (
	"net/netip"
	"time"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/log"
)

// ARPUpdateOrCreate sets the hardware address of addr and returns its cache
// slot. A zero ttl selects the cache timeout. Packets waiting on addr are
// sent.
func (s *Stack) ARPUpdateOrCreate(addr netip.Addr, hw core.HardwareAddr, flags arp.Flags, ttl time.Duration) (int, error) {
	s.lock.Obtain()
	defer s.release()

	dev := -1
	if d := s.devices.OnLink(addr); d != nil {
		dev = d.Index
	}
	idx, err := s.resolver.Update(addr, hw, flags, ttl, dev)
	if err != nil {
		return -1, err
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"addr":    addr.String(),
		"hw_addr": hw.String(),
		"flags":   (flags | arp.FlagUp).String(),
	}).Debug("arp entry set")
	return idx, nil
}

// ARPDelete removes the entry of addr; core.ErrNotFound when there is none.
func (s *Stack) ARPDelete(addr netip.Addr) error {
	s.lock.Obtain()
	defer s.release()

	return s.resolver.Delete(addr)
}

// ARPFind returns the valid entry of addr.
func (s *Stack) ARPFind(addr netip.Addr) (arp.Entry, bool) {
	s.lock.Obtain()
	defer s.release()

	return s.resolver.Cache().Find(addr)
}

// ARPEntries lists the valid entries.
func (s *Stack) ARPEntries() []arp.Info {
	s.lock.Obtain()
	defer s.release()

	cache := s.resolver.Cache()
	now := cache.Now()
	entries := cache.Entries()
	out := make([]arp.Info, 0, len(entries))
	for i := range entries {
		out = append(out, entries[i].Info(now))
	}
	return out
}

// ARPExpire drops timed out entries and returns how many went.
func (s *Stack) ARPExpire() int {
	s.lock.Obtain()
	defer s.release()

	return s.resolver.Expire()
}
