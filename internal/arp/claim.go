package arp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
)

// ClaimState is the position of a device in the probe and announce
// sequence run when its address is configured.
type ClaimState uint8

const (
	ClaimNone ClaimState = iota
	ClaimProbing
	ClaimAnnouncing
	ClaimDone
	ClaimConflict
)

var claimStateNames = [...]string{"none", "probing", "announcing", "claimed", "conflict"}

func (s ClaimState) String() string {
	if int(s) < len(claimStateNames) {
		return claimStateNames[s]
	}
	return fmt.Sprintf("ClaimState(%d)", uint8(s))
}

func (s ClaimState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ClaimInfo reports the claim of one device.
type ClaimInfo struct {
	Device    string     `json:"device"`
	Address   netip.Addr `json:"address"`
	State     ClaimState `json:"state"`
	Probes    int        `json:"probes"`
	Announces int        `json:"announces"`
	Conflicts int        `json:"conflicts"`
}

type claim struct {
	dev  *device.Device
	info ClaimInfo
}

func (c *claim) active() bool {
	return c.info.State == ClaimProbing || c.info.State == ClaimAnnouncing
}

// Probe broadcasts an ARP probe for the address of dev: a request whose
// sender address is 0.0.0.0 so that no other cache learns from it.
func (r *Resolver) Probe(dev *device.Device) error {
	addr := dev.Addr()
	if !addr.Is4() {
		return fmt.Errorf("%w: device %s has no IPv4 address", core.ErrInvalidParameter, dev.Name)
	}
	return r.sendProbe(dev, netip.IPv4Unspecified(), addr)
}

// Announce broadcasts a gratuitous request carrying the address of dev as
// both sender and target.
func (r *Resolver) Announce(dev *device.Device) error {
	addr := dev.Addr()
	if !addr.Is4() {
		return fmt.Errorf("%w: device %s has no IPv4 address", core.ErrInvalidParameter, dev.Name)
	}
	return r.sendProbe(dev, addr, addr)
}

func (r *Resolver) sendProbe(dev *device.Device, spa, tpa netip.Addr) error {
	src, tgt := spa.As4(), tpa.As4()
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
	return transmit(dev, core.BroadcastHW, a)
}

// Claim starts probing for the address of an ethernet device, then
// announces it. Devices without an IPv4 address, loopback devices and a
// configuration with no probes or announcements are left alone. A running
// claim for the same device is restarted.
func (r *Resolver) Claim(dev *device.Device) {
	if dev.Type == device.TypeLoopback || !dev.Addr().Is4() {
		return
	}
	if r.cfg.ProbeCount == 0 && r.cfg.AnnounceCount == 0 {
		return
	}
	c := &claim{dev: dev, info: ClaimInfo{Device: dev.Name, Address: dev.Addr(), State: ClaimProbing}}
	r.claims[dev.Index] = c
	r.ClaimStep(dev.Index)
}

// ClaimStep sends the next probe or announcement for the device at index
// and schedules the step after it.
func (r *Resolver) ClaimStep(index int) {
	c, ok := r.claims[index]
	if !ok || !c.active() {
		return
	}
	logger := log.GetLogger().WithFields(map[string]interface{}{
		"dev":     c.dev.Name,
		"address": c.info.Address.String(),
	})

	if c.info.State == ClaimProbing {
		if c.info.Probes < r.cfg.ProbeCount {
			c.info.Probes++
			if err := r.Probe(c.dev); err != nil {
				logger.WithError(err).Warn("failed to send arp probe")
			}
			r.scheduleClaim(index, r.cfg.ProbeInterval)
			return
		}
		c.info.State = ClaimAnnouncing
	}

	if c.info.Announces < r.cfg.AnnounceCount {
		c.info.Announces++
		if err := r.Announce(c.dev); err != nil {
			logger.WithError(err).Warn("failed to send arp announcement")
		}
		r.scheduleClaim(index, r.cfg.AnnounceInterval)
		return
	}
	c.info.State = ClaimDone
	logger.Info("address claimed")
}

func (r *Resolver) scheduleClaim(index int, delay time.Duration) {
	if r.sched != nil {
		r.sched.ScheduleClaim(index, delay)
	}
}

// ClaimInfo returns the claim of the device at index.
func (r *Resolver) ClaimInfo(index int) (ClaimInfo, bool) {
	c, ok := r.claims[index]
	if !ok {
		return ClaimInfo{}, false
	}
	return c.info, true
}

// conflict reports whether a received packet shows another host using the
// address of dev, or probing for it while dev is still claiming it.
func (r *Resolver) conflict(dev *device.Device, op uint16, spa, tpa netip.Addr) bool {
	addr := dev.Addr()
	if !addr.Is4() {
		return false
	}
	c := r.claims[dev.Index]
	claiming := c != nil && c.active()
	probe := op == layers.ARPRequest && spa.IsUnspecified() && tpa == addr
	if spa != addr && !(claiming && probe) {
		return false
	}

	metrics.ARPConflictsTotal.Inc()
	if c != nil {
		c.info.Conflicts++
		if claiming {
			c.info.State = ClaimConflict
		}
	}
	return true
}
