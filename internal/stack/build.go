package stack

import (
	"fmt"
	"net/netip"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/route"
)

// Build creates a stack from a validated configuration: devices first, then
// static routes, then static ARP entries.
func Build(cfg *config.GlobalConfig, opts ...Option) (*Stack, error) {
	s, err := New(cfg.Stack, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.load(cfg); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Stack) load(cfg *config.GlobalConfig) error {
	for _, dc := range cfg.Devices {
		if _, err := s.CreateDevice(dc); err != nil {
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
	}

	for i, rc := range cfg.Routes {
		r, err := RouteFromConfig(rc)
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if err := s.RouteInsert(r); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}

	for i, ac := range cfg.ARP {
		addr, err := netip.ParseAddr(ac.Address)
		if err != nil {
			return fmt.Errorf("arp[%d]: %w: %v", i, core.ErrInvalidParameter, err)
		}
		hw, err := core.ParseHardwareAddr(ac.HWAddr)
		if err != nil {
			return fmt.Errorf("arp[%d]: %w", i, err)
		}
		var flags arp.Flags
		if ac.Permanent {
			flags |= arp.FlagPermanent
		}
		if _, err := s.ARPUpdateOrCreate(addr, hw, flags, 0); err != nil {
			return fmt.Errorf("arp[%d]: %w", i, err)
		}
	}
	return nil
}

// RouteFromConfig parses a configured route.
func RouteFromConfig(rc config.RouteConfig) (route.Route, error) {
	prefix, err := netip.ParsePrefix(rc.Prefix)
	if err != nil {
		return route.Route{}, fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
	}
	r := route.Route{Prefix: prefix, Device: rc.Device, Metric: rc.Metric}
	if rc.NextHop != "" {
		if r.NextHop, err = netip.ParseAddr(rc.NextHop); err != nil {
			return route.Route{}, fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
		}
	}
	return r, nil
}
