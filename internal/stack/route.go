package stack

import (
	"fmt"
	"net/netip"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/route"
)

// RouteInsert adds r. The first route for a prefix wins; a second insert
// fails with core.ErrRouteExists. A route without a device goes out of the
// device whose subnet holds the next hop.
func (s *Stack) RouteInsert(r route.Route) error {
	return s.addRoute(r, false)
}

// RouteReplace adds r, overwriting the route with the same prefix.
func (s *Stack) RouteReplace(r route.Route) error {
	return s.addRoute(r, true)
}

func (s *Stack) addRoute(r route.Route, replace bool) error {
	if !r.Prefix.IsValid() {
		return fmt.Errorf("%w: route prefix", core.ErrInvalidParameter)
	}
	if r.NextHop.IsValid() && r.NextHop.Is4() != r.Prefix.Addr().Is4() {
		return fmt.Errorf("%w: next hop %s for %s", core.ErrInvalidParameter, r.NextHop, r.Prefix)
	}

	s.lock.Obtain()
	defer s.release()

	if r.Device == "" {
		dev := s.devices.OnLink(r.NextHop)
		if dev == nil {
			return fmt.Errorf("%w: no device reaches next hop %s", core.ErrInvalidParameter, r.NextHop)
		}
		r.Device = dev.Name
	} else if _, err := s.devices.ByName(r.Device); err != nil {
		return err
	}
	r.Flags |= route.FlagStatic | route.FlagUp

	table := s.routes.ForAddr(r.Prefix.Addr())
	var err error
	if replace {
		err = table.Replace(&r)
	} else {
		err = table.Insert(&r)
	}
	if err != nil {
		return err
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"prefix": r.Prefix.String(),
		"dev":    r.Device,
	}).Debug("route added")
	return nil
}

// RouteLookup returns a copy of the route used to reach addr.
func (s *Stack) RouteLookup(addr netip.Addr) (route.Route, error) {
	if !addr.IsValid() {
		return route.Route{}, fmt.Errorf("%w: address", core.ErrInvalidParameter)
	}
	s.lock.Obtain()
	defer s.release()

	r, err := s.routes.ForAddr(addr).Lookup(addr)
	if err != nil {
		return route.Route{}, err
	}
	return *r, nil
}

// RouteDefault returns the default route of family.
func (s *Stack) RouteDefault(family core.Family) (route.Route, bool, error) {
	s.lock.Obtain()
	defer s.release()

	table, err := s.routes.Table(family)
	if err != nil {
		return route.Route{}, false, err
	}
	r, ok := table.Default()
	if !ok {
		return route.Route{}, false, nil
	}
	return *r, true, nil
}

// RouteDelete removes the route of prefix; core.ErrNotFound when absent.
func (s *Stack) RouteDelete(prefix netip.Prefix) error {
	if !prefix.IsValid() {
		return fmt.Errorf("%w: route prefix", core.ErrInvalidParameter)
	}
	s.lock.Obtain()
	defer s.release()

	return s.routes.ForAddr(prefix.Addr()).Delete(prefix)
}

// Routes lists the routes of family in prefix order, default route first.
func (s *Stack) Routes(family core.Family) ([]route.Route, error) {
	s.lock.Obtain()
	defer s.release()

	table, err := s.routes.Table(family)
	if err != nil {
		return nil, err
	}
	out := make([]route.Route, 0, table.Len())
	table.Walk(func(r *route.Route) bool {
		out = append(out, *r)
		return true
	})
	return out, nil
}

// RouteInit empties the routing table of family, default route included.
func (s *Stack) RouteInit(family core.Family) error {
	s.lock.Obtain()
	defer s.release()

	return s.routes.Init(family)
}

// connectedRoute installs the subnet route of a newly added device. The
// stack lock must be held.
func (s *Stack) connectedRoute(name string, prefix netip.Prefix) {
	if !prefix.IsValid() || prefix.IsSingleIP() {
		return
	}
	r := &route.Route{Prefix: prefix.Masked(), Device: name, Flags: route.FlagUp}
	if err := s.routes.ForAddr(prefix.Addr()).Insert(r); err != nil {
		log.GetLogger().WithError(err).WithField("prefix", r.Prefix.String()).Warn("connected route not installed")
	}
}
