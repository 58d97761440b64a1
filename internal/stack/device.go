package stack

import (
	"fmt"
	"net/netip"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/log"
)

var loopbackPrefix = netip.MustParsePrefix("127.0.0.1/8")

// AddDevice registers dev, installs the route of its attached subnet and
// starts claiming the address of an ethernet device.
func (s *Stack) AddDevice(dev *device.Device) error {
	s.lock.Obtain()
	defer s.release()

	if err := s.devices.Add(dev); err != nil {
		return err
	}
	s.connectedRoute(dev.Name, dev.Prefix)
	s.resolver.Claim(dev)

	log.GetLogger().WithFields(map[string]interface{}{
		"dev":     dev.Name,
		"index":   dev.Index,
		"address": dev.Prefix.String(),
	}).Info("device added")
	return nil
}

// CreateDevice builds and registers a device with an in-memory driver.
// Loopback devices feed transmitted frames back into the stack; ethernet
// devices queue them on a device.Channel returned by Link.
func (s *Stack) CreateDevice(cfg config.DeviceConfig) (*device.Device, error) {
	typ, err := device.ParseType(cfg.Type)
	if err != nil {
		return nil, err
	}

	var prefix netip.Prefix
	if cfg.Address != "" {
		if prefix, err = netip.ParsePrefix(cfg.Address); err != nil {
			return nil, fmt.Errorf("%w: device %s: %v", core.ErrInvalidParameter, cfg.Name, err)
		}
	} else if typ == device.TypeLoopback {
		prefix = loopbackPrefix
	}

	var hw core.HardwareAddr
	if cfg.HWAddr != "" {
		if hw, err = core.ParseHardwareAddr(cfg.HWAddr); err != nil {
			return nil, err
		}
	}

	var (
		dev  *device.Device
		link *device.Channel
	)
	switch typ {
	case device.TypeLoopback:
		lo := device.NewLoopback()
		lo.SetReceiver(s.loopback)
		dev = device.New(cfg.Name, typ, hw, prefix, cfg.MTU, lo)
	default:
		if hw.IsZero() {
			return nil, fmt.Errorf("%w: device %s needs a hardware address", core.ErrInvalidParameter, cfg.Name)
		}
		link = device.NewChannel(s.cfg.EventQ.QueueSize)
		dev = device.New(cfg.Name, typ, hw, prefix, cfg.MTU, link)
	}

	if err := s.AddDevice(dev); err != nil {
		return nil, err
	}
	if link != nil {
		s.lock.Obtain()
		s.links[cfg.Name] = link
		s.release()
	}
	return dev, nil
}

// Link returns the in-memory link of an ethernet device made by CreateDevice.
func (s *Stack) Link(name string) (*device.Channel, error) {
	s.lock.Obtain()
	defer s.release()

	link, ok := s.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: no link for %s", core.ErrDeviceNotFound, name)
	}
	return link, nil
}

// Input hands a frame received on device name to the stack.
func (s *Stack) Input(name string, frame []byte) error {
	s.lock.Obtain()
	defer s.release()

	dev, err := s.devices.ByName(name)
	if err != nil {
		return err
	}
	return s.input.Receive(dev, frame)
}

// Claim reports the address claim of device name.
func (s *Stack) Claim(name string) (arp.ClaimInfo, error) {
	s.lock.Obtain()
	defer s.release()

	dev, err := s.devices.ByName(name)
	if err != nil {
		return arp.ClaimInfo{}, err
	}
	info, ok := s.resolver.ClaimInfo(dev.Index)
	if !ok {
		return arp.ClaimInfo{}, fmt.Errorf("%w: no address claim on %s", core.ErrNotFound, name)
	}
	return info, nil
}

// Ioctl forwards a control request verbatim to the driver of device name.
func (s *Stack) Ioctl(name string, code uint, arg []byte) error {
	s.lock.Obtain()
	defer s.release()

	return s.devices.Ioctl(name, code, arg)
}

// Devices lists the registered devices.
func (s *Stack) Devices() []device.Info {
	s.lock.Obtain()
	defer s.release()

	list := s.devices.List()
	out := make([]device.Info, 0, len(list))
	for _, d := range list {
		out = append(out, d.Info())
	}
	return out
}
