package device

import (
	"fmt"
	"net/netip"
	"sync"

	"firestige.xyz/netcore/internal/core"
)

// Registry is the device table. Indices are assigned densely from zero in
// registration order.
type Registry struct {
	mu      sync.RWMutex
	devices []*Device
	byName  map[string]*Device
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Device)}
}

// Add registers d and assigns its index.
func (r *Registry) Add(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.Name == "" || d.driver == nil {
		return fmt.Errorf("%w: device needs a name and a driver", core.ErrInvalidParameter)
	}
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("device %s already registered", d.Name)
	}
	d.Index = len(r.devices)
	r.devices = append(r.devices, d)
	r.byName[d.Name] = d
	return nil
}

func (r *Registry) ByName(name string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDeviceNotFound, name)
	}
	return d, nil
}

func (r *Registry) ByIndex(index int) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.devices) {
		return nil, fmt.Errorf("%w: index %d", core.ErrDeviceNotFound, index)
	}
	return r.devices[index], nil
}

// ByAddr returns the device that owns addr, or nil.
func (r *Registry) ByAddr(addr netip.Addr) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.Prefix.IsValid() && d.Addr() == addr {
			return d
		}
	}
	return nil
}

// OnLink returns the first device whose subnet contains addr, or nil.
func (r *Registry) OnLink(addr netip.Addr) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.OnLink(addr) {
			return d
		}
	}
	return nil
}

// List returns the devices in index order.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Ioctl looks up the device by name and forwards the request verbatim.
func (r *Registry) Ioctl(name string, code uint, arg []byte) error {
	d, err := r.ByName(name)
	if err != nil {
		return err
	}
	return d.Ioctl(code, arg)
}
