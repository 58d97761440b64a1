package command

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/socket"
)

// ─── Method parameters ─────────────────────────────────────────────────────

// ARPSetParams represents parameters for arp_set.
type ARPSetParams struct {
	Address   string `json:"address" mapstructure:"address"`
	HWAddr    string `json:"hw_addr" mapstructure:"hw_addr"`
	Permanent bool   `json:"permanent,omitempty" mapstructure:"permanent"`
	Published bool   `json:"published,omitempty" mapstructure:"published"`
	TTL       string `json:"ttl,omitempty" mapstructure:"ttl"` // duration; cache timeout when empty
}

// AddressParams carries a single address (arp_delete, route_lookup).
type AddressParams struct {
	Address string `json:"address" mapstructure:"address"`
}

// RouteParams represents parameters for route_add and route_delete.
type RouteParams struct {
	Prefix  string `json:"prefix" mapstructure:"prefix"`
	NextHop string `json:"next_hop,omitempty" mapstructure:"next_hop"`
	Device  string `json:"device,omitempty" mapstructure:"device"`
	Metric  int    `json:"metric,omitempty" mapstructure:"metric"`
	Replace bool   `json:"replace,omitempty" mapstructure:"replace"`
}

// FamilyParams selects a routing table (route_default, route_list).
type FamilyParams struct {
	Family string `json:"family,omitempty" mapstructure:"family"` // inet when empty
}

// SocketOpenParams represents parameters for socket_open.
type SocketOpenParams struct {
	Type     string  `json:"type" mapstructure:"type"` // stream / dgram / raw
	Protocol int     `json:"protocol,omitempty" mapstructure:"protocol"`
	Port     *uint16 `json:"port,omitempty" mapstructure:"port"` // bind when set; 0 picks a port
}

// SocketParams names one descriptor.
type SocketParams struct {
	SD int `json:"sd" mapstructure:"sd"`
}

// SockoptParams represents parameters for sockopt_get and sockopt_set.
// Level and Name take the short names of package socket or numbers.
type SockoptParams struct {
	SD    int    `json:"sd" mapstructure:"sd"`
	Level string `json:"level" mapstructure:"level"`
	Name  string `json:"name" mapstructure:"name"`
	Value string `json:"value,omitempty" mapstructure:"value"`
}

// IoctlParams represents parameters for dev_ioctl. Request is a SIOC* name
// or a number.
type IoctlParams struct {
	Device  string `json:"device" mapstructure:"device"`
	Request string `json:"request" mapstructure:"request"`
	Value   string `json:"value,omitempty" mapstructure:"value"`
}

// ─── Results ───────────────────────────────────────────────────────────────

// SocketResult is returned by socket_open.
type SocketResult struct {
	SD   int    `json:"sd" yaml:"sd" mapstructure:"sd"`
	Port uint16 `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port"`
}

// SockoptResult is returned by sockopt_get and sockopt_set.
type SockoptResult struct {
	SD    int    `json:"sd" yaml:"sd" mapstructure:"sd"`
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	Name  string `json:"name" yaml:"name" mapstructure:"name"`
	Value string `json:"value" yaml:"value" mapstructure:"value"`
	Raw   string `json:"raw" yaml:"raw" mapstructure:"raw"`
}

// IoctlResult is returned by dev_ioctl.
type IoctlResult struct {
	Device  string `json:"device" yaml:"device" mapstructure:"device"`
	Request string `json:"request" yaml:"request" mapstructure:"request"`
	Value   string `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	Raw     string `json:"raw" yaml:"raw" mapstructure:"raw"`
}

// ─── Option values ─────────────────────────────────────────────────────────

// encodeOption turns the text form of an option value into its wire bytes.
// multicast_if takes an address, linger takes "on,<secs>" or "off", every
// other option an integer. A 0x prefix passes raw bytes through.
func encodeOption(level socket.Level, name socket.Name, v string) ([]byte, error) {
	if raw, ok, err := rawHex(v); ok {
		return raw, err
	}
	switch {
	case level == socket.LevelIP && name == socket.IPMulticastIf:
		if v == "" {
			return socket.Addr4(netip.Addr{}), nil
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
		}
		return socket.Addr4(addr), nil

	case level == socket.LevelSocket && name == socket.SOLinger:
		state, secs, _ := strings.Cut(v, ",")
		n := 0
		if secs != "" {
			var err error
			if n, err = strconv.Atoi(secs); err != nil {
				return nil, fmt.Errorf("%w: linger seconds %q", core.ErrInvalidParameter, secs)
			}
		}
		on, err := parseSwitch(state)
		if err != nil {
			return nil, err
		}
		return socket.Linger(on, n), nil
	}

	if on, err := parseSwitch(v); err == nil {
		if on {
			return socket.Int(1), nil
		}
		return socket.Int(0), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: option value %q", core.ErrInvalidParameter, v)
	}
	return socket.Int(n), nil
}

// decodeOption renders option bytes in the form encodeOption accepts.
func decodeOption(level socket.Level, name socket.Name, b []byte) string {
	switch {
	case level == socket.LevelIP && name == socket.IPMulticastIf:
		if addr, err := socket.ParseAddr4(b); err == nil {
			return addr.String()
		}
	case level == socket.LevelSocket && name == socket.SOLinger:
		if on, secs, err := socket.ParseLinger(b); err == nil {
			if on {
				return "on," + strconv.Itoa(secs)
			}
			return "off," + strconv.Itoa(secs)
		}
	default:
		if v, err := socket.ParseInt(b); err == nil {
			return strconv.Itoa(v)
		}
	}
	return "0x" + hex.EncodeToString(b)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not on/off", core.ErrInvalidParameter, s)
}

func rawHex(v string) ([]byte, bool, error) {
	if !strings.HasPrefix(v, "0x") || len(v) <= 2 {
		return nil, false, nil
	}
	b, err := hex.DecodeString(v[2:])
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", core.ErrInvalidParameter, err)
	}
	return b, true, nil
}

// ─── Device requests ───────────────────────────────────────────────────────

type ioctlKind int

const (
	ioctlRaw ioctlKind = iota
	ioctlInt
	ioctlFlags
	ioctlHW
	ioctlAddr
)

type ioctlRequest struct {
	code uint
	size int
	kind ioctlKind
}

var ioctlRequests = map[string]ioctlRequest{
	"SIOCGIFINDEX":   {device.SIOCGIFINDEX, 4, ioctlInt},
	"SIOCGIFFLAGS":   {device.SIOCGIFFLAGS, 2, ioctlFlags},
	"SIOCSIFFLAGS":   {device.SIOCSIFFLAGS, 2, ioctlFlags},
	"SIOCGIFMTU":     {device.SIOCGIFMTU, 4, ioctlInt},
	"SIOCSIFMTU":     {device.SIOCSIFMTU, 4, ioctlInt},
	"SIOCGIFHWADDR":  {device.SIOCGIFHWADDR, 8, ioctlHW},
	"SIOCGIFADDR":    {device.SIOCGIFADDR, 8, ioctlAddr},
	"SIOCGIFBRDADDR": {device.SIOCGIFBRDADDR, 8, ioctlAddr},
	"SIOCGIFNETMASK": {device.SIOCGIFNETMASK, 8, ioctlAddr},
}

// ioctlArg resolves a request name and builds its argument buffer from the
// text value. Unknown numeric requests take the value as raw hex.
func ioctlArg(request, value string) (ioctlRequest, []byte, error) {
	req, ok := ioctlRequests[strings.ToUpper(request)]
	if !ok {
		code, err := strconv.ParseUint(request, 0, 32)
		if err != nil {
			return req, nil, fmt.Errorf("%w: ioctl request %q", core.ErrInvalidParameter, request)
		}
		req = ioctlRequest{code: uint(code), size: 16, kind: ioctlRaw}
	}

	if raw, isRaw, err := rawHex(value); isRaw {
		if err != nil {
			return req, nil, err
		}
		if len(raw) < req.size {
			raw = append(raw, make([]byte, req.size-len(raw))...)
		}
		return req, raw, nil
	}

	arg := make([]byte, req.size)
	if value == "" {
		return req, arg, nil
	}
	switch req.kind {
	case ioctlInt:
		n, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return req, nil, fmt.Errorf("%w: ioctl value %q", core.ErrInvalidParameter, value)
		}
		binary.NativeEndian.PutUint32(arg, uint32(n))
	case ioctlFlags:
		var flags device.Flags
		switch strings.ToLower(value) {
		case "up":
			flags = device.FlagUp
		case "down":
		default:
			n, err := strconv.ParseUint(value, 0, 16)
			if err != nil {
				return req, nil, fmt.Errorf("%w: ioctl flags %q", core.ErrInvalidParameter, value)
			}
			flags = device.Flags(n)
		}
		binary.NativeEndian.PutUint16(arg, uint16(flags))
	default:
		return req, nil, fmt.Errorf("%w: ioctl %s takes no value", core.ErrInvalidParameter, request)
	}
	return req, arg, nil
}

// ioctlValue renders the argument a driver filled in.
func ioctlValue(req ioctlRequest, arg []byte) string {
	switch req.kind {
	case ioctlInt:
		return strconv.FormatUint(uint64(binary.NativeEndian.Uint32(arg)), 10)
	case ioctlFlags:
		return fmt.Sprintf("%#x", binary.NativeEndian.Uint16(arg))
	case ioctlHW:
		hw, err := core.HardwareAddrFromSlice(arg[2:8])
		if err != nil {
			return ""
		}
		return hw.String()
	case ioctlAddr:
		if a, ok := netip.AddrFromSlice(arg[4:8]); ok {
			return a.String()
		}
	}
	return ""
}
