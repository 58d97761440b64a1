package socket

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"firestige.xyz/netcore/internal/core"
)

// Level selects the protocol layer an option belongs to.
type Level int

const (
	LevelSocket Level = unix.SOL_SOCKET
	LevelIP     Level = unix.IPPROTO_IP
	LevelTCP    Level = unix.IPPROTO_TCP
	LevelUDP    Level = unix.IPPROTO_UDP
)

var levelNames = map[Level]string{
	LevelSocket: "socket",
	LevelIP:     "ip",
	LevelTCP:    "tcp",
	LevelUDP:    "udp",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel accepts a level name or its number.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: option level %q", core.ErrInvalidParameter, s)
	}
	return Level(n), nil
}

// Name identifies an option within its level. Names share the Linux value
// where Linux has the same option; the rest start at 0x1000.
type Name int

const (
	SOBroadcast Name = unix.SO_BROADCAST
	SOLinger    Name = unix.SO_LINGER
	SOKeepAlive Name = unix.SO_KEEPALIVE
	SORcvBuf    Name = unix.SO_RCVBUF
	SOReuseAddr Name = unix.SO_REUSEADDR

	IPTTL          Name = unix.IP_TTL
	IPTOS          Name = unix.IP_TOS
	IPHdrIncl      Name = unix.IP_HDRINCL
	IPPktInfo      Name = unix.IP_PKTINFO
	IPMulticastIf  Name = unix.IP_MULTICAST_IF
	IPMulticastTTL Name = unix.IP_MULTICAST_TTL
	IPRecvIfAddr   Name = 0x1000

	TCPNoDelay       Name = unix.TCP_NODELAY
	TCPKeepAliveWait Name = unix.TCP_KEEPIDLE
	TCPRecvWindow    Name = unix.TCP_WINDOW_CLAMP
	TCPKeepAlive     Name = 0x1000
	TCPDSACK         Name = 0x1001

	UDPNoChecksum Name = 0x1000
)

var optionNames = map[Level]map[Name]string{
	LevelSocket: {
		SOBroadcast: "broadcast",
		SOLinger:    "linger",
		SOKeepAlive: "keepalive",
		SORcvBuf:    "rcvbuf",
		SOReuseAddr: "reuseaddr",
	},
	LevelIP: {
		IPTTL:          "ttl",
		IPTOS:          "tos",
		IPHdrIncl:      "hdrincl",
		IPPktInfo:      "pktinfo",
		IPMulticastIf:  "multicast_if",
		IPMulticastTTL: "multicast_ttl",
		IPRecvIfAddr:   "recvifaddr",
	},
	LevelTCP: {
		TCPNoDelay:       "nodelay",
		TCPKeepAliveWait: "keepalive_wait",
		TCPRecvWindow:    "recv_window",
		TCPKeepAlive:     "keepalive",
		TCPDSACK:         "dsack",
	},
	LevelUDP: {
		UDPNoChecksum: "nochecksum",
	},
}

// OptionName returns the short name of an option, or its number.
func OptionName(level Level, name Name) string {
	if s, ok := optionNames[level][name]; ok {
		return s
	}
	return strconv.Itoa(int(name))
}

// ParseName accepts an option name for level or its number.
func ParseName(level Level, s string) (Name, error) {
	for n, name := range optionNames[level] {
		if name == s {
			return n, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: option %q at level %s", core.ErrInvalidParameter, s, level)
	}
	return Name(n), nil
}

// OptionsOf lists every known option of level in name order.
func OptionsOf(level Level) []Name {
	names := make([]Name, 0, len(optionNames[level]))
	for n := range optionNames[level] {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// OptionHandler serves the options of one level. Handlers run with the
// stack lock held and touch only the socket they are given and its control
// block.
type OptionHandler interface {
	Level() Level
	// GetOption writes the value into out and returns the bytes written.
	GetOption(s *Socket, name Name, out []byte) (int, error)
	SetOption(s *Socket, name Name, value []byte) error
}

// Dispatcher routes option calls to the handler registered for their level.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Level]OptionHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Level]OptionHandler)}
}

// Register adds h. A level can only be registered once.
func (d *Dispatcher) Register(h OptionHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[h.Level()]; exists {
		return fmt.Errorf("option handler for level %s already registered", h.Level())
	}
	d.handlers[h.Level()] = h
	return nil
}

// Handler returns the handler of level or core.ErrUnsupported.
func (d *Dispatcher) Handler(level Level) (OptionHandler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, exists := d.handlers[level]
	if !exists {
		return nil, fmt.Errorf("%w: option level %s", core.ErrUnsupported, level)
	}
	return h, nil
}

// Levels returns the registered levels in ascending order.
func (d *Dispatcher) Levels() []Level {
	d.mu.RLock()
	defer d.mu.RUnlock()

	levels := make([]Level, 0, len(d.handlers))
	for l := range d.handlers {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}

func (d *Dispatcher) GetOption(s *Socket, level Level, name Name, out []byte) (int, error) {
	h, err := d.Handler(level)
	if err != nil {
		return 0, err
	}
	return h.GetOption(s, name, out)
}

func (d *Dispatcher) SetOption(s *Socket, level Level, name Name, value []byte) error {
	h, err := d.Handler(level)
	if err != nil {
		return err
	}
	return h.SetOption(s, name, value)
}

// UnknownOption builds the error returned for a name a handler does not serve.
func UnknownOption(level Level, name Name) error {
	return fmt.Errorf("%w: option %d at level %s", core.ErrUnsupported, int(name), level)
}
