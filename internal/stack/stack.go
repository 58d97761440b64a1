// Package stack ties the buffer pool, socket table, control blocks, routing
// tables, ARP resolver and devices together behind one coarse lock.
package stack

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/eventq"
	"firestige.xyz/netcore/internal/ip"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
	"firestige.xyz/netcore/internal/tcp"
	"firestige.xyz/netcore/internal/udp"
)

const (
	topicARPRetry = "arp.retry"
	topicARPAge   = "arp.age"
	topicARPClaim = "arp.claim"
	topicLoopback = "loopback.input"
)

// Stack owns every table of one network stack instance.
type Stack struct {
	cfg  config.StackConfig
	lock Semaphore
	now  func() time.Time

	pool     *buffer.Pool
	sockets  *socket.Table
	options  *socket.Dispatcher
	tcp      *tcp.Ports
	udp      *udp.Ports
	devices  *device.Registry
	links    map[string]*device.Channel
	routes   *route.Tables
	resolver *arp.Resolver
	output   *ip.Output
	input    *ip.Input
	events   *eventq.Queue
}

// Option customises a Stack built by New.
type Option func(*Stack)

// WithSemaphore replaces the default stack lock.
func WithSemaphore(sem Semaphore) Option {
	return func(s *Stack) { s.lock = sem }
}

// WithClock replaces the clock of the ARP cache.
func WithClock(now func() time.Time) Option {
	return func(s *Stack) { s.now = now }
}

// New builds an empty stack sized by cfg: no devices, empty routing tables
// and an empty ARP cache.
func New(cfg config.StackConfig, opts ...Option) (*Stack, error) {
	if cfg.Buffers.Count <= 0 || cfg.Buffers.Size <= 0 || cfg.Sockets.Max <= 0 ||
		cfg.TCP.MaxPorts <= 0 || cfg.UDP.MaxPorts <= 0 || cfg.ARP.CacheLength <= 0 {
		return nil, fmt.Errorf("%w: stack tables must have a positive size", core.ErrInvalidParameter)
	}

	s := &Stack{
		cfg:     cfg,
		lock:    NewSemaphore(),
		pool:    buffer.NewPool(cfg.Buffers.Count, cfg.Buffers.Size),
		sockets: socket.NewTable(cfg.Sockets.Max),
		options: socket.NewDispatcher(),
		tcp:     tcp.NewPorts(cfg.TCP.MaxPorts, cfg.TCP.DefaultWindow),
		udp:     udp.NewPorts(cfg.UDP.MaxPorts),
		devices: device.NewRegistry(),
		links:   make(map[string]*device.Channel),
		routes:  route.NewTables(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cache := arp.NewCache(cfg.ARP.CacheLength, cfg.ARP.Timeout)
	if s.now != nil {
		cache.SetClock(s.now)
	}
	s.resolver = arp.NewResolver(cache, s.pool, cfg.ARP, s)
	s.output = ip.NewOutput(s.pool, s.routes, s.devices, s.resolver)
	s.input = ip.NewInput(s.pool, s.sockets, s.udp, s.resolver)

	tcpOptions := tcp.NewOptionHandler(s.tcp)
	handlers := []socket.OptionHandler{
		socket.NewSocketHandler(tcpOptions),
		ip.NewOptionHandler(s.devices),
		tcpOptions,
		udp.NewOptionHandler(s.udp),
	}
	for _, h := range handlers {
		if err := s.options.Register(h); err != nil {
			return nil, err
		}
	}

	s.events = eventq.New(cfg.EventQ.Partitions, cfg.EventQ.QueueSize)
	subscriptions := map[string]eventq.Handler{
		topicARPRetry: s.onARPRetry,
		topicARPAge:   s.onARPAge,
		topicARPClaim: s.onARPClaim,
		topicLoopback: s.onLoopback,
	}
	for topic, handler := range subscriptions {
		if err := s.events.Subscribe(topic, handler); err != nil {
			_ = s.events.Close()
			return nil, err
		}
	}

	metrics.BuffersFree.Set(float64(s.pool.Stats().Free))
	return s, nil
}

// Shutdown stops the event queue and empties every receive queue. The
// stack must not be used afterwards.
func (s *Stack) Shutdown() error {
	err := s.events.Close()

	s.lock.Obtain()
	defer s.release()
	for _, sock := range s.sockets.List() {
		s.pool.Drain(&sock.Recv)
	}
	return err
}

// release gives the stack lock back. A failure is logged and counted; it
// never reaches the caller.
func (s *Stack) release() {
	metrics.BuffersFree.Set(float64(s.pool.Stats().Free))
	if err := s.lock.Release(); err != nil {
		metrics.StackLockReleaseFailuresTotal.Inc()
		log.GetLogger().WithError(err).Error("failed to release stack lock")
	}
}

// BufferStats reports buffer pool occupancy.
func (s *Stack) BufferStats() buffer.Stats {
	return s.pool.Stats()
}

// Status is a summary of the stack tables.
type Status struct {
	Sockets    int           `json:"sockets" yaml:"sockets" mapstructure:"sockets"`
	Devices    int           `json:"devices" yaml:"devices" mapstructure:"devices"`
	Routes     int           `json:"routes" yaml:"routes" mapstructure:"routes"`
	ARPEntries int           `json:"arp_entries" yaml:"arp_entries" mapstructure:"arp_entries"`
	Buffers    buffer.Stats  `json:"buffers" yaml:"buffers" mapstructure:"buffers"`
	Events     *eventq.Stats `json:"events" yaml:"events" mapstructure:"events"`
}

func (s *Stack) Status() Status {
	s.lock.Obtain()
	defer s.release()

	v4, _ := s.routes.Table(core.FamilyINET)
	return Status{
		Sockets:    s.sockets.Len(),
		Devices:    len(s.devices.List()),
		Routes:     v4.Len(),
		ARPEntries: s.resolver.Cache().Len(),
		Buffers:    s.pool.Stats(),
		Events:     s.events.Stats(),
	}
}

// ScheduleRetry queues an ARP request retry for dst. It is called by the
// resolver with the stack lock held.
func (s *Stack) ScheduleRetry(dst netip.Addr, delay time.Duration) {
	ev := &eventq.Event{Topic: topicARPRetry, Key: dst.String(), Payload: dst}
	if err := s.events.Schedule(delay, ev); err != nil {
		log.GetLogger().WithError(err).WithField("addr", dst.String()).Warn("failed to schedule arp retry")
	}
}

func (s *Stack) onARPRetry(ev *eventq.Event) error {
	dst, ok := ev.Payload.(netip.Addr)
	if !ok {
		return fmt.Errorf("arp retry payload is %T", ev.Payload)
	}
	s.lock.Obtain()
	defer s.release()

	s.resolver.Retry(dst)
	return nil
}

// ScheduleClaim queues the next probe or announcement for the device at
// index. It is called by the resolver with the stack lock held.
func (s *Stack) ScheduleClaim(index int, delay time.Duration) {
	ev := &eventq.Event{Topic: topicARPClaim, Key: fmt.Sprintf("dev/%d", index), Payload: index}
	if err := s.events.Schedule(delay, ev); err != nil {
		log.GetLogger().WithError(err).WithField("index", index).Warn("failed to schedule arp claim")
	}
}

func (s *Stack) onARPClaim(ev *eventq.Event) error {
	index, ok := ev.Payload.(int)
	if !ok {
		return fmt.Errorf("arp claim payload is %T", ev.Payload)
	}
	s.lock.Obtain()
	defer s.release()

	s.resolver.ClaimStep(index)
	return nil
}

// StartAging expires stale ARP entries every aging interval until Shutdown.
func (s *Stack) StartAging() error {
	return s.events.Schedule(s.cfg.ARP.AgingInterval, &eventq.Event{Topic: topicARPAge, Key: topicARPAge})
}

func (s *Stack) onARPAge(ev *eventq.Event) error {
	n := s.ARPExpire()
	if n > 0 {
		log.GetLogger().WithField("expired", n).Debug("arp entries aged out")
	}
	// fails only once the queue is closed
	_ = s.events.Schedule(s.cfg.ARP.AgingInterval, ev)
	return nil
}

type loopFrame struct {
	dev   *device.Device
	frame []byte
}

// loopback queues a frame sent on a loopback device for input. It runs
// under the transmitter's lock, so delivery happens on the event queue.
func (s *Stack) loopback(dev *device.Device, frame []byte) {
	ev := &eventq.Event{Topic: topicLoopback, Key: dev.Name, Payload: loopFrame{dev: dev, frame: frame}}
	if err := s.events.Publish(ev); err != nil {
		metrics.PacketsTotal.WithLabelValues("rx", "dropped").Inc()
		log.GetLogger().WithError(err).WithField("dev", dev.Name).Warn("loopback frame dropped")
	}
}

func (s *Stack) onLoopback(ev *eventq.Event) error {
	lf, ok := ev.Payload.(loopFrame)
	if !ok {
		return fmt.Errorf("loopback payload is %T", ev.Payload)
	}
	s.lock.Obtain()
	defer s.release()

	return s.input.Receive(lf.dev, lf.frame)
}
