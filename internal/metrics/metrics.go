// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuffersFree reports buffers currently on the free list
	BuffersFree = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcore_buffers_free",
			Help: "Number of buffers on the free list",
		},
	)

	// BufferAllocFailuresTotal counts allocations refused because the pool was empty
	BufferAllocFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_buffer_alloc_failures_total",
			Help: "Total number of buffer allocations that found the free list empty",
		},
	)

	// ARPLookupsTotal counts ARP cache lookups by result (hit, miss, pending)
	ARPLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_arp_lookups_total",
			Help: "Total number of ARP cache lookups",
		},
		[]string{"result"},
	)

	// ARPEntries reports valid ARP cache entries
	ARPEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcore_arp_entries",
			Help: "Number of valid ARP cache entries",
		},
	)

	// ARPRequestsTotal counts ARP requests sent
	ARPRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_arp_requests_total",
			Help: "Total number of ARP requests transmitted",
		},
	)

	// ARPConflictsTotal counts packets showing another host on one of our addresses
	ARPConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_arp_conflicts_total",
			Help: "Total number of ARP address conflicts detected",
		},
	)

	// RouteLookupsTotal counts route lookups by result (match, default, miss)
	RouteLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_route_lookups_total",
			Help: "Total number of routing table lookups",
		},
		[]string{"result"},
	)

	// SockoptCallsTotal counts option calls by operation, level and result
	SockoptCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_sockopt_calls_total",
			Help: "Total number of socket option get/set calls",
		},
		[]string{"op", "level", "result"},
	)

	// StackLockReleaseFailuresTotal counts stack lock releases that reported an error
	StackLockReleaseFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_stack_lock_release_failures_total",
			Help: "Total number of failed stack lock releases",
		},
	)

	// PacketsTotal counts packets by direction (tx, rx) and result
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_packets_total",
			Help: "Total number of packets handled by the stack",
		},
		[]string{"dir", "result"},
	)

	// EventQueueDropsTotal counts events dropped because a partition queue was full
	EventQueueDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netcore_eventq_drops_total",
			Help: "Total number of events dropped by the event queue",
		},
	)
)
