// Package core defines sentinel errors.
package core

import "errors"

var (
	// Socket layer errors
	ErrInvalidSocket    = errors.New("netcore: invalid socket descriptor")
	ErrInvalidParameter = errors.New("netcore: invalid parameter")
	ErrUnsupported      = errors.New("netcore: unsupported option")
	ErrNotPermitted     = errors.New("netcore: operation not permitted")
	ErrAddressInUse     = errors.New("netcore: address already in use")

	// Table errors
	ErrNoMemory = errors.New("netcore: no memory")
	ErrNotFound = errors.New("netcore: entry not found")

	// Buffer pool errors
	ErrOutOfBuffers  = errors.New("netcore: out of buffers")
	ErrInvalidBuffer = errors.New("netcore: invalid buffer")

	// Routing errors
	ErrRouteExists = errors.New("netcore: route already exists")
	ErrNoRoute     = errors.New("netcore: no route to host")

	// ARP errors
	ErrUnresolved = errors.New("netcore: address resolution pending")

	// Device errors
	ErrDeviceNotFound = errors.New("netcore: device not found")
	ErrDeviceDown     = errors.New("netcore: device down")

	// Stack lock errors
	ErrSemaphoreNotHeld = errors.New("netcore: semaphore not held")

	// Configuration errors
	ErrConfigInvalid = errors.New("netcore: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("netcore: daemon not running")
)
