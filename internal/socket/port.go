package socket

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
)

// Ephemeral ports handed out to sockets bound to port 0.
const (
	EphemeralFirst = 49152
	EphemeralLast  = 65535
)

// UniquePort returns the first ephemeral port after *cursor that inUse
// rejects, advancing the cursor past it.
func UniquePort(cursor *uint16, inUse func(uint16) bool) (uint16, error) {
	span := EphemeralLast - EphemeralFirst + 1
	for i := 0; i < span; i++ {
		if *cursor < EphemeralFirst || *cursor >= EphemeralLast {
			*cursor = EphemeralFirst
		} else {
			*cursor++
		}
		if !inUse(*cursor) {
			return *cursor, nil
		}
	}
	return 0, fmt.Errorf("%w: no ephemeral port left", core.ErrAddressInUse)
}
