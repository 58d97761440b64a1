package device

import (
	"fmt"

	"firestige.xyz/netcore/internal/core"
)

// Channel is an in-memory link: transmitted frames are copied onto a bounded
// Go channel for a consumer (a test, a tap bridge) to read.
type Channel struct {
	out chan []byte
}

func NewChannel(depth int) *Channel {
	return &Channel{out: make(chan []byte, depth)}
}

// Frames returns the receive side of the link.
func (c *Channel) Frames() <-chan []byte { return c.out }

func (c *Channel) Transmit(dev *Device, frame [][]byte) error {
	select {
	case c.out <- gather(frame):
		return nil
	default:
		return fmt.Errorf("%w: %s transmit queue full", core.ErrNoMemory, dev.Name)
	}
}

func (c *Channel) Ioctl(dev *Device, code uint, arg []byte) error {
	return StandardIoctl(dev, code, arg)
}

func gather(frame [][]byte) []byte {
	n := 0
	for _, seg := range frame {
		n += len(seg)
	}
	out := make([]byte, 0, n)
	for _, seg := range frame {
		out = append(out, seg...)
	}
	return out
}
