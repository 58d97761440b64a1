package stack

import (
	"errors"
	"fmt"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/socket"
)

// GetOption reads option name of level on socket sd into out and returns the
// number of bytes written. Invalid descriptors and buffers are rejected
// before the stack lock is taken.
func (s *Stack) GetOption(sd int, level socket.Level, name socket.Name, out []byte) (n int, err error) {
	defer func() { observeOption("get", sd, level, name, err) }()

	if !s.sockets.Valid(sd) {
		return 0, fmt.Errorf("%w: %d", core.ErrInvalidSocket, sd)
	}
	if len(out) < socket.IntSize {
		return 0, fmt.Errorf("%w: option buffer of %d bytes", core.ErrInvalidParameter, len(out))
	}

	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return 0, err
	}
	return s.options.GetOption(sock, level, name, out)
}

// SetOption applies value to option name of level on socket sd. Only that
// socket and its control block change, and only on success.
func (s *Stack) SetOption(sd int, level socket.Level, name socket.Name, value []byte) (err error) {
	defer func() { observeOption("set", sd, level, name, err) }()

	if !s.sockets.Valid(sd) {
		return fmt.Errorf("%w: %d", core.ErrInvalidSocket, sd)
	}
	if len(value) < socket.IntSize {
		return fmt.Errorf("%w: option value of %d bytes", core.ErrInvalidParameter, len(value))
	}

	s.lock.Obtain()
	defer s.release()

	sock, err := s.sockets.Get(sd)
	if err != nil {
		return err
	}
	return s.options.SetOption(sock, level, name, value)
}

func observeOption(op string, sd int, level socket.Level, name socket.Name, err error) {
	metrics.SockoptCallsTotal.WithLabelValues(op, level.String(), errorResult(err)).Inc()
	if err != nil {
		log.GetLogger().WithFields(map[string]interface{}{
			"sd":    sd,
			"level": level.String(),
			"name":  socket.OptionName(level, name),
		}).WithError(err).Debugf("%s option failed", op)
	}
}

// errorResult maps an error onto a metric label.
func errorResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrInvalidSocket):
		return "invalid_socket"
	case errors.Is(err, core.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, core.ErrUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}
