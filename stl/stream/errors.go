package stream

import (
	"errors"
)

var (
	// ErrInvalidPacket is returned for an empty or oversized template.
	ErrInvalidPacket = errors.New("invalid template packet")
	// ErrNoCores is returned when a generator has no core to run on.
	ErrNoCores = errors.New("no cores")
)
