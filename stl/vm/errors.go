package vm

import (
	"errors"
)

var (
	// ErrDuplicateVariable is returned when two variables share a name.
	ErrDuplicateVariable = errors.New("duplicate variable")
	// ErrInvalidSize is returned for a variable or field width outside
	// the supported set.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidRange is returned for empty, inverted or unrepresentable
	// value ranges and limits.
	ErrInvalidRange = errors.New("invalid range")
	// ErrTooManyVariables is returned when variables do not fit into the
	// BSS.
	ErrTooManyVariables = errors.New("too many flow variables")
	// ErrBadNextVarOrdering is returned when a "next_var" link does not
	// point to the immediately following single-core variable.
	ErrBadNextVarOrdering = errors.New("bad next_var ordering")
	// ErrOffsetTooLarge is returned when the program touches the packet
	// beyond the writable limit.
	ErrOffsetTooLarge = errors.New("packet offset too large")
	// ErrEmptyProgramWithReference is returned when instructions reference
	// variables but none are declared.
	ErrEmptyProgramWithReference = errors.New("instructions reference variables but none are declared")
	// ErrUnresolvedVariable is returned when an instruction references an
	// unknown variable.
	ErrUnresolvedVariable = errors.New("unresolved variable")
	// ErrPacketTooSmallForField is returned when a field does not fit into
	// the packet.
	ErrPacketTooSmallForField = errors.New("packet too small for field")
	// ErrUnsupportedVariable is returned when an instruction references a
	// variable of the wrong kind.
	ErrUnsupportedVariable = errors.New("unsupported variable kind")
	// ErrUnsupportedProtocol is returned when a checksum instruction does
	// not match the sample packet.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)
