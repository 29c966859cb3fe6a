package vm

import (
	"encoding/binary"
	"fmt"
)

// opcode is the first byte of every bytecode record.
type opcode uint8

const (
	opInc opcode = iota + 1
	opDec
	opRandom
	opIncList
	opDecList
	opRandomList
	opRandLimit
	opClient
	opClientUnlimited
	opWrite
	opWriteMask
	opFixIPv4
	opFixICMPv6
	opFixHW
	opPacketSize
)

func (m opcode) String() string {
	switch m {
	case opInc:
		return "INC"
	case opDec:
		return "DEC"
	case opRandom:
		return "RANDOM"
	case opIncList:
		return "INC_LIST"
	case opDecList:
		return "DEC_LIST"
	case opRandomList:
		return "RANDOM_LIST"
	case opRandLimit:
		return "RAND_LIMIT"
	case opClient:
		return "CLIENT"
	case opClientUnlimited:
		return "CLIENT_UNLIMITED"
	case opWrite:
		return "PKT_WR"
	case opWriteMask:
		return "PKT_WR_MASK"
	case opFixIPv4:
		return "FIX_IPV4_CS"
	case opFixICMPv6:
		return "FIX_ICMPV6_CS"
	case opFixHW:
		return "FIX_HW_CS"
	case opPacketSize:
		return "PKT_SIZE_CHANGE"
	default:
		return fmt.Sprintf("OP(%d)", uint8(m))
	}
}

// Record sizes. All multi-byte operands are little-endian.
const (
	// op, width, var, skip:2, min:8, max:8, step:8
	sizeVarRange = 29
	// op, width, var, skip:2, list:2, step:2
	sizeVarList = 9
	// op, width, var, skip:2, limit:8, min:8, max:8, seed:4
	sizeRandLimit = 33
	// op, var, min_port:2, max_port:2, step_port:2, init_port:2,
	// min_ip:4, max_ip:4, step_ip:4, init_ip:4, limit:4
	sizeClient = 30
	// op, var, min_ip:4, max_ip:4, step_ip:4, wraps_ip:4
	sizeClientUnlimited = 18
	// op, width, flags, var, pkt_offset:2, add:8
	sizeWrite = 14
	// op, flags, var, shift, pkt_cast, var_cast, pkt_offset:2, mask:4, add:4
	sizeWriteMask = 16
	// op, offset:2
	sizeFixIPv4 = 3
	// op, l2:2, l3:2
	sizeFixICMPv6 = 5
	// op, l2:2, l3:2, flags:8
	sizeFixHW = 13
	// op, var
	sizePacketSize = 2
)

const flagBigEndian = 1

// recordSize returns the size of the record starting with "op".
func recordSize(op opcode) int {
	switch op {
	case opInc, opDec, opRandom:
		return sizeVarRange
	case opIncList, opDecList, opRandomList:
		return sizeVarList
	case opRandLimit:
		return sizeRandLimit
	case opClient:
		return sizeClient
	case opClientUnlimited:
		return sizeClientUnlimited
	case opWrite:
		return sizeWrite
	case opWriteMask:
		return sizeWriteMask
	case opFixIPv4:
		return sizeFixIPv4
	case opFixICMPv6:
		return sizeFixICMPv6
	case opFixHW:
		return sizeFixHW
	case opPacketSize:
		return sizePacketSize
	default:
		return 0
	}
}

// record is an append-only encoder of one bytecode record.
type record []byte

func newRecord(op opcode, size int) record {
	return append(make(record, 0, size), byte(op))
}

func (m record) u8(v uint8) record {
	return append(m, v)
}

func (m record) u16(v uint16) record {
	return binary.LittleEndian.AppendUint16(m, v)
}

func (m record) u32(v uint32) record {
	return binary.LittleEndian.AppendUint32(m, v)
}

func (m record) u64(v uint64) record {
	return binary.LittleEndian.AppendUint64(m, v)
}

func boolFlag(v bool) uint8 {
	if v {
		return flagBigEndian
	}
	return 0
}

// Operand readers used by the runner and the disassembler. "p" points at
// the first byte of a record, "off" is the operand offset inside it.

func rd16(p []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(p[off:])
}

func rd32(p []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(p[off:])
}

func rd64(p []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(p[off:])
}
