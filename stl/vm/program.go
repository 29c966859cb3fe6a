package vm

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"slices"

	"github.com/zeebo/blake3"
)

// VarInfo describes where a variable lives in the BSS.
type VarInfo struct {
	Name   string
	Offset uint8
	Size   uint8
}

// Program is a compiled stream program.
//
// The bytecode and value lists are immutable and may be shared between
// cores; each stream instance runs against its own BSS copy obtained with
// NewBSS.
type Program struct {
	code         []byte
	lists        [][]uint64
	bss          []byte
	vars         []VarInfo
	instructions []Instruction
	pktSize      uint16
	maxOffset    uint16
	prefixSize   uint16
	pktLen       PacketLengthData
}

// Code returns the bytecode.
func (m *Program) Code() []byte {
	return m.code
}

// BSS returns the initial BSS image.
//
// The returned slice must not be modified.
func (m *Program) BSS() []byte {
	return m.bss
}

// NewBSS returns a private copy of the initial BSS image.
func (m *Program) NewBSS() []byte {
	return slices.Clone(m.bss)
}

// Vars returns the variables in BSS order.
func (m *Program) Vars() []VarInfo {
	return m.vars
}

// Var returns the current value of a variable in the given BSS.
func (m *Program) Var(bss []byte, name string) (uint64, bool) {
	for _, v := range m.vars {
		if v.Name == name {
			return loadLE(bss[v.Offset:], v.Size), true
		}
	}

	return 0, false
}

// PacketSize returns the template packet size the program was compiled
// for.
func (m *Program) PacketSize() uint16 {
	return m.pktSize
}

// MaxOffset returns the end of the furthest packet byte the program
// touches.
func (m *Program) MaxOffset() uint16 {
	return m.maxOffset
}

// PrefixSize returns how many leading packet bytes must be writable.
func (m *Program) PrefixSize() uint16 {
	return m.prefixSize
}

// PacketLength returns the lengths of packets the program produces.
func (m *Program) PacketLength() PacketLengthData {
	return m.pktLen
}

// Fingerprint returns a digest of the bytecode, the value lists and the
// initial BSS.
func (m *Program) Fingerprint() [32]byte {
	h := blake3.New()
	h.Write(m.code)

	var buf [8]byte
	for _, list := range m.lists {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(list)))
		h.Write(buf[:])
		for _, v := range list {
			binary.LittleEndian.PutUint64(buf[:], v)
			h.Write(buf[:])
		}
	}
	h.Write(m.bss)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Dump writes a human-readable listing of the program.
func (m *Program) Dump(w io.Writer) error {
	p := &printer{w: w}

	p.printf("instructions:\n")
	for idx, ins := range m.instructions {
		p.printf("  %3d %s\n", idx, ins)
	}

	p.printf("variables:\n")
	for _, v := range m.vars {
		p.printf("  %-24s offset %2d size %d\n", v.Name, v.Offset, v.Size)
	}

	p.printf("bss (%d bytes):\n", len(m.bss))
	if len(m.bss) > 0 {
		p.printf("%s", hex.Dump(m.bss))
	}

	p.printf("program (%d bytes, max offset %d, prefix %d):\n", len(m.code), m.maxOffset, m.prefixSize)
	for pc := 0; pc < len(m.code); {
		op := opcode(m.code[pc])
		size := recordSize(op)
		p.printf("  %04x %s\n", pc, m.disassemble(m.code[pc:pc+size]))
		pc += size
	}

	return p.err
}

func (m *Program) disassemble(r []byte) string {
	op := opcode(r[0])

	switch op {
	case opInc, opDec, opRandom:
		return fmt.Sprintf(
			"%-16s width %d var %d skip %d min %d max %d step %d",
			op, r[1], r[2], rd16(r, 3), rd64(r, 5), rd64(r, 13), rd64(r, 21),
		)
	case opIncList, opDecList, opRandomList:
		list := rd16(r, 5)
		return fmt.Sprintf(
			"%-16s width %d var %d skip %d list %d (%d values) step %d",
			op, r[1], r[2], rd16(r, 3), list, len(m.lists[list]), rd16(r, 7),
		)
	case opRandLimit:
		return fmt.Sprintf(
			"%-16s width %d var %d skip %d limit %d min %d max %d seed %#x",
			op, r[1], r[2], rd16(r, 3), rd64(r, 5), rd64(r, 13), rd64(r, 21), rd32(r, 29),
		)
	case opClient:
		return fmt.Sprintf(
			"%-16s var %d port [%d, %d] step %d init %d ip [%#x, %#x] step %d init %#x limit %d",
			op, r[1], rd16(r, 2), rd16(r, 4), rd16(r, 6), rd16(r, 8),
			rd32(r, 10), rd32(r, 14), rd32(r, 18), rd32(r, 22), rd32(r, 26),
		)
	case opClientUnlimited:
		return fmt.Sprintf(
			"%-16s var %d ip [%#x, %#x] step %d wraps %d",
			op, r[1], rd32(r, 2), rd32(r, 6), rd32(r, 10), rd32(r, 14),
		)
	case opWrite:
		return fmt.Sprintf(
			"%-16s width %d big_endian %t var %d pkt_offset %d add %d",
			op, r[1], r[2]&flagBigEndian != 0, r[3], rd16(r, 4), int64(rd64(r, 6)),
		)
	case opWriteMask:
		return fmt.Sprintf(
			"%-16s big_endian %t var %d shift %d pkt_cast %d var_cast %d pkt_offset %d mask %#x add %d",
			op, r[1]&flagBigEndian != 0, r[2], int8(r[3]), r[4], r[5], rd16(r, 6), rd32(r, 8), int32(rd32(r, 12)),
		)
	case opFixIPv4:
		return fmt.Sprintf("%-16s offset %d", op, rd16(r, 1))
	case opFixICMPv6:
		return fmt.Sprintf("%-16s l2 %d l3 %d", op, rd16(r, 1), rd16(r, 3))
	case opFixHW:
		return fmt.Sprintf("%-16s l2 %d l3 %d flags %s", op, rd16(r, 1), rd16(r, 3), OffloadFlags(rd64(r, 5)))
	case opPacketSize:
		return fmt.Sprintf("%-16s var %d", op, r[1])
	default:
		return op.String()
	}
}

type printer struct {
	w   io.Writer
	err error
}

func (m *printer) printf(format string, args ...any) {
	if m.err != nil {
		return
	}
	_, m.err = fmt.Fprintf(m.w, format, args...)
}
