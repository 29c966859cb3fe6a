package vm

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/checksum"
)

const clientUnlimitedMinPort = 1025

// Runner executes a compiled program once per packet.
//
// All bounds were checked at compile time, so running never fails. The
// packet must be the full template-sized buffer and the BSS must come from
// the same program's NewBSS.
//
// A Runner is not safe for concurrent use; each core owns its own.
type Runner struct {
	newSize uint16
	offload Offload
}

// NewPacketSize returns the packet length chosen by the last run, or zero
// when the program does not change it.
func (m *Runner) NewPacketSize() uint16 {
	return m.newSize
}

// Offload returns the checksum offload request of the last run.
func (m *Runner) Offload() Offload {
	return m.offload
}

// Run applies the program to the packet, advancing the variables stored in
// "bss".
func (m *Runner) Run(p *Program, bss []byte, pkt []byte) {
	m.newSize = 0
	m.offload = Offload{}

	code := p.code
	for pc := 0; pc < len(code); {
		r := code[pc:]

		switch op := opcode(r[0]); op {
		case opInc, opDec:
			width, slot := r[1], bss[r[2]:]
			lo, hi, step := rd64(r, 5), rd64(r, 13), rd64(r, 21)

			var v uint64
			var wrapped bool
			if op == opInc {
				v, wrapped = incMod(lo, hi, loadLE(slot, width), step)
			} else {
				v, wrapped = decMod(lo, hi, loadLE(slot, width), step)
			}
			storeLE(slot, width, v)

			pc += sizeVarRange
			if !wrapped {
				pc += int(rd16(r, 3))
			}

		case opRandom:
			width, slot := r[1], bss[r[2]:]

			seed := binary.LittleEndian.Uint32(bss)
			storeLE(slot, width, randRange(&seed, width, rd64(r, 5), rd64(r, 13)))
			binary.LittleEndian.PutUint32(bss, seed)

			pc += sizeVarRange

		case opIncList, opDecList:
			width, slot := r[1], bss[r[2]:]
			list := p.lists[rd16(r, 5)]
			step := uint64(rd16(r, 7))

			idx := uint64(binary.LittleEndian.Uint16(slot[width:]))
			var wrapped bool
			if op == opIncList {
				idx, wrapped = incMod(0, uint64(len(list))-1, idx, step)
			} else {
				idx, wrapped = decMod(0, uint64(len(list))-1, idx, step)
			}
			binary.LittleEndian.PutUint16(slot[width:], uint16(idx))
			storeLE(slot, width, list[idx])

			pc += sizeVarList
			if !wrapped {
				pc += int(rd16(r, 3))
			}

		case opRandomList:
			width, slot := r[1], bss[r[2]:]
			list := p.lists[rd16(r, 5)]

			seed := binary.LittleEndian.Uint32(bss)
			idx := uint64(rand32(&seed)) % uint64(len(list))
			binary.LittleEndian.PutUint32(bss, seed)

			binary.LittleEndian.PutUint16(slot[width:], uint16(idx))
			storeLE(slot, width, list[idx])

			pc += sizeVarList

		case opRandLimit:
			width, slot := r[1], bss[r[2]:]
			limit := rd64(r, 5)

			cnt := loadLE(slot[width:], width)
			seed := binary.LittleEndian.Uint32(slot[2*width:])
			reseeded := cnt == limit
			if reseeded {
				seed = rd32(r, 29)
				cnt = 0
			}

			storeLE(slot, width, randRange(&seed, width, rd64(r, 13), rd64(r, 21)))
			storeLE(slot[width:], width, cnt+1)
			binary.LittleEndian.PutUint32(slot[2*width:], seed)

			pc += sizeRandLimit
			if !reseeded {
				pc += int(rd16(r, 3))
			}

		case opClient:
			runClient(r, bss[r[1]:])
			pc += sizeClient

		case opClientUnlimited:
			slot := bss[r[1]:]

			ip, wrapped := incMod(uint64(rd32(r, 2)), uint64(rd32(r, 6)), uint64(binary.LittleEndian.Uint32(slot)), uint64(rd32(r, 10)))
			binary.LittleEndian.PutUint32(slot, uint32(ip))

			wraps := uint64(rd32(r, 14))
			if wrapped {
				wraps++
			}
			if wraps != 0 {
				port := binary.LittleEndian.Uint16(slot[4:])
				binary.LittleEndian.PutUint16(slot[4:], advanceUnlimitedPort(port, wraps))
			}

			pc += sizeClientUnlimited

		case opWrite:
			width := r[1]
			v := loadLE(bss[r[3]:], width) + rd64(r, 6)
			store(pkt[rd16(r, 4):], width, v, r[2]&flagBigEndian != 0)

			pc += sizeWrite

		case opWriteMask:
			bigEndian := r[1]&flagBigEndian != 0
			shift := int8(r[3])
			castSize := r[4]
			mask := rd32(r, 8)

			v := uint32(loadLE(bss[r[2]:], r[5])) + rd32(r, 12)
			if shift > 0 {
				v <<= shift
			} else if shift < 0 {
				v >>= -shift
			}

			field := pkt[rd16(r, 6):]
			old := uint32(load(field, castSize, bigEndian))
			store(field, castSize, uint64(old&^mask|v&mask), bigEndian)

			pc += sizeWriteMask

		case opFixIPv4:
			fixIPv4Checksum(pkt[rd16(r, 1):])
			pc += sizeFixIPv4

		case opFixICMPv6:
			fixICMPv6Checksum(pkt, int(rd16(r, 1)), int(rd16(r, 3)))
			pc += sizeFixICMPv6

		case opFixHW:
			m.fixHW(pkt, rd16(r, 1), rd16(r, 3), OffloadFlags(rd64(r, 5)))
			pc += sizeFixHW

		case opPacketSize:
			m.newSize = binary.LittleEndian.Uint16(bss[r[1]:])
			pc += sizePacketSize

		default:
			return
		}
	}
}

func runClient(r []byte, slot []byte) {
	minPort, maxPort := uint64(rd16(r, 2)), uint64(rd16(r, 4))
	limit := rd32(r, 26)

	ip, wrapped := incMod(uint64(rd32(r, 10)), uint64(rd32(r, 14)), uint64(binary.LittleEndian.Uint32(slot)), uint64(rd32(r, 18)))
	port, _ := incMod(minPort, maxPort, uint64(binary.LittleEndian.Uint16(slot[4:])), uint64(rd16(r, 6)))
	if wrapped {
		port, _ = incMod(minPort, maxPort, port, 1)
	}

	if limit != 0 {
		flowID := binary.LittleEndian.Uint32(slot[6:]) + 1
		if flowID > limit {
			flowID = 1
			ip = uint64(rd32(r, 22))
			port = uint64(rd16(r, 8))
		}
		binary.LittleEndian.PutUint32(slot[6:], flowID)
	}

	binary.LittleEndian.PutUint32(slot, uint32(ip))
	binary.LittleEndian.PutUint16(slot[4:], uint16(port))
}

func (m *Runner) fixHW(pkt []byte, l2Len uint16, l3Len uint16, flags OffloadFlags) {
	m.offload.L2Len = l2Len
	m.offload.L3Len = l3Len
	m.offload.Flags |= flags

	ip := pkt[l2Len:]
	l4 := pkt[l2Len+l3Len:]
	isIPv4 := flags&OffloadIPv4 != 0
	if isIPv4 {
		ip[ipv4ChecksumOffset] = 0
		ip[ipv4ChecksumOffset+1] = 0
	}

	switch {
	case flags&OffloadTCPChecksum != 0:
		checksum.Put(l4[tcpChecksumOffset:], pseudoHeaderChecksum(ip, int(l3Len), isIPv4, 6))
	case flags&OffloadUDPChecksum != 0:
		checksum.Put(l4[udpChecksumOffset:], pseudoHeaderChecksum(ip, int(l3Len), isIPv4, 17))
	}
}

// unlimitedPortSpan is the number of ports an unlimited client cycles
// through once its port overflows: [clientUnlimitedMinPort, 0xffff].
const unlimitedPortSpan = 0x10000 - clientUnlimitedMinPort

// advanceUnlimitedPort moves an unlimited client port "n" IP wraps
// forward. Past 0xffff the port restarts from clientUnlimitedMinPort.
func advanceUnlimitedPort(port uint16, n uint64) uint16 {
	p := uint64(port) + n
	if p <= 0xffff {
		return uint16(p)
	}

	return uint16(clientUnlimitedMinPort + (p-0x10000)%unlimitedPortSpan)
}

// rewindUnlimitedPort is the inverse of advanceUnlimitedPort for ports
// that the forward walk can reach.
func rewindUnlimitedPort(port uint16, n uint64) uint16 {
	if n <= uint64(port) {
		return uint16(uint64(port) - n)
	}

	pos := (int64(port) - clientUnlimitedMinPort - int64(n%unlimitedPortSpan)) % unlimitedPortSpan
	if pos < 0 {
		pos += unlimitedPortSpan
	}

	return uint16(clientUnlimitedMinPort + pos)
}
