package vm

import (
	"fmt"
	"slices"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

const (
	ethernetHeaderLen = 14
	ipv4HeaderLen     = 20
	ipv6HeaderLen     = 40
	tcpHeaderLen      = 20
	udpHeaderLen      = 8
	icmpv6HeaderLen   = 4
)

// compile builds a program from a private copy of the instructions.
func (m *VM) compile(pktSize uint16, sample []byte) (*Program, error) {
	instructions := cloneInstructions(m.instructions)

	numVars, numRefs := 0, 0
	for _, ins := range instructions {
		switch ins.(type) {
		case *FlowVar, *FlowRandLimit, *FlowClient:
			numVars++
		case *WriteToPacket, *WriteMaskToPacket, *ChangePacketSize:
			numRefs++
		}
	}
	if numRefs > 0 && numVars == 0 {
		return nil, ErrEmptyProgramWithReference
	}

	table, err := buildTable(instructions, pktSize, m.avg)
	if err != nil {
		return nil, err
	}

	b := &builder{
		table:   table,
		pktSize: pktSize,
		sample:  sample,
	}
	code, err := b.build(instructions)
	if err != nil {
		return nil, err
	}

	if b.maxOffset > MaxPacketOffsetChange {
		return nil, fmt.Errorf(
			"maximum packet offset %d exceeds %d: %w",
			b.maxOffset, MaxPacketOffsetChange, ErrOffsetTooLarge,
		)
	}

	vars := make([]VarInfo, 0, len(table.names))
	for _, name := range table.names {
		rec, _ := table.Lookup(name)
		vars = append(vars, VarInfo{
			Name:   name,
			Offset: rec.Offset,
			Size:   rec.Size,
		})
	}

	return &Program{
		code:         code,
		lists:        b.lists,
		bss:          initBSS(instructions, table, m.bssSeed()),
		vars:         vars,
		instructions: instructions,
		pktSize:      pktSize,
		maxOffset:    b.maxOffset,
		prefixSize:   writableSize(b.maxOffset, pktSize),
		pktLen:       table.PacketLength,
	}, nil
}

// writableSize returns how many leading packet bytes must stay writable
// for a program touching up to "maxOffset".
//
// Small packets and packets with a short read-only tail stay writable as
// a whole.
func writableSize(maxOffset uint16, pktSize uint16) uint16 {
	if pktSize <= 128 {
		return pktSize
	}

	if int(pktSize)-(int(maxOffset)+1) < 64 {
		return pktSize
	}
	if maxOffset+1 <= MinPacketSize {
		return MinPacketSize
	}

	return maxOffset + 1
}

// builder lowers validated instructions into bytecode.
type builder struct {
	table     *varTable
	pktSize   uint16
	sample    []byte
	lists     [][]uint64
	maxOffset uint16
}

func (m *builder) touch(end int) {
	if end > int(m.maxOffset) {
		m.maxOffset = uint16(end)
	}
}

// build emits records walking the instructions backward, so that the
// size of every "next_var" dependent is known when its predecessor is
// emitted. The returned code is in declaration order.
func (m *builder) build(instructions []Instruction) ([]byte, error) {
	records := make([]record, len(instructions))
	skip := 0

	for idx := len(instructions) - 1; idx >= 0; idx-- {
		var rec record
		var err error

		switch ins := instructions[idx].(type) {
		case *FlowVar:
			rec = m.flowVar(ins, skip)
		case *FlowRandLimit:
			rec = m.flowRandLimit(ins, skip)
		case *FlowClient:
			rec = m.flowClient(ins)
		case *WriteToPacket:
			rec, err = m.write(ins)
		case *WriteMaskToPacket:
			rec, err = m.writeMask(ins)
		case *ChangePacketSize:
			rec, err = m.packetSize(ins)
		case *FixChecksumIPv4:
			rec, err = m.fixIPv4(ins)
		case *FixChecksumICMPv6:
			rec, err = m.fixICMPv6(ins)
		case *FixChecksumHW:
			rec, err = m.fixHW(ins)
		default:
			err = fmt.Errorf("unknown instruction %T", ins)
		}
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", idx, err)
		}
		records[idx] = rec

		switch instructions[idx].(type) {
		case *FlowVar, *FlowRandLimit:
			if m.table.Chained[idx] {
				skip += len(rec)
			} else {
				skip = 0
			}
		default:
			skip = 0
		}
	}

	size := 0
	for _, rec := range records {
		size += len(rec)
	}
	code := make([]byte, 0, size)
	for _, rec := range records {
		code = append(code, rec...)
	}

	return code, nil
}

func (m *builder) varOffset(name string) uint8 {
	rec, _ := m.table.Lookup(name)
	return rec.Offset
}

func (m *builder) flowVar(v *FlowVar, skip int) record {
	if v.IsList() {
		op := opIncList
		switch v.Op {
		case OpDec:
			op = opDecList
		case OpRandom:
			op = opRandomList
		}

		listID := len(m.lists)
		m.lists = append(m.lists, slices.Clone(v.Values))

		return newRecord(op, sizeVarList).
			u8(v.Size).
			u8(m.varOffset(v.Name)).
			u16(uint16(skip)).
			u16(uint16(listID)).
			u16(uint16(v.Step))
	}

	op := opInc
	switch v.Op {
	case OpDec:
		op = opDec
	case OpRandom:
		op = opRandom
	}

	return newRecord(op, sizeVarRange).
		u8(v.Size).
		u8(m.varOffset(v.Name)).
		u16(uint16(skip)).
		u64(v.Min).
		u64(v.Max).
		u64(v.Step)
}

func (m *builder) flowRandLimit(v *FlowRandLimit, skip int) record {
	return newRecord(opRandLimit, sizeRandLimit).
		u8(v.Size).
		u8(m.varOffset(v.Name)).
		u16(uint16(skip)).
		u64(v.Limit).
		u64(v.Min).
		u64(v.Max).
		u32(v.Seed)
}

func (m *builder) flowClient(v *FlowClient) record {
	offset := m.varOffset(v.Name + ".ip")

	if v.IsUnlimited() {
		return newRecord(opClientUnlimited, sizeClientUnlimited).
			u8(offset).
			u32(uint32(v.ip.Min)).
			u32(uint32(v.ip.Max)).
			u32(uint32(v.ip.Step)).
			u32(uint32(v.ip.WrapArounds))
	}

	return newRecord(opClient, sizeClient).
		u8(offset).
		u16(uint16(v.port.Min)).
		u16(uint16(v.port.Max)).
		u16(uint16(v.port.Step)).
		u16(uint16(v.port.Init)).
		u32(uint32(v.ip.Min)).
		u32(uint32(v.ip.Max)).
		u32(uint32(v.ip.Step)).
		u32(uint32(v.ip.Init)).
		u32(v.LimitFlows)
}

func (m *builder) lookup(name string) (varRecord, error) {
	rec, ok := m.table.Lookup(name)
	if !ok {
		return varRecord{}, fmt.Errorf("variable %q: %w", name, ErrUnresolvedVariable)
	}

	return rec, nil
}

func (m *builder) checkField(offset uint16, size uint8) error {
	if int(offset)+int(size) > int(m.pktSize) {
		return fmt.Errorf(
			"field [%d, %d) exceeds packet size %d: %w",
			offset, int(offset)+int(size), m.pktSize, ErrPacketTooSmallForField,
		)
	}

	m.touch(int(offset) + int(size))
	return nil
}

func (m *builder) write(ins *WriteToPacket) (record, error) {
	rec, err := m.lookup(ins.VarName)
	if err != nil {
		return nil, err
	}
	if err := m.checkField(ins.Offset, rec.Size); err != nil {
		return nil, err
	}

	return newRecord(opWrite, sizeWrite).
		u8(rec.Size).
		u8(boolFlag(ins.BigEndian)).
		u8(rec.Offset).
		u16(ins.Offset).
		u64(uint64(ins.AddValue)), nil
}

func (m *builder) writeMask(ins *WriteMaskToPacket) (record, error) {
	switch ins.CastSize {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("mask cast size %d, expected 1, 2 or 4: %w", ins.CastSize, ErrInvalidSize)
	}
	if ins.Shift > 31 || ins.Shift < -31 {
		return nil, fmt.Errorf("mask shift %d is out of [-31, 31]: %w", ins.Shift, ErrInvalidRange)
	}

	rec, err := m.lookup(ins.VarName)
	if err != nil {
		return nil, err
	}
	if err := m.checkField(ins.Offset, ins.CastSize); err != nil {
		return nil, err
	}

	// Only the low 32 bits of a 64-bit variable take part in the merge.
	varSize := min(rec.Size, 4)

	return newRecord(opWriteMask, sizeWriteMask).
		u8(boolFlag(ins.BigEndian)).
		u8(rec.Offset).
		u8(uint8(ins.Shift)).
		u8(ins.CastSize).
		u8(varSize).
		u16(ins.Offset).
		u32(ins.Mask).
		u32(uint32(ins.AddValue)), nil
}

func (m *builder) packetSize(ins *ChangePacketSize) (record, error) {
	rec, err := m.lookup(ins.VarName)
	if err != nil {
		return nil, err
	}

	return newRecord(opPacketSize, sizePacketSize).
		u8(rec.Offset), nil
}

func (m *builder) fixIPv4(ins *FixChecksumIPv4) (record, error) {
	if int(ins.Offset)+ipv4HeaderLen > int(m.pktSize) {
		return nil, fmt.Errorf(
			"IPv4 header at %d exceeds packet size %d: %w",
			ins.Offset, m.pktSize, ErrPacketTooSmallForField,
		)
	}

	hdrLen := ipv4HeaderLen
	if int(ins.Offset) < len(m.sample) {
		hdrLen = max(int(m.sample[ins.Offset]&0x0f)*4, ipv4HeaderLen)
	}
	if int(ins.Offset)+hdrLen > int(m.pktSize) {
		return nil, fmt.Errorf(
			"IPv4 header at %d of %d bytes exceeds packet size %d: %w",
			ins.Offset, hdrLen, m.pktSize, ErrPacketTooSmallForField,
		)
	}
	m.touch(int(ins.Offset) + hdrLen)

	return newRecord(opFixIPv4, sizeFixIPv4).
		u16(ins.Offset), nil
}

func (m *builder) fixICMPv6(ins *FixChecksumICMPv6) (record, error) {
	if ins.L3Len < ipv6HeaderLen {
		return nil, fmt.Errorf("ICMPv6 checksum: l3 length %d is less than %d: %w", ins.L3Len, ipv6HeaderLen, ErrInvalidRange)
	}

	end := int(ins.L2Len) + int(ins.L3Len) + icmpv6HeaderLen
	if end > int(m.pktSize) {
		return nil, fmt.Errorf(
			"ICMPv6 header at %d exceeds packet size %d: %w",
			ins.L2Len+ins.L3Len, m.pktSize, ErrPacketTooSmallForField,
		)
	}

	if m.sample != nil {
		ip, err := m.decodeIPv6(ins.L2Len)
		if err != nil {
			return nil, fmt.Errorf("ICMPv6 checksum: %w", err)
		}
		if ip.NextHeader != layers.IPProtocolICMPv6 {
			return nil, fmt.Errorf(
				"ICMPv6 checksum: IPv6 next header is %s: %w",
				ip.NextHeader, ErrUnsupportedProtocol,
			)
		}
	}
	m.touch(end)

	return newRecord(opFixICMPv6, sizeFixICMPv6).
		u16(ins.L2Len).
		u16(ins.L3Len), nil
}

func (m *builder) fixHW(ins *FixChecksumHW) (record, error) {
	isIP := ins.L4Type == L4TypeIP
	l3Len := ins.L3Len

	if ins.L2Len < ethernetHeaderLen {
		return nil, fmt.Errorf("hw checksum: l2 length %d is less than %d: %w", ins.L2Len, ethernetHeaderLen, ErrInvalidRange)
	}
	if !isIP && l3Len < ipv4HeaderLen {
		return nil, fmt.Errorf("hw checksum: l3 length %d is less than %d: %w", l3Len, ipv4HeaderLen, ErrInvalidRange)
	}

	// Without the packet there is nothing to offload.
	if m.sample == nil {
		return nil, nil
	}

	if int(ins.L2Len) >= len(m.sample) {
		return nil, fmt.Errorf("hw checksum: l2 length %d exceeds sample packet: %w", ins.L2Len, ErrPacketTooSmallForField)
	}

	var flags OffloadFlags
	l4HdrLen := 0

	switch m.sample[ins.L2Len] >> 4 {
	case 4:
		ip := &layers.IPv4{}
		if err := ip.DecodeFromBytes(m.sample[ins.L2Len:], gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("hw checksum: failed to decode IPv4 header: %v: %w", err, ErrUnsupportedProtocol)
		}

		hdrLen := uint16(ip.IHL) * 4
		if isIP {
			l3Len = hdrLen
		} else {
			if hdrLen != l3Len {
				return nil, fmt.Errorf("hw checksum: IPv4 header length %d, expected %d: %w", hdrLen, l3Len, ErrInvalidRange)
			}
			if ip.Protocol != layers.IPProtocolTCP && ip.Protocol != layers.IPProtocolUDP {
				return nil, fmt.Errorf("hw checksum: L4 is %s, expected TCP or UDP: %w", ip.Protocol, ErrUnsupportedProtocol)
			}
		}

		flags = OffloadIPv4 | OffloadIPChecksum
		switch ip.Protocol {
		case layers.IPProtocolTCP:
			flags |= OffloadTCPChecksum
			l4HdrLen = tcpHeaderLen
		case layers.IPProtocolUDP:
			flags |= OffloadUDPChecksum
			l4HdrLen = udpHeaderLen
		}
	case 6:
		switch ins.L4Type {
		case L4TypeTCP:
			flags = OffloadIPv6 | OffloadTCPChecksum
			l4HdrLen = tcpHeaderLen
		case L4TypeUDP:
			flags = OffloadIPv6 | OffloadUDPChecksum
			l4HdrLen = udpHeaderLen
		default:
			return nil, fmt.Errorf("hw checksum: IPv6 requires TCP or UDP, got %s: %w", ins.L4Type, ErrUnsupportedProtocol)
		}
	default:
		return nil, fmt.Errorf("hw checksum: expected IPv4 or IPv6 at %d: %w", ins.L2Len, ErrUnsupportedProtocol)
	}

	end := int(ins.L2Len) + int(l3Len) + l4HdrLen
	if end > int(m.pktSize) {
		return nil, fmt.Errorf(
			"hw checksum: headers end at %d beyond packet size %d: %w",
			end, m.pktSize, ErrPacketTooSmallForField,
		)
	}
	m.touch(end)

	return newRecord(opFixHW, sizeFixHW).
		u16(ins.L2Len).
		u16(l3Len).
		u64(uint64(flags)), nil
}

func (m *builder) decodeIPv6(offset uint16) (*layers.IPv6, error) {
	if int(offset) >= len(m.sample) || m.sample[offset]>>4 != 6 {
		return nil, fmt.Errorf("expected IPv6 at %d: %w", offset, ErrUnsupportedProtocol)
	}

	ip := &layers.IPv6{}
	if err := ip.DecodeFromBytes(m.sample[offset:], gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("failed to decode IPv6 header: %v: %w", err, ErrUnsupportedProtocol)
	}

	return ip, nil
}
