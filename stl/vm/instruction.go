package vm

import (
	"fmt"
	"slices"
)

// Instruction is one mutation step of a stream program.
//
// The set of implementations is closed: variables (FlowVar, FlowRandLimit,
// FlowClient), packet writes (WriteToPacket, WriteMaskToPacket), checksum
// fixups and ChangePacketSize.
type Instruction interface {
	fmt.Stringer

	// Clone returns a deep copy of the instruction.
	Clone() Instruction

	instruction()
}

// Var is an instruction that declares a named flow variable.
type Var interface {
	Instruction

	// VarName returns the name the variable is registered under.
	VarName() string
	// NeedSplit reports whether the variable must be partitioned across
	// cores.
	NeedSplit() bool
	// Split rephases the variable for the given core.
	//
	// The "phase" is the core index and "mul" is the number of cores.
	Split(phase uint64, mul uint64)
}

// Op is the update operation of a FlowVar.
type Op uint8

const (
	OpInc Op = iota
	OpDec
	OpRandom
)

func (m Op) String() string {
	switch m {
	case OpInc:
		return "inc"
	case OpDec:
		return "dec"
	case OpRandom:
		return "random"
	default:
		return fmt.Sprintf("op(%d)", uint8(m))
	}
}

// FlowVar is a counter or a random generator over a closed range or over an
// explicit list of values.
//
// In list mode Init, Min and Max are indices into Values.
type FlowVar struct {
	Name string
	Size uint8
	Op   Op
	Init uint64
	Min  uint64
	Max  uint64
	// Step is kept reduced modulo the range size, the quotient is stored
	// in WrapArounds.
	Step        uint64
	WrapArounds uint64
	Values      []uint64
	// NextVar names the variable that advances when this one wraps.
	NextVar string
	// SingleCore disables partitioning between cores.
	SingleCore bool
}

// NewFlowVar creates a range counter.
func NewFlowVar(name string, size uint8, op Op, init uint64, min uint64, max uint64, step uint64) *FlowVar {
	m := &FlowVar{
		Name: name,
		Size: size,
		Op:   op,
		Init: init,
		Min:  min,
		Max:  max,
	}
	m.Step, m.WrapArounds = reduceStep(step, m.span())

	return m
}

// NewFlowVarList creates a counter cycling over the given values.
func NewFlowVarList(name string, size uint8, op Op, values []uint64, step uint64) *FlowVar {
	m := &FlowVar{
		Name:   name,
		Size:   size,
		Op:     op,
		Values: slices.Clone(values),
	}

	if len(values) == 0 {
		m.Step = step
		return m
	}

	m.Max = uint64(len(values)) - 1
	if op != OpInc {
		m.Init = m.Max
	}
	m.Step, m.WrapArounds = reduceStep(step, m.span())

	return m
}

func (m *FlowVar) instruction() {}

func (m *FlowVar) VarName() string {
	return m.Name
}

func (m *FlowVar) IsList() bool {
	return len(m.Values) > 0
}

// NeedSplit reports whether the variable must be partitioned across cores.
//
// Random draws need no partitioning.
func (m *FlowVar) NeedSplit() bool {
	return m.Op != OpRandom && !m.SingleCore
}

func (m *FlowVar) Clone() Instruction {
	v := *m
	v.Values = slices.Clone(m.Values)
	return &v
}

func (m *FlowVar) String() string {
	next := ""
	if m.NextVar != "" {
		next = fmt.Sprintf(", next %q", m.NextVar)
	}
	if m.IsList() {
		return fmt.Sprintf(
			"flow_var %q size %d %s list(%d) init %d step %d%s",
			m.Name, m.Size, m.Op, len(m.Values), m.Init, m.Step, next,
		)
	}

	return fmt.Sprintf(
		"flow_var %q size %d %s [%d, %d] init %d step %d%s",
		m.Name, m.Size, m.Op, m.Min, m.Max, m.Init, m.Step, next,
	)
}

func (m *FlowVar) span() uint64 {
	return span(m.Min, m.Max)
}

// WrapCount returns how many times the counter wraps during "steps"
// advances.
func (m *FlowVar) WrapCount(steps uint64) uint64 {
	q, _ := mulDivMod(steps, m.Step, m.span())
	return m.WrapArounds*steps + q
}

// PeekNext returns the value the counter holds after "skip" advances.
func (m *FlowVar) PeekNext(skip uint64) uint64 {
	v, _ := m.peek(skip, true, false)
	return v
}

// PeekPrev returns the value the counter held "skip" advances ago.
func (m *FlowVar) PeekPrev(skip uint64) uint64 {
	v, _ := m.peek(skip, false, false)
	return v
}

// peek moves the counter "skip" steps from Init, plus one extra step when
// "carry" is set, and reports whether the move crossed a range boundary.
func (m *FlowVar) peek(skip uint64, forward bool, carry bool) (uint64, bool) {
	if m.Op == OpRandom {
		return m.Init, false
	}

	sp := m.span()
	_, next := mulDivMod(m.Step, skip, sp)
	if carry {
		next++
		if sp != 0 && next == sp {
			next = 0
		}
	}

	if (m.Op == OpInc) == forward {
		return incMod(m.Min, m.Max, m.Init, next)
	}
	return decMod(m.Min, m.Max, m.Init, next)
}

// Split moves Init "phase" steps forward and multiplies the step by "mul".
func (m *FlowVar) Split(phase uint64, mul uint64) {
	m.Init = m.PeekNext(phase)

	sp := m.span()
	wa, step := mulDivMod(m.Step, mul, sp)
	m.Step = step
	m.WrapArounds = m.WrapArounds*mul + wa
}

// FlowRandLimit is a random variable that replays the same sequence every
// Limit draws.
type FlowRandLimit struct {
	Name       string
	Size       uint8
	Limit      uint64
	Min        uint64
	Max        uint64
	Seed       uint32
	NextVar    string
	SingleCore bool
}

func NewFlowRandLimit(name string, size uint8, limit uint64, min uint64, max uint64, seed uint32) *FlowRandLimit {
	return &FlowRandLimit{
		Name:  name,
		Size:  size,
		Limit: limit,
		Min:   min,
		Max:   max,
		Seed:  seed,
	}
}

func (m *FlowRandLimit) instruction() {}

func (m *FlowRandLimit) VarName() string {
	return m.Name
}

func (m *FlowRandLimit) NeedSplit() bool {
	return !m.SingleCore
}

func (m *FlowRandLimit) Clone() Instruction {
	v := *m
	return &v
}

func (m *FlowRandLimit) String() string {
	next := ""
	if m.NextVar != "" {
		next = fmt.Sprintf(", next %q", m.NextVar)
	}

	return fmt.Sprintf(
		"flow_var_rand_limit %q size %d limit %d [%d, %d] seed %#x%s",
		m.Name, m.Size, m.Limit, m.Min, m.Max, m.Seed, next,
	)
}

// Split reseeds the variable for the given core and shares the limit
// between cores.
func (m *FlowRandLimit) Split(phase uint64, mul uint64) {
	m.Seed = uint32(uint64(m.Seed) * (((phase + 1) * 514229) & 0xffffffff))
	m.Limit = splitLimit(m.Limit, phase, mul)
}

// ClientFlags alter FlowClient behavior.
type ClientFlags uint16

const (
	// ClientUnlimitedFlows walks the IP range forever and only bumps the
	// port on every IP wrap.
	ClientUnlimitedFlows ClientFlags = 1
)

// FlowClient produces synchronized (ip, port, flow id) triples.
//
// IP is the outer counter and port is the inner one: the port advances
// only when the IP range wraps.
type FlowClient struct {
	Name       string
	LimitFlows uint32
	Flags      ClientFlags

	ip   FlowVar
	port FlowVar
}

// NewFlowClient creates a client generator.
//
// Zero "limitFlows" means the triples are never reset.
func NewFlowClient(
	name string,
	minIP uint32,
	maxIP uint32,
	minPort uint16,
	maxPort uint16,
	limitFlows uint32,
	flags ClientFlags,
) *FlowClient {
	m := &FlowClient{
		Name:       name,
		LimitFlows: limitFlows,
		Flags:      flags,
		ip:         *NewFlowVar("ip", 4, OpInc, uint64(minIP), uint64(minIP), uint64(maxIP), 1),
		port:       *NewFlowVar("port", 2, OpInc, uint64(minPort), uint64(minPort), uint64(maxPort), 1),
	}
	m.rephase(0, 1)

	return m
}

func (m *FlowClient) instruction() {}

func (m *FlowClient) VarName() string {
	return m.Name
}

func (m *FlowClient) NeedSplit() bool {
	return true
}

func (m *FlowClient) IsUnlimited() bool {
	return m.Flags&ClientUnlimitedFlows == ClientUnlimitedFlows
}

// IPRange returns the client address range.
func (m *FlowClient) IPRange() (uint32, uint32) {
	return uint32(m.ip.Min), uint32(m.ip.Max)
}

// PortRange returns the client port range.
func (m *FlowClient) PortRange() (uint16, uint16) {
	return uint16(m.port.Min), uint16(m.port.Max)
}

// Init returns the first triple the client produces.
func (m *FlowClient) Init() (uint32, uint16) {
	return uint32(m.ip.Init), uint16(m.port.Init)
}

func (m *FlowClient) Clone() Instruction {
	v := *m
	return &v
}

func (m *FlowClient) String() string {
	minIP, maxIP := m.IPRange()
	minPort, maxPort := m.PortRange()

	return fmt.Sprintf(
		"flow_client %q ip [%#x, %#x] port [%d, %d] limit %d flags %#x",
		m.Name, minIP, maxIP, minPort, maxPort, m.LimitFlows, uint16(m.Flags),
	)
}

func (m *FlowClient) Split(phase uint64, mul uint64) {
	m.rephase(phase, mul)
}

func (m *FlowClient) rephase(phase uint64, mul uint64) {
	// The port is rephased by the number of IP wraps that happen before
	// this core's first triple.
	portPhase := m.ip.WrapCount(phase)
	m.ip.Split(phase, mul)

	if m.IsUnlimited() {
		// The port walks past its range up to 0xffff, see
		// advanceUnlimitedPort.
		m.port.Init = uint64(advanceUnlimitedPort(uint16(m.port.Init), portPhase))
	} else {
		// One port step per full IP wrap.
		portMul := m.ip.WrapCount(1)
		m.port.Step = 1
		m.port.WrapArounds = 0
		m.port.Split(portPhase, portMul)
	}

	if m.LimitFlows != 0 {
		m.LimitFlows = uint32(splitLimit(uint64(m.LimitFlows), phase, mul))
	}
}

// peekPrev returns the triple that precedes the first one.
func (m *FlowClient) peekPrev() (uint32, uint16) {
	ip, of := m.ip.peek(1, false, false)
	port, _ := m.port.peek(1, false, of)
	return uint32(ip), uint16(port)
}

// WriteToPacket copies a variable plus a bias into the packet.
type WriteToPacket struct {
	VarName   string
	Offset    uint16
	AddValue  int64
	BigEndian bool
}

func NewWriteToPacket(varName string, offset uint16, addValue int64, bigEndian bool) *WriteToPacket {
	return &WriteToPacket{
		VarName:   varName,
		Offset:    offset,
		AddValue:  addValue,
		BigEndian: bigEndian,
	}
}

func (m *WriteToPacket) instruction() {}

func (m *WriteToPacket) Clone() Instruction {
	v := *m
	return &v
}

func (m *WriteToPacket) String() string {
	return fmt.Sprintf(
		"write %q offset %d add %d big_endian %t",
		m.VarName, m.Offset, m.AddValue, m.BigEndian,
	)
}

// WriteMaskToPacket merges the masked bits of a shifted variable into a
// packet field:
//
//	field = (field & ^Mask) | ((var + AddValue) << Shift & Mask)
//
// A negative Shift shifts right.
type WriteMaskToPacket struct {
	VarName   string
	Offset    uint16
	CastSize  uint8
	Mask      uint32
	Shift     int8
	AddValue  int32
	BigEndian bool
}

func NewWriteMaskToPacket(
	varName string,
	offset uint16,
	castSize uint8,
	mask uint32,
	shift int8,
	addValue int32,
	bigEndian bool,
) *WriteMaskToPacket {
	return &WriteMaskToPacket{
		VarName:   varName,
		Offset:    offset,
		CastSize:  castSize,
		Mask:      mask,
		Shift:     shift,
		AddValue:  addValue,
		BigEndian: bigEndian,
	}
}

func (m *WriteMaskToPacket) instruction() {}

func (m *WriteMaskToPacket) Clone() Instruction {
	v := *m
	return &v
}

func (m *WriteMaskToPacket) String() string {
	return fmt.Sprintf(
		"write_mask %q offset %d cast %d mask %#x shift %d add %d big_endian %t",
		m.VarName, m.Offset, m.CastSize, m.Mask, m.Shift, m.AddValue, m.BigEndian,
	)
}

// ChangePacketSize makes a 2-byte variable the packet length.
type ChangePacketSize struct {
	VarName string
}

func NewChangePacketSize(varName string) *ChangePacketSize {
	return &ChangePacketSize{VarName: varName}
}

func (m *ChangePacketSize) instruction() {}

func (m *ChangePacketSize) Clone() Instruction {
	v := *m
	return &v
}

func (m *ChangePacketSize) String() string {
	return fmt.Sprintf("pkt_size_change %q", m.VarName)
}

// FixChecksumIPv4 recomputes the IPv4 header checksum at Offset.
type FixChecksumIPv4 struct {
	Offset uint16
}

func NewFixChecksumIPv4(offset uint16) *FixChecksumIPv4 {
	return &FixChecksumIPv4{Offset: offset}
}

func (m *FixChecksumIPv4) instruction() {}

func (m *FixChecksumIPv4) Clone() Instruction {
	v := *m
	return &v
}

func (m *FixChecksumIPv4) String() string {
	return fmt.Sprintf("fix_ipv4_csum offset %d", m.Offset)
}

// FixChecksumICMPv6 recomputes the ICMPv6 checksum of the message located
// at L2Len+L3Len.
type FixChecksumICMPv6 struct {
	L2Len uint16
	L3Len uint16
}

func NewFixChecksumICMPv6(l2Len uint16, l3Len uint16) *FixChecksumICMPv6 {
	return &FixChecksumICMPv6{L2Len: l2Len, L3Len: l3Len}
}

func (m *FixChecksumICMPv6) instruction() {}

func (m *FixChecksumICMPv6) Clone() Instruction {
	v := *m
	return &v
}

func (m *FixChecksumICMPv6) String() string {
	return fmt.Sprintf("fix_icmpv6_csum l2 %d l3 %d", m.L2Len, m.L3Len)
}

// L4Type selects the transport checksum offloaded by FixChecksumHW.
type L4Type uint8

const (
	L4TypeUDP L4Type = 11
	L4TypeTCP L4Type = 13
	// L4TypeIP offloads the IPv4 header checksum only.
	L4TypeIP L4Type = 17
)

func (m L4Type) String() string {
	switch m {
	case L4TypeUDP:
		return "udp"
	case L4TypeTCP:
		return "tcp"
	case L4TypeIP:
		return "ip"
	default:
		return fmt.Sprintf("l4(%d)", uint8(m))
	}
}

// FixChecksumHW prepares the packet for checksum offload.
type FixChecksumHW struct {
	L2Len  uint16
	L3Len  uint16
	L4Type L4Type
}

func NewFixChecksumHW(l2Len uint16, l3Len uint16, l4Type L4Type) *FixChecksumHW {
	return &FixChecksumHW{L2Len: l2Len, L3Len: l3Len, L4Type: l4Type}
}

func (m *FixChecksumHW) instruction() {}

func (m *FixChecksumHW) Clone() Instruction {
	v := *m
	return &v
}

func (m *FixChecksumHW) String() string {
	return fmt.Sprintf("fix_hw_csum l2 %d l3 %d l4 %s", m.L2Len, m.L3Len, m.L4Type)
}
