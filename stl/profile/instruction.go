package profile

import (
	"fmt"
	"net/netip"

	"github.com/yanet-platform/stlgen/common/go/xnetip"
	"github.com/yanet-platform/stlgen/stl/vm"
)

// InstructionConfig holds exactly one instruction.
type InstructionConfig struct {
	FlowVar       *FlowVarConfig       `yaml:"flow_var"`
	FlowRandLimit *FlowRandLimitConfig `yaml:"flow_var_rand_limit"`
	FlowClient    *FlowClientConfig    `yaml:"flow_client"`
	Write         *WriteConfig         `yaml:"write"`
	WriteMask     *WriteMaskConfig     `yaml:"write_mask"`
	FixIPv4       *FixIPv4Config       `yaml:"fix_ipv4_checksum"`
	FixICMPv6     *FixChecksumConfig   `yaml:"fix_icmpv6_checksum"`
	FixHW         *FixHWConfig         `yaml:"fix_hw_checksum"`
	PacketSize    *PacketSizeConfig    `yaml:"packet_size"`
}

type FlowVarConfig struct {
	Name string `yaml:"name"`
	Size uint8  `yaml:"size"`
	// Op is one of "inc", "dec" or "random".
	Op     string  `yaml:"op"`
	Init   *Value  `yaml:"init"`
	Min    Value   `yaml:"min"`
	Max    Value   `yaml:"max"`
	Step   *Value  `yaml:"step"`
	Values []Value `yaml:"values"`
	// NextVar names the variable advanced on every wrap of this one.
	NextVar      string `yaml:"next_var"`
	SplitToCores *bool  `yaml:"split_to_cores"`
}

type FlowRandLimitConfig struct {
	Name         string `yaml:"name"`
	Size         uint8  `yaml:"size"`
	Limit        uint64 `yaml:"limit"`
	Min          Value  `yaml:"min"`
	Max          Value  `yaml:"max"`
	Seed         uint32 `yaml:"seed"`
	NextVar      string `yaml:"next_var"`
	SplitToCores *bool  `yaml:"split_to_cores"`
}

type FlowClientConfig struct {
	Name string `yaml:"name"`
	// Network is an IPv4 prefix; IPMin and IPMax are used when it is
	// empty.
	Network    string `yaml:"network"`
	IPMin      Value  `yaml:"ip_min"`
	IPMax      Value  `yaml:"ip_max"`
	PortMin    uint16 `yaml:"port_min"`
	PortMax    uint16 `yaml:"port_max"`
	LimitFlows uint32 `yaml:"limit_flows"`
	Unlimited  bool   `yaml:"unlimited"`
}

type WriteConfig struct {
	Var       string `yaml:"var"`
	Offset    Offset `yaml:"offset"`
	Add       int64  `yaml:"add"`
	BigEndian *bool  `yaml:"big_endian"`
}

type WriteMaskConfig struct {
	Var       string  `yaml:"var"`
	Offset    Offset  `yaml:"offset"`
	Cast      uint8   `yaml:"cast"`
	Mask      *uint32 `yaml:"mask"`
	Shift     int8    `yaml:"shift"`
	Add       int32   `yaml:"add"`
	BigEndian *bool   `yaml:"big_endian"`
}

type FixIPv4Config struct {
	Offset Offset `yaml:"offset"`
}

// FixChecksumConfig locates the L3 and L4 headers; both default to the
// template layout.
type FixChecksumConfig struct {
	L2 uint16 `yaml:"l2"`
	L3 uint16 `yaml:"l3"`
}

type FixHWConfig struct {
	FixChecksumConfig `yaml:",inline"`
	// L4 is one of "udp", "tcp" or "ip".
	L4 string `yaml:"l4"`
}

type PacketSizeConfig struct {
	Var string `yaml:"var"`
}

const (
	defaultClientPortMin = 1025
	defaultClientPortMax = 65535
)

func (m *InstructionConfig) instruction(layout Layout) (vm.Instruction, error) {
	var out []vm.Instruction

	if m.FlowVar != nil {
		v, err := m.FlowVar.build()
		if err != nil {
			return nil, fmt.Errorf("flow_var %q: %w", m.FlowVar.Name, err)
		}
		out = append(out, v)
	}
	if m.FlowRandLimit != nil {
		out = append(out, m.FlowRandLimit.build())
	}
	if m.FlowClient != nil {
		v, err := m.FlowClient.build()
		if err != nil {
			return nil, fmt.Errorf("flow_client %q: %w", m.FlowClient.Name, err)
		}
		out = append(out, v)
	}
	if m.Write != nil {
		offset, err := layout.resolve(m.Write.Offset)
		if err != nil {
			return nil, err
		}
		out = append(out, vm.NewWriteToPacket(m.Write.Var, offset, m.Write.Add, boolOr(m.Write.BigEndian, true)))
	}
	if m.WriteMask != nil {
		v, err := m.WriteMask.build(layout)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if m.FixIPv4 != nil {
		offset := m.FixIPv4.Offset
		if offset.IsZero() {
			offset = Offset{Field: "ipv4"}
		}
		v, err := layout.resolve(offset)
		if err != nil {
			return nil, err
		}
		out = append(out, vm.NewFixChecksumIPv4(v))
	}
	if m.FixICMPv6 != nil {
		l2, l3 := m.FixICMPv6.lengths(layout, "icmpv6")
		out = append(out, vm.NewFixChecksumICMPv6(l2, l3))
	}
	if m.FixHW != nil {
		v, err := m.FixHW.build(layout)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if m.PacketSize != nil {
		out = append(out, vm.NewChangePacketSize(m.PacketSize.Var))
	}

	if len(out) != 1 {
		return nil, fmt.Errorf("expected exactly one instruction, got %d", len(out))
	}

	return out[0], nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func parseOp(op string) (vm.Op, error) {
	switch op {
	case "", "inc":
		return vm.OpInc, nil
	case "dec":
		return vm.OpDec, nil
	case "random":
		return vm.OpRandom, nil
	default:
		return 0, fmt.Errorf("unknown op %q", op)
	}
}

func (m *FlowVarConfig) build() (*vm.FlowVar, error) {
	op, err := parseOp(m.Op)
	if err != nil {
		return nil, err
	}

	step := uint64(1)
	if m.Step != nil {
		step = uint64(*m.Step)
	}

	var v *vm.FlowVar
	if len(m.Values) > 0 {
		v = vm.NewFlowVarList(m.Name, m.Size, op, values(m.Values), step)
	} else {
		init := uint64(m.Min)
		if op == vm.OpDec {
			init = uint64(m.Max)
		}
		v = vm.NewFlowVar(m.Name, m.Size, op, init, uint64(m.Min), uint64(m.Max), step)
	}

	if m.Init != nil {
		v.Init = uint64(*m.Init)
	}
	v.NextVar = m.NextVar
	v.SingleCore = !boolOr(m.SplitToCores, true)

	return v, nil
}

func (m *FlowRandLimitConfig) build() *vm.FlowRandLimit {
	v := vm.NewFlowRandLimit(m.Name, m.Size, m.Limit, uint64(m.Min), uint64(m.Max), m.Seed)
	v.NextVar = m.NextVar
	v.SingleCore = !boolOr(m.SplitToCores, true)

	return v
}

func (m *FlowClientConfig) build() (*vm.FlowClient, error) {
	minIP, maxIP := uint32(m.IPMin), uint32(m.IPMax)
	if m.Network != "" {
		prefix, err := netip.ParsePrefix(m.Network)
		if err != nil {
			return nil, fmt.Errorf("failed to parse network: %w", err)
		}
		minIP, maxIP, err = xnetip.Range4(prefix)
		if err != nil {
			return nil, err
		}
	}

	minPort, maxPort := m.PortMin, m.PortMax
	if minPort == 0 && maxPort == 0 {
		minPort, maxPort = defaultClientPortMin, defaultClientPortMax
	}

	var flags vm.ClientFlags
	if m.Unlimited {
		flags |= vm.ClientUnlimitedFlows
	}

	return vm.NewFlowClient(m.Name, minIP, maxIP, minPort, maxPort, m.LimitFlows, flags), nil
}

func (m *WriteMaskConfig) build(layout Layout) (*vm.WriteMaskToPacket, error) {
	offset, err := layout.resolve(m.Offset)
	if err != nil {
		return nil, err
	}

	cast := m.Cast
	if cast == 0 {
		cast = 1
	}
	mask := uint32(0xff)
	if m.Mask != nil {
		mask = *m.Mask
	}

	return vm.NewWriteMaskToPacket(m.Var, offset, cast, mask, m.Shift, m.Add, boolOr(m.BigEndian, true)), nil
}

// lengths fills the unset header lengths from the layout, where "l4" is
// the header following L3.
func (m *FixChecksumConfig) lengths(layout Layout, l4 string) (uint16, uint16) {
	l2, l3 := m.L2, m.L3

	l3Offset, hasIPv4 := layout["ipv4"]
	if !hasIPv4 {
		l3Offset = layout["ipv6"]
	}
	if l2 == 0 {
		l2 = uint16(l3Offset)
	}
	if l3 == 0 {
		if offset, ok := layout[l4]; ok {
			l3 = uint16(offset - l3Offset)
		}
	}

	return l2, l3
}

func (m *FixHWConfig) build(layout Layout) (*vm.FixChecksumHW, error) {
	var l4Type vm.L4Type
	l4 := m.L4
	if l4 == "" {
		for _, name := range []string{"tcp", "udp"} {
			if _, ok := layout[name]; ok {
				l4 = name
				break
			}
		}
	}

	switch l4 {
	case "udp":
		l4Type = vm.L4TypeUDP
	case "tcp":
		l4Type = vm.L4TypeTCP
	case "ip":
		l4Type = vm.L4TypeIP
	default:
		return nil, fmt.Errorf("unknown l4 %q", m.L4)
	}

	lookup := l4
	if l4 == "ip" {
		lookup = "udp"
		if _, ok := layout["tcp"]; ok {
			lookup = "tcp"
		}
	}
	l2, l3 := m.FixChecksumConfig.lengths(layout, lookup)

	return vm.NewFixChecksumHW(l2, l3, l4Type), nil
}
