package vm

import (
	"fmt"
)

const (
	// MaxFlowVarSize is the BSS capacity in bytes.
	MaxFlowVarSize = 64
	// MaxPacketOffsetChange limits how deep into the packet a program may
	// write.
	MaxPacketOffsetChange = 512
	// MinPacketSize is the smallest length ChangePacketSize may produce.
	MinPacketSize = 60
	// MaxValueListLen is the largest value list a FlowVar may carry.
	MaxValueListLen = 0xffff

	// randomSeedSize is the size of the shared random seed that prefixes
	// the BSS when any plain random variable exists.
	randomSeedSize = 4
	listIndexSize  = 2
	clientVarSize  = 4 + 2 + 4
)

// varRecord describes a variable slot in the BSS.
type varRecord struct {
	// Offset of the slot.
	Offset uint8
	// Size is the width of the value as seen by packet writes.
	Size uint8
	// Owner is the instruction that declared the variable.
	Owner Var
}

// PacketLengthData summarizes the lengths of packets a stream produces.
type PacketLengthData struct {
	Expected float64
	Min      uint16
	Max      uint16
}

func fixedPacketLength(pktSize uint16) PacketLengthData {
	return PacketLengthData{
		Expected: float64(pktSize),
		Min:      pktSize,
		Max:      pktSize,
	}
}

// varTable maps variable names to BSS slots.
type varTable struct {
	vars map[string]varRecord
	// names lists registered names in allocation order.
	names []string
	// Size is the total BSS size.
	Size int
	// HasRandom is set when the BSS starts with the shared random seed.
	HasRandom bool
	// Chained marks instructions that are the target of a "next_var"
	// link, indexed as the instruction list.
	Chained []bool
	// ChangesSize is set when the program contains ChangePacketSize.
	ChangesSize  bool
	PacketLength PacketLengthData
}

func (m *varTable) Lookup(name string) (varRecord, bool) {
	rec, ok := m.vars[name]
	return rec, ok
}

func (m *varTable) add(name string, offset int, size uint8, owner Var) {
	m.vars[name] = varRecord{
		Offset: uint8(offset),
		Size:   size,
		Owner:  owner,
	}
	m.names = append(m.names, name)
}

// buildTable validates variable declarations, assigns BSS slots, resolves
// ChangePacketSize targets and checks "next_var" links.
//
// ChangePacketSize targets are clamped in place, so the instructions must
// be a private copy.
func buildTable(instructions []Instruction, pktSize uint16, avg *randAverages) (*varTable, error) {
	table := &varTable{
		vars:         map[string]varRecord{},
		Chained:      make([]bool, len(instructions)),
		PacketLength: fixedPacketLength(pktSize),
	}

	for _, ins := range instructions {
		if v, ok := ins.(*FlowVar); ok && v.Op == OpRandom {
			table.HasRandom = true
			break
		}
	}

	offset := 0
	if table.HasRandom {
		offset = randomSeedSize
	}

	declared := map[string]struct{}{}
	for idx, ins := range instructions {
		v, ok := ins.(Var)
		if !ok {
			continue
		}

		name := v.VarName()
		if _, ok := declared[name]; ok {
			return nil, fmt.Errorf("instruction %d: variable %q: %w", idx, name, ErrDuplicateVariable)
		}
		declared[name] = struct{}{}

		switch v := v.(type) {
		case *FlowVar:
			if err := validateFlowVar(v); err != nil {
				return nil, fmt.Errorf("instruction %d: variable %q: %w", idx, name, err)
			}
			table.add(name, offset, v.Size, v)
			offset += int(v.Size)
			if v.IsList() {
				offset += listIndexSize
			}
		case *FlowRandLimit:
			if err := validateFlowRandLimit(v); err != nil {
				return nil, fmt.Errorf("instruction %d: variable %q: %w", idx, name, err)
			}
			table.add(name, offset, v.Size, v)
			offset += 2*int(v.Size) + 4
		case *FlowClient:
			if err := validateFlowClient(v); err != nil {
				return nil, fmt.Errorf("instruction %d: variable %q: %w", idx, name, err)
			}
			for _, sub := range []string{name + ".ip", name + ".port", name + ".flow_limit"} {
				if _, ok := declared[sub]; ok {
					return nil, fmt.Errorf("instruction %d: variable %q: %w", idx, sub, ErrDuplicateVariable)
				}
				declared[sub] = struct{}{}
			}
			table.add(name+".ip", offset, 4, v)
			table.add(name+".port", offset+4, 2, v)
			table.add(name+".flow_limit", offset+6, 4, v)
			offset += clientVarSize
		}

		if offset > MaxFlowVarSize {
			return nil, fmt.Errorf(
				"instruction %d: variable %q: %d bytes required, %d available: %w",
				idx, name, offset, MaxFlowVarSize, ErrTooManyVariables,
			)
		}
	}
	table.Size = offset

	for idx, ins := range instructions {
		change, ok := ins.(*ChangePacketSize)
		if !ok {
			continue
		}

		pktLen, err := resolvePacketSize(table, change, pktSize, avg)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", idx, err)
		}
		table.ChangesSize = true
		table.PacketLength = pktLen
	}

	for idx, ins := range instructions {
		next := nextVarOf(ins)
		if next == "" {
			continue
		}

		if idx == len(instructions)-1 {
			return nil, fmt.Errorf("instruction %d: last instruction has next_var %q: %w", idx, next, ErrBadNextVarOrdering)
		}

		switch target := instructions[idx+1].(type) {
		case *FlowVar, *FlowRandLimit:
			v := target.(Var)
			if v.VarName() != next {
				return nil, fmt.Errorf(
					"instruction %d: next_var %q does not match the following variable %q: %w",
					idx, next, v.VarName(), ErrBadNextVarOrdering,
				)
			}
			if v.NeedSplit() {
				return nil, fmt.Errorf(
					"instruction %d: next_var %q must run on a single core: %w",
					idx, next, ErrBadNextVarOrdering,
				)
			}
		default:
			return nil, fmt.Errorf(
				"instruction %d: next_var %q is followed by %q: %w",
				idx, next, target, ErrBadNextVarOrdering,
			)
		}
		table.Chained[idx+1] = true
	}

	return table, nil
}

func nextVarOf(ins Instruction) string {
	switch v := ins.(type) {
	case *FlowVar:
		return v.NextVar
	case *FlowRandLimit:
		return v.NextVar
	default:
		return ""
	}
}

func validateFlowVar(v *FlowVar) error {
	if !isValidWidth(v.Size) {
		return fmt.Errorf("size %d: %w", v.Size, ErrInvalidSize)
	}
	if v.Op > OpRandom {
		return fmt.Errorf("unknown %s: %w", v.Op, ErrInvalidRange)
	}

	limit := widthMax(v.Size)
	if v.IsList() {
		if len(v.Values) > MaxValueListLen {
			return fmt.Errorf("value list of %d entries: %w", len(v.Values), ErrInvalidRange)
		}
		for _, value := range v.Values {
			if value > limit {
				return fmt.Errorf("value %d does not fit into %d bytes: %w", value, v.Size, ErrInvalidRange)
			}
		}
		if v.Init >= uint64(len(v.Values)) {
			return fmt.Errorf("init index %d out of list: %w", v.Init, ErrInvalidRange)
		}
		return nil
	}
	if v.Values != nil {
		return fmt.Errorf("empty value list: %w", ErrInvalidRange)
	}

	if v.Min > v.Max {
		return fmt.Errorf("min %d is greater than max %d: %w", v.Min, v.Max, ErrInvalidRange)
	}
	if v.Max > limit {
		return fmt.Errorf("max %d does not fit into %d bytes: %w", v.Max, v.Size, ErrInvalidRange)
	}
	if v.Init < v.Min || v.Init > v.Max {
		return fmt.Errorf("init %d is out of [%d, %d]: %w", v.Init, v.Min, v.Max, ErrInvalidRange)
	}

	return nil
}

func validateFlowRandLimit(v *FlowRandLimit) error {
	if !isValidWidth(v.Size) {
		return fmt.Errorf("size %d: %w", v.Size, ErrInvalidSize)
	}

	limit := widthMax(v.Size)
	if v.Limit == 0 || v.Limit > limit {
		return fmt.Errorf("limit %d is out of [1, %d]: %w", v.Limit, limit, ErrInvalidRange)
	}
	if v.Min > v.Max {
		return fmt.Errorf("min %d is greater than max %d: %w", v.Min, v.Max, ErrInvalidRange)
	}
	if v.Max > limit {
		return fmt.Errorf("max %d does not fit into %d bytes: %w", v.Max, v.Size, ErrInvalidRange)
	}

	return nil
}

func validateFlowClient(v *FlowClient) error {
	minIP, maxIP := v.IPRange()
	if minIP > maxIP {
		return fmt.Errorf("ip range [%#x, %#x]: %w", minIP, maxIP, ErrInvalidRange)
	}
	minPort, maxPort := v.PortRange()
	if minPort > maxPort {
		return fmt.Errorf("port range [%d, %d]: %w", minPort, maxPort, ErrInvalidRange)
	}

	return nil
}

// resolvePacketSize clamps the range of a ChangePacketSize target into
// [MinPacketSize, pktSize] and estimates the produced packet lengths.
func resolvePacketSize(table *varTable, change *ChangePacketSize, pktSize uint16, avg *randAverages) (PacketLengthData, error) {
	rec, ok := table.Lookup(change.VarName)
	if !ok {
		return PacketLengthData{}, fmt.Errorf("packet size variable %q: %w", change.VarName, ErrUnresolvedVariable)
	}
	if rec.Size != 2 {
		return PacketLengthData{}, fmt.Errorf(
			"packet size variable %q has size %d, 2 expected: %w",
			change.VarName, rec.Size, ErrInvalidSize,
		)
	}
	v, ok := rec.Owner.(*FlowVar)
	if !ok {
		return PacketLengthData{}, fmt.Errorf(
			"packet size variable %q must be a plain flow variable: %w",
			change.VarName, ErrUnsupportedVariable,
		)
	}

	if v.IsList() {
		out := PacketLengthData{}
		sum := 0.0
		for idx, value := range v.Values {
			if value > uint64(pktSize) || value < MinPacketSize {
				return PacketLengthData{}, fmt.Errorf(
					"packet size %d in value list is out of [%d, %d]: %w",
					value, MinPacketSize, pktSize, ErrInvalidRange,
				)
			}
			if idx == 0 || uint16(value) > out.Max {
				out.Max = uint16(value)
			}
			if idx == 0 || uint16(value) < out.Min {
				out.Min = uint16(value)
			}
			sum += float64(value)
		}
		out.Expected = sum / float64(len(v.Values))

		return out, nil
	}

	step := v.WrapArounds*v.span() + v.Step
	if v.Max > uint64(pktSize) {
		v.Max = uint64(pktSize)
	}
	if v.Min > uint64(pktSize) {
		v.Min = uint64(pktSize)
	}
	if v.Min >= v.Max {
		return PacketLengthData{}, fmt.Errorf(
			"min packet size %d is not less than max packet size %d: %w",
			v.Min, v.Max, ErrInvalidRange,
		)
	}
	if v.Min < MinPacketSize {
		v.Min = MinPacketSize
	}
	if v.Min > v.Max {
		return PacketLengthData{}, fmt.Errorf(
			"max packet size %d is less than %d: %w",
			v.Max, MinPacketSize, ErrInvalidRange,
		)
	}
	v.Init = min(max(v.Init, v.Min), v.Max)
	v.Step, v.WrapArounds = reduceStep(step, v.span())

	out := PacketLengthData{
		Min: uint16(v.Min),
		Max: uint16(v.Max),
	}
	if v.Op == OpRandom {
		out.Expected = float64(v.Min) + avg.Average(uint16(v.Max-v.Min))
	} else {
		out.Expected = float64(v.Min+v.Max) / 2
	}

	return out, nil
}
