package profile

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/stlgen/common/go/xnetip"
)

// Value is a variable bound: a number or an IPv4 address.
type Value uint64

func (m *Value) UnmarshalYAML(node *yaml.Node) error {
	if addr, err := netip.ParseAddr(node.Value); err == nil {
		v, err := xnetip.Uint32(addr)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*m = Value(v)
		return nil
	}

	v, err := strconv.ParseUint(node.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: %q is neither a number nor an IPv4 address", node.Line, node.Value)
	}
	*m = Value(v)

	return nil
}

func values(v []Value) []uint64 {
	out := make([]uint64, 0, len(v))
	for _, value := range v {
		out = append(out, uint64(value))
	}
	return out
}

// Offset is a packet offset given either as a number or as a header field
// name with an optional byte bias, like "ipv4.src" or "ipv4.src+3".
type Offset struct {
	Value uint16
	Field string
	Bias  uint16
}

func (m *Offset) UnmarshalYAML(node *yaml.Node) error {
	if v, err := strconv.ParseUint(node.Value, 0, 16); err == nil {
		*m = Offset{Value: uint16(v)}
		return nil
	}

	field, bias, ok := strings.Cut(node.Value, "+")
	out := Offset{Field: strings.TrimSpace(field)}
	if ok {
		v, err := strconv.ParseUint(strings.TrimSpace(bias), 0, 16)
		if err != nil {
			return fmt.Errorf("line %d: invalid offset bias in %q", node.Line, node.Value)
		}
		out.Bias = uint16(v)
	}
	*m = out

	return nil
}

// IsZero reports whether the offset was not set.
func (m Offset) IsZero() bool {
	return m == Offset{}
}

func (m Offset) String() string {
	if m.Field == "" {
		return strconv.Itoa(int(m.Value))
	}
	if m.Bias != 0 {
		return fmt.Sprintf("%s+%d", m.Field, m.Bias)
	}
	return m.Field
}
