package profile

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/stlgen/common/go/xpacket"
)

// PacketConfig describes the template packet of a stream.
type PacketConfig struct {
	Eth    EthConfig     `yaml:"eth"`
	IPv4   *IPConfig     `yaml:"ipv4"`
	IPv6   *IPConfig     `yaml:"ipv6"`
	UDP    *L4Config     `yaml:"udp"`
	TCP    *L4Config     `yaml:"tcp"`
	ICMPv6 *ICMPv6Config `yaml:"icmpv6"`
	// Size is the frame size without FCS. The payload is zero-filled up
	// to it.
	Size int `yaml:"size"`
}

type EthConfig struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

type IPConfig struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
	// TTL is the IPv4 TTL or the IPv6 hop limit.
	TTL uint8 `yaml:"ttl"`
}

type L4Config struct {
	SrcPort uint16 `yaml:"src_port"`
	DstPort uint16 `yaml:"dst_port"`
}

type ICMPv6Config struct {
	Type uint8  `yaml:"type"`
	Code uint8  `yaml:"code"`
	ID   uint16 `yaml:"id"`
	Seq  uint16 `yaml:"seq"`
}

const (
	defaultSrcMAC = "00:00:00:00:00:01"
	defaultDstMAC = "00:00:00:00:00:02"
	defaultTTL    = 64
)

// Layout maps header names to their offsets in the template.
type Layout map[string]int

func (m Layout) resolve(offset Offset) (uint16, error) {
	if offset.Field == "" {
		return offset.Value, nil
	}

	base, ok := m[offset.Field]
	if !ok {
		return 0, fmt.Errorf("unknown packet field %q", offset.Field)
	}

	return uint16(base) + offset.Bias, nil
}

// Header fields relative to the start of their header.
var fieldOffsets = map[string]map[string]int{
	"eth": {
		"dst":  0,
		"src":  6,
		"type": 12,
	},
	"ipv4": {
		"tos":      1,
		"len":      2,
		"id":       4,
		"ttl":      8,
		"proto":    9,
		"checksum": 10,
		"src":      12,
		"dst":      16,
	},
	"ipv6": {
		"len":       4,
		"next":      6,
		"hop_limit": 7,
		"src":       8,
		"dst":       24,
	},
	"udp": {
		"src":      0,
		"dst":      2,
		"len":      4,
		"checksum": 6,
	},
	"tcp": {
		"src":      0,
		"dst":      2,
		"seq":      4,
		"ack":      8,
		"flags":    13,
		"window":   14,
		"checksum": 16,
	},
	"icmpv6": {
		"type":     0,
		"code":     1,
		"checksum": 2,
		"id":       4,
		"seq":      6,
	},
}

var layerNames = map[gopacket.LayerType]string{
	layers.LayerTypeEthernet:  "eth",
	layers.LayerTypeIPv4:      "ipv4",
	layers.LayerTypeIPv6:      "ipv6",
	layers.LayerTypeUDP:       "udp",
	layers.LayerTypeTCP:       "tcp",
	layers.LayerTypeICMPv6:    "icmpv6",
	gopacket.LayerTypePayload: "payload",
}

// Build serializes the template packet and returns it along with the
// offsets of its headers and fields.
func (m *PacketConfig) Build() ([]byte, Layout, error) {
	lyrs, err := m.layers()
	if err != nil {
		return nil, nil, err
	}

	headersLen := 0
	for _, l := range lyrs {
		headersLen += headerLen(l)
	}

	if m.Size > 0 {
		if m.Size < headersLen {
			return nil, nil, fmt.Errorf("packet size %d is less than headers size %d", m.Size, headersLen)
		}
		// Short frames are padded by the Ethernet layer itself.
		if m.Size > headersLen {
			lyrs = append(lyrs, gopacket.Payload(make([]byte, m.Size-headersLen)))
		}
	}

	data, err := xpacket.Serialize(lyrs...)
	if err != nil {
		return nil, nil, err
	}
	offsets, err := xpacket.LayerOffsets(data)
	if err != nil {
		return nil, nil, err
	}

	out := Layout{}
	for layerType, offset := range offsets {
		name, ok := layerNames[layerType]
		if !ok {
			continue
		}

		out[name] = offset
		for field, rel := range fieldOffsets[name] {
			out[name+"."+field] = offset + rel
		}
	}

	return data, out, nil
}

func headerLen(l gopacket.SerializableLayer) int {
	switch l.(type) {
	case *layers.Ethernet:
		return 14
	case *layers.IPv4:
		return 20
	case *layers.IPv6:
		return 40
	case *layers.UDP:
		return 8
	case *layers.TCP:
		return 20
	case *layers.ICMPv6, *layers.ICMPv6Echo:
		return 4
	default:
		return 0
	}
}

func (m *PacketConfig) layers() ([]gopacket.SerializableLayer, error) {
	eth, err := m.Eth.layer()
	if err != nil {
		return nil, err
	}

	var network gopacket.NetworkLayer
	var proto layers.IPProtocol
	switch {
	case m.UDP != nil && m.TCP == nil && m.ICMPv6 == nil:
		proto = layers.IPProtocolUDP
	case m.TCP != nil && m.UDP == nil && m.ICMPv6 == nil:
		proto = layers.IPProtocolTCP
	case m.ICMPv6 != nil && m.UDP == nil && m.TCP == nil:
		proto = layers.IPProtocolICMPv6
	default:
		return nil, fmt.Errorf("exactly one of udp, tcp or icmpv6 must be set")
	}

	out := []gopacket.SerializableLayer{eth}
	switch {
	case m.IPv4 != nil && m.IPv6 == nil:
		if proto == layers.IPProtocolICMPv6 {
			return nil, fmt.Errorf("icmpv6 requires ipv6")
		}

		ip, err := m.IPv4.ipv4(proto)
		if err != nil {
			return nil, err
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		network = ip
		out = append(out, ip)
	case m.IPv6 != nil && m.IPv4 == nil:
		ip, err := m.IPv6.ipv6(proto)
		if err != nil {
			return nil, err
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		network = ip
		out = append(out, ip)
	default:
		return nil, fmt.Errorf("exactly one of ipv4 or ipv6 must be set")
	}

	switch proto {
	case layers.IPProtocolUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(m.UDP.SrcPort),
			DstPort: layers.UDPPort(m.UDP.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		out = append(out, udp)
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(m.TCP.SrcPort),
			DstPort: layers.TCPPort(m.TCP.DstPort),
			SYN:     true,
			Window:  0xffff,
		}
		if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		out = append(out, tcp)
	case layers.IPProtocolICMPv6:
		typ := m.ICMPv6.Type
		if typ == 0 {
			typ = layers.ICMPv6TypeEchoRequest
		}
		icmp := &layers.ICMPv6{
			TypeCode: layers.CreateICMPv6TypeCode(typ, m.ICMPv6.Code),
		}
		if err := icmp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		out = append(out, icmp)
		if typ == layers.ICMPv6TypeEchoRequest || typ == layers.ICMPv6TypeEchoReply {
			out = append(out, &layers.ICMPv6Echo{
				Identifier: m.ICMPv6.ID,
				SeqNumber:  m.ICMPv6.Seq,
			})
		}
	}

	return out, nil
}

func (m *EthConfig) layer() (*layers.Ethernet, error) {
	src, err := parseMAC(m.Src, defaultSrcMAC)
	if err != nil {
		return nil, err
	}
	dst, err := parseMAC(m.Dst, defaultDstMAC)
	if err != nil {
		return nil, err
	}

	return &layers.Ethernet{SrcMAC: src, DstMAC: dst}, nil
}

func parseMAC(s string, def string) (net.HardwareAddr, error) {
	if s == "" {
		s = def
	}

	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MAC address: %w", err)
	}

	return mac, nil
}

func (m *IPConfig) addrs(is4 bool) (netip.Addr, netip.Addr, error) {
	src, err := netip.ParseAddr(m.Src)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("failed to parse source address: %w", err)
	}
	dst, err := netip.ParseAddr(m.Dst)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("failed to parse destination address: %w", err)
	}
	if src.Is4() != is4 || dst.Is4() != is4 {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("address family mismatch: %s -> %s", src, dst)
	}

	return src, dst, nil
}

func (m *IPConfig) ttl() uint8 {
	if m.TTL == 0 {
		return defaultTTL
	}
	return m.TTL
}

func (m *IPConfig) ipv4(proto layers.IPProtocol) (*layers.IPv4, error) {
	src, dst, err := m.addrs(true)
	if err != nil {
		return nil, fmt.Errorf("ipv4: %w", err)
	}

	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      m.ttl(),
		Protocol: proto,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}, nil
}

func (m *IPConfig) ipv6(proto layers.IPProtocol) (*layers.IPv6, error) {
	src, dst, err := m.addrs(false)
	if err != nil {
		return nil, fmt.Errorf("ipv6: %w", err)
	}

	return &layers.IPv6{
		Version:    6,
		HopLimit:   m.ttl(),
		NextHeader: proto,
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
	}, nil
}
