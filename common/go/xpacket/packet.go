package xpacket

import (
	"fmt"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Serialize encodes the layers into a frame with lengths and checksums
// filled in.
func Serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOptions, lyrs...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}

	return buf.Bytes(), nil
}

// LayersToPacket serializes the layers and decodes the result back,
// failing the test on any error.
func LayersToPacket(t *testing.T, lyrs ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()

	data, err := Serialize(lyrs...)
	require.NoError(t, err)

	pkt := ParseEtherPacket(data)
	require.Empty(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return pkt
}

func ParseEtherPacket(data []byte) gopacket.Packet {
	// Pad the packet with zero bytes to align its size at 60 bytes
	// https://github.com/google/gopacket/issues/361
	// github.com/gopacket/gopacket@v1.3.1/layers/ethernet.go#L95
	if len(data) < 60 {
		var zeros [60]byte
		data = append(data, zeros[:60-len(data)]...)
	}

	return gopacket.NewPacket(
		data,
		layers.LayerTypeEthernet,
		gopacket.Default,
	)
}

// payloadNext makes decoding continue with the raw payload, whatever the
// ports of a transport header suggest.
type payloadNext struct {
	gopacket.DecodingLayer
}

func (m payloadNext) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// LayerOffsets returns the offset of every header of an Ethernet frame
// from the start of the frame.
//
// Decoding stops at the transport header: whatever follows is reported
// as gopacket.LayerTypePayload. Ethernet padding is not payload.
func LayerOffsets(data []byte) (map[gopacket.LayerType]int, error) {
	var (
		eth     layers.Ethernet
		ip4     layers.IPv4
		ip6     layers.IPv6
		udp     layers.UDP
		tcp     layers.TCP
		icmp6   layers.ICMPv6
		echo    layers.ICMPv6Echo
		payload gopacket.Payload
	)
	known := map[gopacket.LayerType]gopacket.Layer{
		layers.LayerTypeEthernet:   &eth,
		layers.LayerTypeIPv4:       &ip4,
		layers.LayerTypeIPv6:       &ip6,
		layers.LayerTypeUDP:        &udp,
		layers.LayerTypeTCP:        &tcp,
		layers.LayerTypeICMPv6:     &icmp6,
		layers.LayerTypeICMPv6Echo: &echo,
		gopacket.LayerTypePayload:  &payload,
	}

	parser := gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&eth,
		&ip4,
		&ip6,
		payloadNext{&udp},
		payloadNext{&tcp},
		&icmp6,
		payloadNext{&echo},
		&payload,
	)
	// ICMPv6 messages other than echo keep their body undecoded.
	parser.IgnoreUnsupported = true

	decoded := []gopacket.LayerType{}
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}

	out := map[gopacket.LayerType]int{}
	offset := 0
	for _, layerType := range decoded {
		if _, ok := out[layerType]; !ok {
			out[layerType] = offset
		}
		offset += len(known[layerType].LayerContents())
	}

	return out, nil
}
