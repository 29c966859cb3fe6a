package xpacket

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpLayers(t *testing.T, dstPort layers.UDPPort) (*layers.Ethernet, *layers.IPv4, *layers.UDP) {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1).To4(),
		DstIP:    net.IPv4(10, 0, 0, 2).To4(),
	}
	udp := &layers.UDP{SrcPort: 1024, DstPort: dstPort}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	return eth, ip, udp
}

func Test_LayerOffsets(t *testing.T) {
	// Zero payloads behind well-known ports stay raw payload.
	for _, port := range []layers.UDPPort{53, 1024, 2152, 4789, 6081, 6343} {
		t.Run(port.String(), func(t *testing.T) {
			eth, ip, udp := udpLayers(t, port)
			data, err := Serialize(eth, ip, udp, gopacket.Payload(make([]byte, 32)))
			require.NoError(t, err)

			offsets, err := LayerOffsets(data)
			require.NoError(t, err)
			assert.Equal(t, map[gopacket.LayerType]int{
				layers.LayerTypeEthernet:  0,
				layers.LayerTypeIPv4:      14,
				layers.LayerTypeUDP:       34,
				gopacket.LayerTypePayload: 42,
			}, offsets)
		})
	}
}

func Test_LayerOffsetsSkipsPadding(t *testing.T) {
	eth, ip, udp := udpLayers(t, 53)
	data, err := Serialize(eth, ip, udp)
	require.NoError(t, err)
	require.Len(t, data, 60)

	offsets, err := LayerOffsets(data)
	require.NoError(t, err)
	assert.Equal(t, map[gopacket.LayerType]int{
		layers.LayerTypeEthernet: 0,
		layers.LayerTypeIPv4:     14,
		layers.LayerTypeUDP:      34,
	}, offsets)
}

func Test_LayerOffsetsICMPv6Echo(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0),
	}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))
	echo := &layers.ICMPv6Echo{Identifier: 7, SeqNumber: 1}

	data, err := Serialize(eth, ip, icmp, echo, gopacket.Payload(make([]byte, 8)))
	require.NoError(t, err)

	offsets, err := LayerOffsets(data)
	require.NoError(t, err)
	assert.Equal(t, map[gopacket.LayerType]int{
		layers.LayerTypeEthernet:   0,
		layers.LayerTypeIPv6:       14,
		layers.LayerTypeICMPv6:     54,
		layers.LayerTypeICMPv6Echo: 58,
		gopacket.LayerTypePayload:  62,
	}, offsets)
}

func Test_LayerOffsetsError(t *testing.T) {
	_, err := LayerOffsets(make([]byte, 10))
	assert.Error(t, err)
}

func Test_LayersToPacket(t *testing.T) {
	eth, ip, udp := udpLayers(t, 1024)
	pkt := LayersToPacket(t, eth, ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	decoded, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Payload)
}

func Test_ParseEtherPacketPads(t *testing.T) {
	pkt := ParseEtherPacket(make([]byte, 20))

	assert.Len(t, pkt.Data(), 60)
}

func Test_SerializeError(t *testing.T) {
	// TCP checksum needs the network layer.
	_, err := Serialize(&layers.TCP{SrcPort: 1, DstPort: 2})
	assert.Error(t, err)
}
