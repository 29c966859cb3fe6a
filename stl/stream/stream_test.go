package stream

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"

	"github.com/yanet-platform/stlgen/common/go/xpacket"
	"github.com/yanet-platform/stlgen/stl/vm"
)

func makeUDPPacket(t *testing.T, payloadSize int) []byte {
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
		DstIP:    net.IPv4(10, 1, 0, 1).To4(),
	}
	udp := &layers.UDP{SrcPort: 1024, DstPort: 5001}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	return xpacket.LayersToPacket(t, eth, ip, udp, gopacket.Payload(make([]byte, payloadSize))).Data()
}

func srcIPInstructions() []vm.Instruction {
	return []vm.Instruction{
		vm.NewFlowVar("src", 4, vm.OpInc, 0x0a000001, 0x0a000001, 0x0a000004, 1),
		vm.NewWriteToPacket("src", 26, 0, true),
		vm.NewFixChecksumIPv4(14),
	}
}

func decodeIPv4(t *testing.T, data []byte) *layers.IPv4 {
	t.Helper()

	pkt := xpacket.ParseEtherPacket(data)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	return ip
}

func Test_StreamInstance(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	pkt := makeUDPPacket(t, 32)

	s, err := New("udp", pkt, srcIPInstructions(), WithLog(log))
	require.NoError(t, err)
	require.NotNil(t, s.Program())
	assert.Equal(t, "udp", s.Name())

	instance, err := s.Instance(0, 1)
	require.NoError(t, err)

	for idx := range 8 {
		data := instance.Next()
		require.Len(t, data, len(pkt))

		ip := decodeIPv4(t, data)
		assert.Equal(t, net.IPv4(10, 0, 0, byte(idx%4+1)).To4(), ip.SrcIP.To4())
		assert.Equal(t, uint16(0xffff), checksum.Checksum(data[14:34], 0))

		v, ok := instance.Var("src")
		require.True(t, ok)
		assert.Equal(t, uint64(0x0a000001+idx%4), v)
	}

	// The template is never modified.
	assert.Equal(t, pkt, s.Packet())
}

func Test_StreamInstancesAreIndependent(t *testing.T) {
	s, err := New("udp", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)

	a, err := s.Instance(0, 1)
	require.NoError(t, err)
	b, err := s.Instance(0, 1)
	require.NoError(t, err)

	a.Next()
	a.Next()
	ip := decodeIPv4(t, b.Next())
	assert.Equal(t, net.IPv4(10, 0, 0, 1).To4(), ip.SrcIP.To4())
}

func Test_StreamSplit(t *testing.T) {
	s, err := New("udp", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)

	seen := map[string]struct{}{}
	for phase := range uint64(2) {
		instance, err := s.Instance(phase, 2)
		require.NoError(t, err)

		for range 2 {
			seen[decodeIPv4(t, instance.Next()).SrcIP.String()] = struct{}{}
		}
	}

	assert.Len(t, seen, 4)
}

func Test_StreamPacketSize(t *testing.T) {
	pkt := makeUDPPacket(t, 100)

	s, err := New("sized", pkt, []vm.Instruction{
		vm.NewFlowVar("size", 2, vm.OpInc, 60, 60, 62, 1),
		vm.NewChangePacketSize("size"),
	})
	require.NoError(t, err)

	pktLen, err := s.PacketLength()
	require.NoError(t, err)
	assert.Equal(t, vm.PacketLengthData{Expected: 61, Min: 60, Max: 62}, pktLen)

	instance, err := s.Instance(0, 1)
	require.NoError(t, err)

	sizes := []int{}
	for range 4 {
		sizes = append(sizes, len(instance.Next()))
	}
	assert.Equal(t, []int{60, 61, 62, 60}, sizes)
}

func Test_StreamWithoutInstructions(t *testing.T) {
	pkt := makeUDPPacket(t, 32)

	s, err := New("static", pkt, nil)
	require.NoError(t, err)
	assert.Nil(t, s.Program())

	instance, err := s.Instance(0, 4)
	require.NoError(t, err)
	assert.Equal(t, pkt, instance.Next())
	assert.Empty(t, instance.Vars())

	_, ok := instance.Var("any")
	assert.False(t, ok)
}

func Test_StreamErrors(t *testing.T) {
	_, err := New("empty", nil, nil)
	require.ErrorIs(t, err, ErrInvalidPacket)

	_, err = New("short", makeUDPPacket(t, 32), []vm.Instruction{
		vm.NewFlowVar("v", 4, vm.OpInc, 0, 0, 10, 1),
		vm.NewWriteToPacket("v", 100, 0, true),
	})
	require.ErrorIs(t, err, vm.ErrPacketTooSmallForField)
}
