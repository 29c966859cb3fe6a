package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memorySink struct {
	packets []Packet
	failAt  int
}

func (m *memorySink) Write(pkt Packet) error {
	if m.failAt > 0 && len(m.packets)+1 == m.failAt {
		return errors.New("sink is full")
	}

	m.packets = append(m.packets, pkt)
	return nil
}

func Test_GeneratorSplitsCores(t *testing.T) {
	s, err := New("udp", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)

	cfg := DefaultGeneratorConfig()
	cfg.Cores = 2
	cfg.Packets = 2

	sink := &memorySink{}
	g := NewGenerator(cfg, []*Stream{s}, WithLog(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, g.Run(context.Background(), sink))
	require.Len(t, sink.packets, 4)

	seen := map[string]struct{}{}
	perCore := map[uint32][]uint64{}
	for _, pkt := range sink.packets {
		assert.Equal(t, "udp", pkt.Stream)
		seen[decodeIPv4(t, pkt.Data).SrcIP.String()] = struct{}{}
		perCore[pkt.Core] = append(perCore[pkt.Core], pkt.Seq)
	}

	assert.Len(t, seen, 4)
	assert.Equal(t, map[uint32][]uint64{0: {0, 1}, 1: {0, 1}}, perCore)
}

func Test_GeneratorMultipleStreams(t *testing.T) {
	a, err := New("a", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)
	b, err := New("b", makeUDPPacket(t, 64), nil)
	require.NoError(t, err)

	cfg := DefaultGeneratorConfig()
	cfg.Packets = 3

	sink := &memorySink{}
	require.NoError(t, NewGenerator(cfg, []*Stream{a, b}).Run(context.Background(), sink))

	names := []string{}
	for _, pkt := range sink.packets {
		names = append(names, pkt.Stream)
	}
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, names)
}

func Test_GeneratorSinkError(t *testing.T) {
	s, err := New("udp", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)

	cfg := DefaultGeneratorConfig()
	cfg.Cores = 4
	cfg.Packets = 100
	cfg.QueueSize = 1

	sink := &memorySink{failAt: 3}
	err = NewGenerator(cfg, []*Stream{s}).Run(context.Background(), sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink is full")
	assert.Len(t, sink.packets, 2)
}

func Test_GeneratorNoCores(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.Cores = 0

	err := NewGenerator(cfg, nil).Run(context.Background(), &memorySink{})
	require.ErrorIs(t, err, ErrNoCores)
}

func Test_GeneratorCanceled(t *testing.T) {
	s, err := New("udp", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)

	cfg := DefaultGeneratorConfig()
	cfg.Packets = 1 << 20
	cfg.QueueSize = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = NewGenerator(cfg, []*Stream{s}).Run(ctx, &memorySink{})
	require.ErrorIs(t, err, context.Canceled)
}

func Test_PcapSink(t *testing.T) {
	s, err := New("udp", makeUDPPacket(t, 32), srcIPInstructions())
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	sink, err := NewPcapSink(buf, 40*datasize.B)
	require.NoError(t, err)

	cfg := DefaultGeneratorConfig()
	cfg.Packets = 3
	require.NoError(t, NewGenerator(cfg, []*Stream{s}).Run(context.Background(), sink))

	r, err := pcapgo.NewReader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), r.Snaplen())

	count := 0
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		assert.Len(t, data, 40)
		assert.Equal(t, 40, ci.CaptureLength)
		assert.Equal(t, len(s.Packet()), ci.Length)
		assert.Equal(t, byte(count+1), data[29])
		count++
	}
	assert.Equal(t, 3, count)
}
