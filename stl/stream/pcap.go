package stream

import (
	"fmt"
	"io"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// PcapSink writes packets into a pcap stream.
//
// Timestamps start at "Start" and grow by "Interval" per packet, so the
// output is reproducible.
type PcapSink struct {
	w        *pcapgo.Writer
	snaplen  int
	start    time.Time
	interval time.Duration
	count    int64
}

// NewPcapSink writes the pcap file header and returns the sink.
func NewPcapSink(w io.Writer, snaplen datasize.ByteSize) (*PcapSink, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(snaplen.Bytes()), layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	return &PcapSink{
		w:        pw,
		snaplen:  int(snaplen.Bytes()),
		start:    time.Unix(0, 0).UTC(),
		interval: time.Microsecond,
	}, nil
}

func (m *PcapSink) Write(pkt Packet) error {
	data := pkt.Data
	if len(data) > m.snaplen {
		data = data[:m.snaplen]
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     m.start.Add(time.Duration(m.count) * m.interval),
		CaptureLength: len(data),
		Length:        len(pkt.Data),
	}
	m.count++

	return m.w.WritePacket(ci, data)
}
