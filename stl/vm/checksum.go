package vm

import (
	"encoding/binary"
	"strings"

	"gvisor.dev/gvisor/pkg/tcpip/checksum"
)

// OffloadFlags tell the transmit path which checksums the NIC must fill.
type OffloadFlags uint64

const (
	OffloadIPv4 OffloadFlags = 1 << iota
	OffloadIPv6
	OffloadIPChecksum
	OffloadTCPChecksum
	OffloadUDPChecksum
)

func (m OffloadFlags) String() string {
	if m == 0 {
		return "none"
	}

	names := []string{}
	for _, f := range []struct {
		flag OffloadFlags
		name string
	}{
		{OffloadIPv4, "ipv4"},
		{OffloadIPv6, "ipv6"},
		{OffloadIPChecksum, "ip_csum"},
		{OffloadTCPChecksum, "tcp_csum"},
		{OffloadUDPChecksum, "udp_csum"},
	} {
		if m&f.flag != 0 {
			names = append(names, f.name)
		}
	}

	return strings.Join(names, "|")
}

// Offload is the checksum offload request produced by FixChecksumHW.
type Offload struct {
	L2Len uint16
	L3Len uint16
	Flags OffloadFlags
}

const (
	ipv4ChecksumOffset   = 10
	tcpChecksumOffset    = 16
	udpChecksumOffset    = 6
	icmpv6ChecksumOffset = 2
)

// fixIPv4Checksum recomputes the header checksum of the IPv4 header at the
// start of "ip".
func fixIPv4Checksum(ip []byte) {
	hdrLen := ipv4HeaderLen
	if ip[0] != 0x45 {
		hdrLen = int(ip[0]&0x0f) * 4
	}

	ip[ipv4ChecksumOffset] = 0
	ip[ipv4ChecksumOffset+1] = 0
	checksum.Put(ip[ipv4ChecksumOffset:], ^checksum.Checksum(ip[:hdrLen], 0))
}

// pseudoHeaderChecksum returns the folded, non-inverted sum of the
// pseudo-header for the L4 segment following the IP header.
func pseudoHeaderChecksum(ip []byte, l3Len int, ipv4 bool, proto uint8) uint16 {
	if ipv4 {
		total := int(binary.BigEndian.Uint16(ip[2:4]))
		l4Len := uint16(max(total-l3Len, 0))

		xsum := checksum.Checksum(ip[12:20], 0)
		xsum = checksum.Checksum([]byte{0, proto}, xsum)
		return checksum.Combine(xsum, l4Len)
	}

	// The extension headers are part of "l3Len" but not of the L4 length.
	payload := int(binary.BigEndian.Uint16(ip[4:6]))
	l4Len := uint16(max(payload-(l3Len-ipv6HeaderLen), 0))

	xsum := checksum.Checksum(ip[8:40], 0)
	xsum = checksum.Checksum([]byte{0, proto}, xsum)
	return checksum.Combine(xsum, l4Len)
}

// fixICMPv6Checksum recomputes the ICMPv6 checksum over the pseudo-header
// and the message bounded by the IPv6 payload length and the packet end.
func fixICMPv6Checksum(pkt []byte, l2Len int, l3Len int) {
	ip := pkt[l2Len:]
	msg := pkt[l2Len+l3Len:]

	payload := int(binary.BigEndian.Uint16(ip[4:6]))
	msgLen := min(max(payload-(l3Len-ipv6HeaderLen), icmpv6HeaderLen), len(msg))
	msg = msg[:msgLen]

	msg[icmpv6ChecksumOffset] = 0
	msg[icmpv6ChecksumOffset+1] = 0

	xsum := checksum.Checksum(ip[8:40], 0)
	xsum = checksum.Checksum([]byte{0, 58}, xsum)
	xsum = checksum.Combine(xsum, uint16(msgLen))
	xsum = checksum.Checksum(msg, xsum)
	checksum.Put(msg[icmpv6ChecksumOffset:], ^xsum)
}
