package xnetip

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Uint32 converts an IPv4 address into its numeric form.
func Uint32(addr netip.Addr) (uint32, error) {
	if !addr.Is4() && !addr.Is4In6() {
		return 0, fmt.Errorf("%s is not an IPv4 address", addr)
	}

	v4b := addr.Unmap().As4()
	return binary.BigEndian.Uint32(v4b[:]), nil
}

// Range4 returns the first and the last addresses of an IPv4 prefix in
// numeric form.
func Range4(prefix netip.Prefix) (uint32, uint32, error) {
	if !prefix.IsValid() {
		return 0, 0, fmt.Errorf("invalid prefix %s", prefix)
	}
	if !prefix.Addr().Is4() {
		return 0, 0, fmt.Errorf("%s is not an IPv4 prefix", prefix)
	}

	first, err := Uint32(prefix.Masked().Addr())
	if err != nil {
		return 0, 0, err
	}
	wildcardBits := uint32(uint64(1)<<(32-prefix.Bits()) - 1)

	return first, first | wildcardBits, nil
}
