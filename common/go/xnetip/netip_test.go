package xnetip

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Range4(t *testing.T) {
	tests := []struct {
		prefix string
		first  uint32
		last   uint32
	}{
		{"0.0.0.0/0", 0, 0xffffffff},
		{"10.0.0.0/8", 0x0a000000, 0x0affffff},
		{"10.0.0.0/30", 0x0a000000, 0x0a000003},
		{"192.168.1.0/24", 0xc0a80100, 0xc0a801ff},
		{"192.168.1.0/31", 0xc0a80100, 0xc0a80101},
		{"192.168.1.1/32", 0xc0a80101, 0xc0a80101},
		{"192.168.1.33/28", 0xc0a80120, 0xc0a8012f},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			first, last, err := Range4(netip.MustParsePrefix(tt.prefix))
			require.NoError(t, err)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}

	_, _, err := Range4(netip.MustParsePrefix("2001:db8::/64"))
	assert.Error(t, err)
	_, _, err = Range4(netip.Prefix{})
	assert.Error(t, err)
}

func Test_Uint32(t *testing.T) {
	v, err := Uint32(netip.MustParseAddr("10.1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0a010203), v)

	v, err = Uint32(netip.MustParseAddr("::ffff:10.1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0a010203), v)

	_, err = Uint32(netip.MustParseAddr("2001:db8::1"))
	assert.Error(t, err)
}
