package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func Test_Value(t *testing.T) {
	var v struct {
		Num  Value   `yaml:"num"`
		Hex  Value   `yaml:"hex"`
		Addr Value   `yaml:"addr"`
		List []Value `yaml:"list"`
	}

	data := []byte("num: 42\nhex: 0x10\naddr: 10.0.0.1\nlist: [1, 192.168.0.1]\n")
	require.NoError(t, yaml.Unmarshal(data, &v))

	assert.Equal(t, Value(42), v.Num)
	assert.Equal(t, Value(16), v.Hex)
	assert.Equal(t, Value(0x0a000001), v.Addr)
	assert.Equal(t, []uint64{1, 0xc0a80001}, values(v.List))

	assert.Error(t, yaml.Unmarshal([]byte("num: abc\n"), &v))
	assert.Error(t, yaml.Unmarshal([]byte("num: 2001:db8::1\n"), &v))
}

func Test_Offset(t *testing.T) {
	var v struct {
		A Offset `yaml:"a"`
		B Offset `yaml:"b"`
		C Offset `yaml:"c"`
	}

	data := []byte("a: 26\nb: ipv4.src\nc: ipv4.src+3\n")
	require.NoError(t, yaml.Unmarshal(data, &v))

	assert.Equal(t, Offset{Value: 26}, v.A)
	assert.Equal(t, Offset{Field: "ipv4.src"}, v.B)
	assert.Equal(t, Offset{Field: "ipv4.src", Bias: 3}, v.C)
	assert.Equal(t, "ipv4.src+3", v.C.String())

	layout := Layout{"ipv4.src": 26}
	offset, err := layout.resolve(v.C)
	require.NoError(t, err)
	assert.Equal(t, uint16(29), offset)

	_, err = layout.resolve(Offset{Field: "ipv4.dst"})
	assert.Error(t, err)
}
