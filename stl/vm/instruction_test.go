package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FlowVarReducesStep(t *testing.T) {
	v := NewFlowVar("v", 1, OpInc, 0, 0, 9, 23)

	assert.Equal(t, uint64(3), v.Step)
	assert.Equal(t, uint64(2), v.WrapArounds)
	assert.Equal(t, uint64(2), v.WrapCount(1))
	assert.Equal(t, uint64(9), v.WrapCount(4))
}

func Test_FlowVarPeek(t *testing.T) {
	v := NewFlowVar("v", 1, OpInc, 5, 0, 9, 3)

	assert.Equal(t, uint64(8), v.PeekNext(1))
	assert.Equal(t, uint64(1), v.PeekNext(2))
	assert.Equal(t, uint64(2), v.PeekPrev(1))
	assert.Equal(t, uint64(9), v.PeekPrev(2))

	d := NewFlowVar("d", 1, OpDec, 9, 0, 9, 1)
	assert.Equal(t, uint64(7), d.PeekNext(2))
	assert.Equal(t, uint64(0), d.PeekPrev(1))
}

func Test_FlowVarSplit(t *testing.T) {
	v := NewFlowVar("v", 1, OpInc, 0, 0, 9, 3)
	v.Split(1, 2)

	assert.Equal(t, uint64(3), v.Init)
	assert.Equal(t, uint64(6), v.Step)
	assert.Equal(t, uint64(0), v.WrapArounds)

	d := NewFlowVar("d", 1, OpDec, 9, 0, 9, 1)
	d.Split(2, 4)

	assert.Equal(t, uint64(7), d.Init)
	assert.Equal(t, uint64(4), d.Step)
}

func Test_FlowVarRandomIsNotSplit(t *testing.T) {
	v := NewFlowVar("v", 2, OpRandom, 0, 0, 100, 1)
	assert.False(t, v.NeedSplit())

	v = NewFlowVar("v", 2, OpInc, 0, 0, 100, 1)
	v.SingleCore = true
	assert.False(t, v.NeedSplit())
}

func Test_FlowVarList(t *testing.T) {
	values := []uint64{10, 20, 30}
	v := NewFlowVarList("l", 2, OpDec, values, 1)

	assert.True(t, v.IsList())
	assert.Equal(t, uint64(2), v.Init)
	assert.Equal(t, uint64(2), v.Max)

	values[0] = 0
	assert.Equal(t, uint64(10), v.Values[0])
}

func Test_FlowVarClone(t *testing.T) {
	v := NewFlowVarList("l", 2, OpInc, []uint64{1, 2}, 1)
	c := v.Clone().(*FlowVar)
	c.Values[0] = 42
	c.Init = 1

	assert.Equal(t, uint64(1), v.Values[0])
	assert.Equal(t, uint64(0), v.Init)
}

func Test_FlowRandLimitSplit(t *testing.T) {
	v := NewFlowRandLimit("r", 2, 10, 0, 100, 1)
	v.Split(0, 3)

	assert.Equal(t, uint32(514229), v.Seed)
	assert.Equal(t, uint64(4), v.Limit)

	w := NewFlowRandLimit("r", 2, 10, 0, 100, 1)
	w.Split(1, 3)

	assert.Equal(t, uint32(2*514229), w.Seed)
	assert.Equal(t, uint64(3), w.Limit)
}

func Test_FlowClientInit(t *testing.T) {
	v := NewFlowClient("c", 0x0a000001, 0x0a000005, 1024, 1028, 3, 0)

	ip, port := v.Init()
	assert.Equal(t, uint32(0x0a000001), ip)
	assert.Equal(t, uint16(1024), port)

	minIP, maxIP := v.IPRange()
	assert.Equal(t, uint32(0x0a000001), minIP)
	assert.Equal(t, uint32(0x0a000005), maxIP)

	ip, port = v.peekPrev()
	assert.Equal(t, uint32(0x0a000005), ip)
	assert.Equal(t, uint16(1028), port)
}

func Test_FlowClientSplit(t *testing.T) {
	v := NewFlowClient("c", 1, 4, 10, 11, 5, 0)
	c := v.Clone().(*FlowClient)
	c.Split(1, 2)

	ip, port := c.Init()
	assert.Equal(t, uint32(2), ip)
	assert.Equal(t, uint16(10), port)
	assert.Equal(t, uint32(2), c.LimitFlows)

	// The cloned-from variable is untouched.
	ip, _ = v.Init()
	require.Equal(t, uint32(1), ip)
	assert.Equal(t, uint32(5), v.LimitFlows)
}
