package vm

import (
	"encoding/binary"
)

// initBSS builds the initial BSS image.
//
// Counters are stored one step behind their Init, so that the first run
// yields Init. A variable reached through "next_var" is stored that way
// only if its predecessor carries on the first run; otherwise it keeps its
// Init until the first carry.
func initBSS(instructions []Instruction, table *varTable, seed uint32) []byte {
	bss := make([]byte, table.Size)
	if table.HasRandom {
		binary.LittleEndian.PutUint32(bss, seed)
	}

	carry := false
	for idx, ins := range instructions {
		v, ok := ins.(Var)
		if !ok {
			carry = false
			continue
		}

		advance := !table.Chained[idx] || carry
		switch v := v.(type) {
		case *FlowVar:
			rec, _ := table.Lookup(v.Name)
			carry = initFlowVar(bss[rec.Offset:], v, advance)
		case *FlowRandLimit:
			rec, _ := table.Lookup(v.Name)
			carry = initFlowRandLimit(bss[rec.Offset:], v, advance)
		case *FlowClient:
			rec, _ := table.Lookup(v.Name + ".ip")
			initFlowClient(bss[rec.Offset:], v)
			carry = false
		}
	}

	return bss
}

func initFlowVar(b []byte, v *FlowVar, advance bool) bool {
	pos, carry := v.Init, false
	if advance {
		pos, carry = v.peek(1, false, false)
		if v.Op == OpRandom {
			carry = true
		}
	}

	if v.IsList() {
		storeLE(b, v.Size, v.Values[pos])
		binary.LittleEndian.PutUint16(b[v.Size:], uint16(pos))
	} else {
		storeLE(b, v.Size, pos)
	}

	return advance && carry
}

// initFlowRandLimit stores the seed with a zero draw counter. When the
// variable will not run on the first packet, its first value is drawn
// here.
func initFlowRandLimit(b []byte, v *FlowRandLimit, advance bool) bool {
	w := v.Size
	seed := v.Seed
	value, cnt := uint64(0), uint64(0)
	if !advance {
		value = randRange(&seed, w, v.Min, v.Max)
		cnt = 1
	}

	storeLE(b, w, value)
	storeLE(b[w:], w, cnt)
	binary.LittleEndian.PutUint32(b[2*w:], seed)

	return false
}

func initFlowClient(b []byte, v *FlowClient) {
	var ip uint32
	var port uint16

	if v.IsUnlimited() {
		prevIP, of := v.ip.peek(1, false, false)
		ip = uint32(prevIP)
		wraps := v.ip.WrapArounds
		if of {
			wraps++
		}
		port = rewindUnlimitedPort(uint16(v.port.Init), wraps)
	} else {
		ip, port = v.peekPrev()
	}

	binary.LittleEndian.PutUint32(b, ip)
	binary.LittleEndian.PutUint16(b[4:], port)
	binary.LittleEndian.PutUint32(b[6:], 0)
}
